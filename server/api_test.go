package server

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"driftserver/index"
	"driftserver/models"
	"driftserver/sharelink"
)

// newTestServer builds a full route stack over a seeded temp root.
func newTestServer(t *testing.T) (*http.ServeMux, *index.Store, *sharelink.Store) {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "docs"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "docs", "readme.txt"), []byte("hello world"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := index.NewStore(index.Options{Root: root})
	if err := index.Init(s); err != nil {
		t.Fatalf("Init: %v", err)
	}

	links, err := sharelink.Open(filepath.Join(t.TempDir(), "links.db"))
	if err != nil {
		t.Fatalf("sharelink.Open: %v", err)
	}
	t.Cleanup(func() { links.Close() })

	InitStats(t.TempDir())

	mux := http.NewServeMux()
	registerRoutes(mux, s, links, NewUpdateHub(), NewShaper(0), OpenGate{})
	return mux, s, links
}

func TestLsEndpoint(t *testing.T) {
	mux, _, _ := newTestServer(t)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("GET", "/api/ls?path=/docs", nil))
	if w.Code != 200 {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var listing models.Listing
	if err := json.Unmarshal(w.Body.Bytes(), &listing); err != nil {
		t.Fatalf("decode: %v", err)
	}
	line, ok := listing.Entries["readme.txt"]
	if !ok {
		t.Fatalf("readme.txt missing from listing: %v", listing.Entries)
	}
	if !strings.HasPrefix(line, "f|") || !strings.HasSuffix(line, "|11") {
		t.Errorf("entry line = %q", line)
	}
}

func TestLsUnknownPathIs404(t *testing.T) {
	mux, _, _ := newTestServer(t)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("GET", "/api/ls?path=/nope", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestMutationEndpoints(t *testing.T) {
	mux, s, _ := newTestServer(t)

	post := func(op, body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/api/"+op, strings.NewReader(body))
		mux.ServeHTTP(w, req)
		return w
	}

	if w := post("mkdir", `{"path":"/new"}`); w.Code != 200 {
		t.Fatalf("mkdir status = %d, body %s", w.Code, w.Body.String())
	}
	if w := post("save", `{"path":"/new/note.txt","data":"hi there"}`); w.Code != 200 {
		t.Fatalf("save status = %d", w.Code)
	}
	if w := post("move", `{"path":"/new/note.txt","dst":"/docs/note.txt"}`); w.Code != 200 {
		t.Fatalf("move status = %d", w.Code)
	}

	d, ok := s.Get("/docs")
	if !ok {
		t.Fatal("/docs missing")
	}
	if _, ok := d.Files["note.txt"]; !ok {
		t.Error("moved file missing from index")
	}

	// Deleting a missing path maps the adapter category to 404.
	if w := post("del", `{"path":"/ghost"}`); w.Code != http.StatusNotFound {
		t.Errorf("del missing status = %d, want 404", w.Code)
	}

	// Invalid rename is rejected with 400 before touching disk.
	if w := post("move", `{"path":"/docs","dst":"/docs/inside"}`); w.Code != http.StatusBadRequest {
		t.Errorf("self-move status = %d, want 400", w.Code)
	}
}

func TestBatchDeleteReportsPerItem(t *testing.T) {
	mux, _, _ := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/del", strings.NewReader(`{"paths":["/docs/readme.txt","/ghost"]}`))
	mux.ServeHTTP(w, req)
	if w.Code != 200 {
		t.Fatalf("status = %d", w.Code)
	}

	var results []models.OpResult
	if err := json.Unmarshal(w.Body.Bytes(), &results); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results", len(results))
	}
	if !results[0].OK || results[1].OK {
		t.Errorf("per-item results = %+v", results)
	}
	if results[1].Error == "" {
		t.Error("failed item carries no error string")
	}
}

func TestDownload(t *testing.T) {
	mux, _, _ := newTestServer(t)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("GET", "/dl/docs/readme.txt", nil))
	if w.Code != 200 {
		t.Fatalf("status = %d", w.Code)
	}
	if w.Body.String() != "hello world" {
		t.Errorf("body = %q", w.Body.String())
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "readme.txt") {
		t.Errorf("Content-Disposition = %q", cd)
	}
}

func TestZipDownload(t *testing.T) {
	mux, _, _ := newTestServer(t)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("GET", "/zip/docs", nil))
	if w.Code != 200 {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/zip" {
		t.Errorf("Content-Type = %q", ct)
	}
	if cl := w.Header().Get("Content-Length"); cl == "" || cl == "0" {
		t.Errorf("Content-Length = %q", cl)
	}
	if got := int64(w.Body.Len()); got != int64(mustAtoi(t, w.Header().Get("Content-Length"))) {
		t.Errorf("body length %d != declared %s", got, w.Header().Get("Content-Length"))
	}
}

func TestUpload(t *testing.T) {
	mux, s, _ := newTestServer(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("files", "upload.bin")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write(make([]byte, 256)); err != nil {
		t.Fatal(err)
	}
	mw.Close()

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/upload?path=/docs", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	mux.ServeHTTP(w, req)
	if w.Code != 200 {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	d, _ := s.Get("/docs")
	f, ok := d.Files["upload.bin"]
	if !ok {
		t.Fatal("uploaded file missing from index")
	}
	if f.Size != 256 {
		t.Errorf("indexed size = %d, want 256", f.Size)
	}
}

func TestShareRoundTrip(t *testing.T) {
	mux, _, links := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/share", strings.NewReader(`{"path":"/docs/readme.txt"}`))
	mux.ServeHTTP(w, req)
	if w.Code != 200 {
		t.Fatalf("share status = %d", w.Code)
	}
	var resp models.ShareResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}

	dlw := httptest.NewRecorder()
	mux.ServeHTTP(dlw, httptest.NewRequest("GET", "/share/"+resp.Token, nil))
	if dlw.Code != 200 {
		t.Fatalf("share download status = %d", dlw.Code)
	}
	if dlw.Body.String() != "hello world" {
		t.Errorf("share body = %q", dlw.Body.String())
	}

	// After a move through the API the link follows the file.
	mv := httptest.NewRecorder()
	mux.ServeHTTP(mv, httptest.NewRequest("POST", "/api/move",
		strings.NewReader(`{"path":"/docs/readme.txt","dst":"/docs/renamed.txt"}`)))
	if mv.Code != 200 {
		t.Fatalf("move status = %d", mv.Code)
	}
	target, ok := links.Resolve(resp.Token)
	if !ok || target != "/docs/renamed.txt" {
		t.Errorf("retargeted link = %q, %v", target, ok)
	}
}

func mustAtoi(t *testing.T, s string) int {
	t.Helper()
	var n int
	for _, c := range s {
		if c < '0' || c > '9' {
			t.Fatalf("not a number: %q", s)
		}
		n = n*10 + int(c-'0')
	}
	return n
}
