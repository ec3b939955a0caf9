package server

import (
	"log"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"driftserver/index"
	"driftserver/sharelink"
	"driftserver/vpath"
)

// DownloadHandler serves a raw file download with proper Content-Type and
// Content-Length headers so the browser can show progress. Every completed
// request is recorded in the transfer statistics.
func DownloadHandler(s *index.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serveFile(w, r, s, path.Clean("/"+r.URL.Path))
	}
}

// ShareHandler resolves a share token and serves its target. Directory
// targets stream as archives.
func ShareHandler(s *index.Store, links *sharelink.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := path.Base(r.URL.Path)
		target, ok := links.Resolve(token)
		if !ok {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		real := vpath.AddFilesPath(s.Root(), target)
		if fi, err := os.Stat(real); err == nil && fi.IsDir() {
			serveZip(w, r, s, target)
			return
		}
		serveFile(w, r, s, target)
	}
}

// serveFile streams one file, attachment-disposed, through ServeContent so
// range requests work.
func serveFile(w http.ResponseWriter, r *http.Request, s *index.Store, virtual string) {
	if !vpath.IsPathSane(virtual, true) {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	real := vpath.AddFilesPath(s.Root(), virtual)

	info, err := os.Stat(real)
	if err != nil || info.IsDir() {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	ip := remoteIP(r)
	log.Printf("download start  ip=%-15s size=%-10s file=%s", ip, humanize.Bytes(uint64(info.Size())), virtual)
	start := time.Now()

	f, err := os.Open(real)
	if err != nil {
		http.Error(w, "Could not open file", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", contentType(real))
	w.Header().Set("Content-Disposition", "attachment; filename="+strconv.Quote(filepath.Base(real)))
	http.ServeContent(w, r, filepath.Base(real), info.ModTime(), f)

	RecordDownload(info.Size())
	log.Printf("download done   ip=%-15s size=%-10s duration=%s file=%s",
		ip, humanize.Bytes(uint64(info.Size())), time.Since(start).Round(time.Millisecond), virtual)
}

// contentType resolves a Content-Type from the filename extension, falling
// back to octet-stream.
func contentType(name string) string {
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}
