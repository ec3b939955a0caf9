package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"driftserver/fsops"
	"driftserver/index"
	"driftserver/models"
	"driftserver/sharelink"
)

// opRequest is the JSON body accepted by every mutation endpoint.
type opRequest struct {
	Path  string   `json:"path"`
	Dst   string   `json:"dst,omitempty"`
	Kind  string   `json:"kind,omitempty"`
	Data  string   `json:"data,omitempty"`
	Paths []string `json:"paths,omitempty"`
}

// LsHandler serves one directory's entries from the index.
func LsHandler(s *index.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p := r.URL.Query().Get("path")
		if p == "" {
			p = "/"
		}
		entries, ok := s.Ls(p)
		if !ok {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		encodeJSON(w, models.Listing{Path: p, Entries: entries})
	}
}

// SearchHandler serves substring search results scoped to a directory.
func SearchHandler(s *index.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		scope := r.URL.Query().Get("scope")
		if scope == "" {
			scope = "/"
		}
		if q == "" {
			http.Error(w, "Missing query", http.StatusBadRequest)
			return
		}
		encodeJSON(w, models.SearchResult{Query: q, Scope: scope, Entries: s.Search(q, scope)})
	}
}

// MutateHandler dispatches the mutation endpoints. Each operation reports a
// single error string per failed path; a batch delete reports per item.
func MutateHandler(op string, s *index.Store, links *sharelink.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req opRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Bad request body", http.StatusBadRequest)
			return
		}

		if op == "del" && len(req.Paths) > 0 {
			results := make([]models.OpResult, 0, len(req.Paths))
			for _, p := range req.Paths {
				results = append(results, opResult(p, deleteOne(s, links, p)))
			}
			encodeJSON(w, results)
			return
		}

		var (
			err   error
			final = req.Path
		)
		switch op {
		case "mk":
			err = s.Mk(req.Path)
		case "mkdir":
			err = s.Mkdir(req.Path)
		case "del":
			err = deleteOne(s, links, req.Path)
		case "save":
			err = s.Save(req.Path, []byte(req.Data))
		case "move":
			err = s.Move(req.Path, req.Dst)
			if err == nil {
				final = req.Dst
				retarget(links, req.Path, req.Dst)
			}
		case "copy":
			err = s.Cp(req.Path, req.Dst)
			if err == nil {
				final = req.Dst
			}
		case "clipboard":
			final, err = s.Clipboard(req.Path, req.Dst, req.Kind)
			if err == nil && req.Kind == index.ClipCut {
				retarget(links, req.Path, final)
			}
		default:
			http.Error(w, "Unknown operation", http.StatusNotFound)
			return
		}

		res := opResult(final, err)
		if err != nil {
			w.WriteHeader(statusFor(err))
		}
		encodeJSON(w, res)
	}
}

// deleteOne removes a path and drops any share links pointing into it.
func deleteOne(s *index.Store, links *sharelink.Store, p string) error {
	if err := s.Del(p); err != nil {
		return err
	}
	if links != nil {
		if err := links.DropTarget(p); err != nil {
			log.Printf("sharelink: drop %s: %v", p, err)
		}
	}
	return nil
}

// retarget rewrites share links after a completed move. Link maintenance is
// best-effort; the move itself has already succeeded.
func retarget(links *sharelink.Store, src, dst string) {
	if links == nil {
		return
	}
	if err := links.Retarget(src, dst); err != nil {
		log.Printf("sharelink: retarget %s -> %s: %v", src, dst, err)
	}
}

// ShareCreateHandler mints a share token for an indexed path.
func ShareCreateHandler(s *index.Store, links *sharelink.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req opRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Bad request body", http.StatusBadRequest)
			return
		}
		if !s.Exists(req.Path) {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		token, err := links.Create(req.Path)
		if err != nil {
			http.Error(w, "Could not create link", http.StatusInternalServerError)
			return
		}
		encodeJSON(w, models.ShareResponse{Token: token, Target: req.Path})
	}
}

func opResult(p string, err error) models.OpResult {
	if err != nil {
		return models.OpResult{Path: p, Error: err.Error()}
	}
	return models.OpResult{Path: p, OK: true}
}

// statusFor maps core error categories onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, index.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, index.ErrReadOnly):
		return http.StatusForbidden
	case errors.Is(err, fsops.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, fsops.ErrExists):
		return http.StatusConflict
	case errors.Is(err, fsops.ErrPermission):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// encodeJSON buffers the encoding so failures can still produce a proper
// HTTP status instead of a half-written body.
func encodeJSON(w http.ResponseWriter, v interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		http.Error(w, "JSON encoding error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(buf.Bytes())
}
