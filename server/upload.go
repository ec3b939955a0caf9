package server

import (
	"log"
	"net/http"
	"path"
	"time"

	"github.com/dustin/go-humanize"

	"driftserver/index"
	"driftserver/models"
)

// UploadHandler accepts multipart uploads into the directory named by the
// "path" query parameter. Each part streams to disk under the temporary
// upload suffix and is renamed into place on completion, then the index is
// patched. Results are reported per file so one failed part does not mask
// the rest of the batch.
func UploadHandler(s *index.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		dir := r.URL.Query().Get("path")
		if dir == "" {
			dir = "/"
		}

		mr, err := r.MultipartReader()
		if err != nil {
			http.Error(w, "Expected multipart body", http.StatusBadRequest)
			return
		}

		ip := remoteIP(r)
		var results []models.OpResult
		for {
			part, err := mr.NextPart()
			if err != nil {
				break
			}
			name := part.FileName()
			if name == "" {
				part.Close()
				continue
			}
			dst := path.Join(dir, path.Base(name))
			start := time.Now()
			n, serr := s.SaveFrom(dst, part)
			part.Close()
			if serr != nil {
				log.Printf("upload failed   ip=%-15s file=%s err=%v", ip, dst, serr)
				results = append(results, models.OpResult{Path: dst, Error: serr.Error()})
				continue
			}
			RecordUpload(n)
			log.Printf("upload done     ip=%-15s size=%-10s duration=%s file=%s",
				ip, humanize.Bytes(uint64(n)), time.Since(start).Round(time.Millisecond), dst)
			results = append(results, models.OpResult{Path: dst, OK: true})
		}
		encodeJSON(w, results)
	}
}
