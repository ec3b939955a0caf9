package server

import (
	"archive/zip"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"driftserver/index"
	"driftserver/vpath"
)

// ZipHandler streams a directory as a ZIP archive. The entry list comes
// from the index, not a fresh disk walk.
func ZipHandler(s *index.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serveZip(w, r, s, path.Clean("/"+r.URL.Path))
	}
}

func serveZip(w http.ResponseWriter, r *http.Request, s *index.Store, virtual string) {
	if _, ok := s.Get(virtual); !ok {
		http.Error(w, "Not a directory", http.StatusBadRequest)
		return
	}

	name := path.Base(virtual)
	if virtual == "/" {
		name = "root"
	}

	ip := remoteIP(r)
	log.Printf("zip start       ip=%-15s dir=%s", ip, virtual)
	start := time.Now()

	files := s.FilesUnder(virtual)
	entries := make([]zipEntry, 0, len(files))
	prefix := virtual + "/"
	if virtual == "/" {
		prefix = "/"
	}
	for _, f := range files {
		entries = append(entries, zipEntry{
			realPath: vpath.AddFilesPath(s.Root(), f.Path),
			zipName:  name + "/" + strings.TrimPrefix(f.Path, prefix),
		})
	}

	// Stored (uncompressed) entries make the archive byte-exact across
	// passes, so a first pass into a counter yields the Content-Length and
	// the second pass streams the identical bytes to the client. No temp
	// files or memory buffers are needed.
	size, err := archiveSize(entries)
	if err != nil {
		http.Error(w, "Could not build archive", http.StatusInternalServerError)
		log.Printf("zip error       ip=%-15s dir=%s err=%v", ip, virtual, err)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.zip"`, name))
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))

	if err := writeArchive(w, entries); err != nil {
		log.Printf("zip error       ip=%-15s dir=%s err=%v", ip, virtual, err)
	} else {
		RecordDownload(size)
	}
	log.Printf("zip done        ip=%-15s duration=%s dir=%s",
		ip, time.Since(start).Round(time.Millisecond), virtual)
}

// zipEntry describes a single file to be added to an archive.
type zipEntry struct {
	realPath string
	zipName  string
}

// byteCounter discards writes while tallying their length.
type byteCounter int64

func (c *byteCounter) Write(p []byte) (int, error) {
	*c += byteCounter(len(p))
	return len(p), nil
}

// archiveSize streams the archive into a counter to learn its exact size.
func archiveSize(entries []zipEntry) (int64, error) {
	var c byteCounter
	if err := writeArchive(&c, entries); err != nil {
		return 0, err
	}
	return int64(c), nil
}

// writeArchive streams every entry into w as one ZIP archive.
func writeArchive(w io.Writer, entries []zipEntry) error {
	zw := zip.NewWriter(w)
	for _, e := range entries {
		if err := addArchiveEntry(zw, e); err != nil {
			return err
		}
	}
	return zw.Close()
}

// addArchiveEntry copies one file into the archive uncompressed. An entry
// that cannot be opened is skipped, matching the scanner's tolerance for
// unreadable paths.
func addArchiveEntry(zw *zip.Writer, e zipEntry) error {
	f, err := os.Open(e.realPath)
	if err != nil {
		return nil
	}
	defer f.Close()

	dst, err := zw.CreateHeader(&zip.FileHeader{Name: e.zipName, Method: zip.Store})
	if err != nil {
		return err
	}
	_, err = io.Copy(dst, f)
	return err
}
