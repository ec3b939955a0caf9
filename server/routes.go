package server

import (
	"net/http"

	"driftserver/index"
	"driftserver/sharelink"
)

// registerRoutes attaches all handlers to the given mux.
func registerRoutes(mux *http.ServeMux, s *index.Store, links *sharelink.Store, hub *UpdateHub, sh *Shaper, gate Gate) {
	// Query surface
	mux.HandleFunc("/api/ls", LsHandler(s))
	mux.HandleFunc("/api/search", SearchHandler(s))

	// Mutations
	for _, op := range []string{"mk", "mkdir", "del", "save", "move", "copy", "clipboard"} {
		mux.Handle("/api/"+op, gated(gate, MutateHandler(op, s, links)))
	}

	// Update feed (SSE)
	mux.Handle("/api/updates", hub)

	// Share links
	mux.Handle("/api/share", gated(gate, ShareCreateHandler(s, links)))
	mux.Handle("/share/", sh.Wrap(ShareHandler(s, links)))

	// Raw downloads and directory archives (shaped, counted in stats)
	mux.Handle("/dl/", sh.Wrap(http.StripPrefix("/dl", DownloadHandler(s))))
	mux.Handle("/zip/", sh.Wrap(http.StripPrefix("/zip", ZipHandler(s))))

	// Uploads (shaped on the request body)
	mux.Handle("/upload", gated(gate, sh.Wrap(UploadHandler(s))))
}
