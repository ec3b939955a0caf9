// driftserver – a browser-accessible file server with a coherent in-memory
// index of the served tree.
package main

import (
	"log"

	"driftserver/config"
	"driftserver/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}

	if err := server.Run(cfg); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
