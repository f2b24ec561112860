// Package main implements the entry point for the ratchet daemon, which
// hosts the shared task executor, the background job queue, the tiered
// cache, and the storage selector behind a small operational HTTP surface.
package main

import (
	"context"
	"log"
)

func main() {
	app, err := newApplication()
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	if err := app.startHTTPServer(context.Background()); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
