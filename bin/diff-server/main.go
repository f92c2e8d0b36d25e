package main

import (
	"context"
	"flag"
	"log"

	"whatschanging/internal/env"
	"whatschanging/internal/runnable"
	"whatschanging/internal/storage"
)

func main() {
	if err := env.Load(); err != nil {
		log.Fatalf("Failed to load environment: %v", err)
	}

	var storageBackend string
	var debug bool
	flag.StringVar(&storageBackend, "storage-backend", env.OrDefault("STORAGE_BACKEND", ""), "Storage backend for diffs (file or s3); empty returns diffs inline only")
	flag.BoolVar(&debug, "debug", env.OrDefault("DEBUG", false), "Enable text logs and pprof endpoints")
	flag.Parse()

	ctx := context.Background()

	var s storage.Storage
	if storageBackend != "" {
		var err error
		s, err = storage.New(ctx, storage.Config{
			Backend:   storageBackend,
			Directory: env.OrDefault("DIRECTORY", "/tmp"),
			Bucket:    env.OrDefault("S3_BUCKET", ""),
		})
		if err != nil {
			log.Fatalf("Failed to create storage backend: %v", err)
		}
	}

	runnable.Debug = debug
	server := runnable.NewServer(s)
	if err := server.Start(ctx); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
