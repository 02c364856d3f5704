package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dvloznov/networth-tracker/internal/gcsuploader"
	"github.com/dvloznov/networth-tracker/internal/logger"
)

func main() {
	log := logger.New()

	var (
		bucketName string
		objectName string
		filePath   string
	)

	flag.StringVar(&bucketName, "bucket", os.Getenv("GCS_BUCKET"), "GCS bucket name (or set GCS_BUCKET env)")
	flag.StringVar(&objectName, "object", "", "GCS object name (optional; defaults to feeds/<date>/<file name>)")
	flag.StringVar(&filePath, "file", "", "Path to local feed JSON file (required)")
	flag.Parse()

	if bucketName == "" || filePath == "" {
		log.Fatal().Msg("Usage: upload-feed -bucket BUCKET_NAME -file /path/to/feed.json [-object OBJECT_NAME]")
	}

	if objectName == "" {
		objectName = "feeds/" + time.Now().UTC().Format("2006-01-02") + "/" + filepath.Base(filePath)
	}

	ctx := logger.WithContext(context.Background(), log)

	f, err := os.Open(filePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open feed")
	}
	defer f.Close()

	svc, err := gcsuploader.NewGCSStorageService(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create GCS client")
	}
	defer svc.Close()

	log.Info().
		Str("bucket", bucketName).
		Str("object", objectName).
		Str("file", filePath).
		Msg("Uploading feed to GCS")

	uri, err := svc.Upload(ctx, bucketName, objectName, "application/json", f)
	if err != nil {
		log.Fatal().Err(err).Msg("Upload failed")
	}

	fmt.Printf("Uploaded %s to %s\nIngest with: ingest -source %s\n", filePath, uri, uri)
}
