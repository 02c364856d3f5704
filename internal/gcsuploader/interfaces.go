package gcsuploader

import (
	"github.com/dvloznov/networth-tracker/internal/gcs"
)

// Re-export interface from shared package for backward compatibility
type StorageService = gcs.StorageService

// Ensure GCSStorageService implements StorageService.
var _ StorageService = (*GCSStorageService)(nil)
