// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package blobstore provides the opaque content-addressed byte store
// the core is parameterized by. The filesystem implementation here is
// the one concrete backing used in the worker deployment; no object
// storage SDK is wired since everything here runs on local disk.
package blobstore

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rapidaai/voicecapture/internal/pipelineerr"
)

// BlobStore is content-addressed byte storage referenced by opaque
// paths. Implementations must be safe for concurrent use.
type BlobStore interface {
	GetBytes(path string) ([]byte, error)
	PutBytes(path string, data []byte) (string, error)
	PublicURL(path string) string
}

// FilesystemStore roots every path under a local directory. path
// values are always forward-slash relative paths like
// "sessions/{id}/full_audio.wav"; they are joined onto Root with
// filepath.Join, never interpreted as absolute.
type FilesystemStore struct {
	Root    string
	BaseURL string
}

// NewFilesystemStore returns a BlobStore rooted at root, creating it
// if necessary.
func NewFilesystemStore(root, baseURL string) (*FilesystemStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, pipelineerr.Storage(err, "create blob root %s", root)
	}
	return &FilesystemStore{Root: root, BaseURL: baseURL}, nil
}

func (f *FilesystemStore) resolve(path string) string {
	return filepath.Join(f.Root, filepath.FromSlash(path))
}

func (f *FilesystemStore) GetBytes(path string) ([]byte, error) {
	data, err := os.ReadFile(f.resolve(path))
	if err != nil {
		return nil, pipelineerr.Storage(err, "read blob %s", path)
	}
	return data, nil
}

func (f *FilesystemStore) PutBytes(path string, data []byte) (string, error) {
	full := f.resolve(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", pipelineerr.Storage(err, "create blob dir for %s", path)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", pipelineerr.Storage(err, "write blob %s", path)
	}
	return path, nil
}

func (f *FilesystemStore) PublicURL(path string) string {
	if f.BaseURL == "" {
		return path
	}
	return fmt.Sprintf("%s/%s", f.BaseURL, path)
}
