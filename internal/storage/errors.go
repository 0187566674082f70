package storage

import "errors"

var (
	ErrQdrantUnreachable = errors.New("qdrant server unreachable")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrDuplicateID       = errors.New("chunk id already exists in collection")
	ErrUnknownBackend    = errors.New("unknown vector store backend")
)
