// Package storage provides key/value backends for persisted state such as
// the mutation queue snapshot. Every backend stores values as JSON, so a
// value read back has the JSON shape: numbers become float64 and structs
// become maps.
package storage

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/alexisbeaulieu97/zenify/internal/ports"
)

const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Backend is a closable storage implementation.
type Backend interface {
	ports.Storage
	ports.StorageDeleter
	Keys() ([]string, error)
	io.Closer
}

// Open returns the backend named by kind. path is a directory for the file
// backend, a database file for sqlite and ignored for memory.
func Open(kind, path string) (Backend, error) {
	switch kind {
	case "", BackendMemory:
		return NewMemory(), nil
	case BackendFile:
		return NewFileStore(path)
	case BackendSQLite:
		return OpenSQLite(path)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", kind)
	}
}

func encode(value map[string]any) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to encode value: %w", err)
	}
	return data, nil
}

func decode(data []byte) (map[string]any, error) {
	var value map[string]any
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, fmt.Errorf("failed to decode value: %w", err)
	}
	return value, nil
}
