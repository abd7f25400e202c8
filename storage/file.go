package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/eddielth/digitanimal-trans/logger"
)

// FileStore keeps one JSON document per key under
// {basePath}/{integration}/{action}/{source}.json
type FileStore struct {
	basePath string
	mu       sync.Mutex
}

// NewFileStore creates basePath if needed
func NewFileStore(basePath string) (*FileStore, error) {
	if basePath == "" {
		return nil, errors.New("file state store path is empty")
	}
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("create dir %s failed: %v", basePath, err)
	}

	logger.Info("init file state store: %s", basePath)
	return &FileStore{basePath: basePath}, nil
}

func (fs *FileStore) path(key Key) string {
	return filepath.Join(fs.basePath,
		fileSegment(key.IntegrationID),
		fileSegment(key.ActionID),
		fileSegment(key.SourceID)+".json")
}

// fileSegment escapes s into a single path element. Dot-only and empty values are
// encoded so they can neither climb out of basePath nor collapse a level.
func fileSegment(s string) string {
	escaped := url.PathEscape(s)
	if s == "" {
		return "%"
	}
	if strings.Trim(escaped, ".") == "" {
		return strings.Repeat("%2E", len(escaped))
	}
	return escaped
}

func (fs *FileStore) GetState(_ context.Context, key Key) (State, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	raw, err := os.ReadFile(fs.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state %s: %w", key, err)
	}

	var state State
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("decode state %s: %w", key, err)
	}
	return state, nil
}

// SetState writes to a temporary file and renames it over the previous document.
func (fs *FileStore) SetState(_ context.Context, key Key, state State) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	filename := fs.path(key)
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return fmt.Errorf("create dir %s failed: %v", filepath.Dir(filename), err)
	}

	jsonData, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("serialize state %s: %w", key, err)
	}

	tmp := filename + ".tmp"
	if err := os.WriteFile(tmp, jsonData, 0644); err != nil {
		return fmt.Errorf("write file %s failed: %v", tmp, err)
	}
	if err := os.Rename(tmp, filename); err != nil {
		return fmt.Errorf("replace file %s failed: %v", filename, err)
	}

	logger.Debug("stored state to file: %s", filename)
	return nil
}

func (fs *FileStore) Close() error {
	return nil
}
