package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// DefaultFilePath is used when the file driver has no path configured.
const DefaultFilePath = ".speechjob/operations.json"

type fileStore struct {
	mu   sync.Mutex
	path string
}

type fileDoc struct {
	Operations map[string]Record `json:"operations"`
}

// NewFileStore keeps records in a single JSON document at path.
func NewFileStore(path string) (Store, error) {
	if path == "" {
		path = DefaultFilePath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &fileStore{path: path}, nil
}

func (f *fileStore) load() (fileDoc, error) {
	doc := fileDoc{Operations: make(map[string]Record)}
	b, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return doc, nil
		}
		return doc, fmt.Errorf("read store: %w", err)
	}
	if len(b) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return doc, fmt.Errorf("decode store %s: %w", f.path, err)
	}
	if doc.Operations == nil {
		doc.Operations = make(map[string]Record)
	}
	return doc, nil
}

func (f *fileStore) save(doc fileDoc) error {
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".operations.*")
	if err != nil {
		return fmt.Errorf("write store: %w", err)
	}
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write store: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write store: %w", err)
	}
	return nil
}

func (f *fileStore) Save(_ context.Context, rec Record) error {
	if err := validate(rec); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.load()
	if err != nil {
		return err
	}
	doc.Operations[rec.OperationID] = rec
	return f.save(doc)
}

func (f *fileStore) Get(_ context.Context, id string) (Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.load()
	if err != nil {
		return Record{}, err
	}
	rec, ok := doc.Operations[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (f *fileStore) List(context.Context) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.load()
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(doc.Operations))
	for _, rec := range doc.Operations {
		out = append(out, rec)
	}
	sortRecords(out)
	return out, nil
}

func (f *fileStore) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.load()
	if err != nil {
		return err
	}
	if _, ok := doc.Operations[id]; !ok {
		return nil
	}
	delete(doc.Operations, id)
	return f.save(doc)
}

func (f *fileStore) Close() error { return nil }
