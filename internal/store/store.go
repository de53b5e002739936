// Package store is the durable key to document mapping every component
// persists through. Documents are JSON files under a data directory; writes
// are atomic (temp file, fsync, rename) and a document that is about to lose
// all of its entries is snapshot-copied to a retention folder first.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/apperr"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/metrics"
)

const (
	docExt       = ".json"
	lockExt      = ".lock"
	backupDir    = "backups"
	pollInterval = 20 * time.Millisecond
)

// Documents is the capability components receive.
type Documents interface {
	Read(key string, dst any) bool
	Write(key string, v any) error
	Delete(key string) error
	Keys(collection string) ([]string, error)
	WithLock(ctx context.Context, key string, fn func() error) error
	WithLocks(ctx context.Context, keys []string, fn func() error) error
}

// Options configures a Store.
type Options struct {
	Dir         string
	LockTimeout time.Duration
	// StaleAfter breaks lockfiles older than this; zero disables.
	StaleAfter time.Duration
	// QueueDepth bounds waiters plus holder per key; zero is unbounded.
	QueueDepth int64
	// Retention is how many snapshots are kept per key.
	Retention int
	Metrics   *metrics.Metrics
}

// Store is a JSON-file Documents implementation.
type Store struct {
	opts Options

	mu    sync.Mutex
	locks map[string]*keyLock

	snapSeq atomic.Uint64
}

type keyLock struct {
	held  chan struct{}
	queue *semaphore.Weighted
}

// New creates the data directory if needed and returns a Store.
func New(opts Options) (*Store, error) {
	if opts.Dir == "" {
		return nil, errors.New("store: data dir is required")
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = 10 * time.Second
	}
	if opts.Retention <= 0 {
		opts.Retention = 10
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create data dir: %w", err)
	}
	return &Store{opts: opts, locks: make(map[string]*keyLock)}, nil
}

// Dir returns the data directory.
func (s *Store) Dir() string { return s.opts.Dir }

func (s *Store) path(key string) string {
	return filepath.Join(s.opts.Dir, filepath.FromSlash(key)+docExt)
}

// Read decodes the document at key into dst. It returns false when the
// document is missing or malformed; in the malformed case dst is reset to its
// zero value and a warning is logged, so the caller applies its default.
func (s *Store) Read(key string, dst any) bool {
	raw, err := os.ReadFile(s.path(key))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("key", key).Msg("store: read failed, using default")
			s.opts.Metrics.Malformed(key)
		}
		return false
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		resetValue(dst)
		log.Warn().Err(err).Str("key", key).Msg("store: malformed document, using default")
		s.opts.Metrics.Malformed(key)
		return false
	}
	return true
}

// Load reads key into a fresh T, returning def when the document is missing
// or malformed.
func Load[T any](d Documents, key string, def T) T {
	var v T
	if !d.Read(key, &v) {
		return def
	}
	return v
}

func resetValue(dst any) {
	rv := reflect.ValueOf(dst)
	if rv.Kind() == reflect.Pointer && !rv.IsNil() {
		rv.Elem().Set(reflect.Zero(rv.Elem().Type()))
	}
}

// Write atomically replaces the document at key.
func (s *Store) Write(key string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return apperr.Internal("store: encode "+key, err)
	}
	path := s.path(key)
	if old, err := os.ReadFile(path); err == nil && empties(old, data) {
		if err := s.snapshot(key, old); err != nil {
			return apperr.Internal("store: snapshot "+key, err)
		}
	}
	if err := writeAtomic(path, data); err != nil {
		return apperr.Internal("store: write "+key, err)
	}
	return nil
}

// Delete removes the document at key, snapshotting it first when populated.
func (s *Store) Delete(key string) error {
	path := s.path(key)
	old, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return apperr.Internal("store: delete "+key, err)
	}
	if isPopulated(old) {
		if err := s.snapshot(key, old); err != nil {
			return apperr.Internal("store: snapshot "+key, err)
		}
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return apperr.Internal("store: delete "+key, err)
	}
	return nil
}

// Keys lists the keys stored under collection, sorted.
func (s *Store) Keys(collection string) ([]string, error) {
	dir := filepath.Join(s.opts.Dir, filepath.FromSlash(collection))
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Internal("store: list "+collection, err)
	}
	var keys []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, docExt) {
			continue
		}
		keys = append(keys, collection+"/"+strings.TrimSuffix(name, docExt))
	}
	sort.Strings(keys)
	return keys, nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}

// empties reports whether replacing old with next drops every entry of the
// document or of one of its top-level collections.
func empties(old, next []byte) bool {
	if !isPopulated(old) {
		return false
	}
	if !isPopulated(next) {
		return true
	}
	var oldObj, nextObj map[string]json.RawMessage
	if json.Unmarshal(old, &oldObj) != nil || json.Unmarshal(next, &nextObj) != nil {
		return false
	}
	for field, raw := range oldObj {
		var arr []json.RawMessage
		if json.Unmarshal(raw, &arr) != nil || len(arr) == 0 {
			continue
		}
		if !isPopulated(nextObj[field]) {
			return true
		}
	}
	return false
}

// isPopulated reports whether raw is a JSON array or object with entries,
// or any other non-null value.
func isPopulated(raw []byte) bool {
	if len(raw) == 0 {
		return false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return len(bytes.TrimSpace(raw)) > 0
	}
	switch x := v.(type) {
	case nil:
		return false
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	}
	return true
}
