package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/apperr"
)

func (s *Store) snapshotDir(key string) string {
	return filepath.Join(s.opts.Dir, backupDir, strings.ReplaceAll(key, "/", "__"))
}

func (s *Store) snapshot(key string, data []byte) error {
	dir := s.snapshotDir(key)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	name := fmt.Sprintf("%s-%06d%s", time.Now().UTC().Format("20060102T150405.000000000"), s.snapSeq.Add(1)%1000000, docExt)
	if err := writeAtomic(filepath.Join(dir, name), data); err != nil {
		return err
	}
	log.Info().Str("key", key).Str("snapshot", name).Msg("store: snapshot before destructive write")
	return s.prune(dir)
}

func (s *Store) prune(dir string) error {
	names, err := snapshotNames(dir)
	if err != nil {
		return err
	}
	for len(names) > s.opts.Retention {
		if err := os.Remove(filepath.Join(dir, names[0])); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		names = names[1:]
	}
	return nil
}

func snapshotNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), docExt) && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Snapshots lists the retained snapshots of key, oldest first.
func (s *Store) Snapshots(key string) ([]string, error) {
	names, err := snapshotNames(s.snapshotDir(key))
	if err != nil {
		return nil, apperr.Internal("store: list snapshots "+key, err)
	}
	return names, nil
}

// RestoreLatest replaces key with its newest snapshot.
func (s *Store) RestoreLatest(ctx context.Context, key string) error {
	return s.WithLock(ctx, key, func() error {
		dir := s.snapshotDir(key)
		names, err := snapshotNames(dir)
		if err != nil {
			return apperr.Internal("store: list snapshots "+key, err)
		}
		if len(names) == 0 {
			return apperr.NotFound("snapshot", key)
		}
		latest := names[len(names)-1]
		data, err := os.ReadFile(filepath.Join(dir, latest))
		if err != nil {
			return apperr.Internal("store: read snapshot "+key, err)
		}
		if err := writeAtomic(s.path(key), data); err != nil {
			return apperr.Internal("store: restore "+key, err)
		}
		log.Warn().Str("key", key).Str("snapshot", latest).Msg("store: restored from snapshot")
		return nil
	})
}
