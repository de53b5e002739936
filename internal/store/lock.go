package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/apperr"
)

// WithLock runs fn while holding the exclusive lock for key.
func (s *Store) WithLock(ctx context.Context, key string, fn func() error) error {
	return s.WithLocks(ctx, []string{key}, fn)
}

// WithLocks runs fn while holding every key's lock. Keys are acquired in
// lexicographic order and released in reverse; a failure to acquire any key
// releases those already held and fn never runs.
func (s *Store) WithLocks(ctx context.Context, keys []string, fn func() error) error {
	ordered := dedupeSorted(keys)

	ctx, cancel := context.WithTimeout(ctx, s.opts.LockTimeout)
	defer cancel()

	var release []func()
	defer func() {
		for i := len(release) - 1; i >= 0; i-- {
			release[i]()
		}
	}()

	for _, key := range ordered {
		unlock, err := s.acquire(ctx, key)
		if err != nil {
			return err
		}
		release = append(release, unlock)
	}
	return fn()
}

func dedupeSorted(keys []string) []string {
	seen := make(map[string]bool, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func (s *Store) keyLock(key string) *keyLock {
	s.mu.Lock()
	defer s.mu.Unlock()
	kl, ok := s.locks[key]
	if !ok {
		kl = &keyLock{held: make(chan struct{}, 1)}
		if s.opts.QueueDepth > 0 {
			kl.queue = semaphore.NewWeighted(s.opts.QueueDepth)
		}
		s.locks[key] = kl
	}
	return kl
}

func (s *Store) acquire(ctx context.Context, key string) (func(), error) {
	start := time.Now()
	kl := s.keyLock(key)

	if kl.queue != nil && !kl.queue.TryAcquire(1) {
		s.opts.Metrics.Busy(key)
		log.Warn().Str("key", key).Msg("store: lock queue full")
		return nil, apperr.ErrBusy.WithDetail("key", key)
	}
	leaveQueue := func() {
		if kl.queue != nil {
			kl.queue.Release(1)
		}
	}

	select {
	case kl.held <- struct{}{}:
	case <-ctx.Done():
		leaveQueue()
		return nil, s.timeout(key)
	}
	unlockProcess := func() { <-kl.held }

	lockPath := s.path(key) + lockExt
	if err := s.acquireFile(ctx, lockPath); err != nil {
		unlockProcess()
		leaveQueue()
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, s.timeout(key)
		}
		return nil, apperr.Internal("store: lockfile "+key, err)
	}
	s.opts.Metrics.ObserveLockWait(key, time.Since(start))

	return func() {
		if err := os.Remove(lockPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Error().Err(err).Str("key", key).Msg("store: release lockfile")
		}
		unlockProcess()
		leaveQueue()
	}, nil
}

func (s *Store) timeout(key string) error {
	s.opts.Metrics.LockTimeout(key)
	log.Warn().Str("key", key).Dur("timeout", s.opts.LockTimeout).Msg("store: lock timeout")
	return apperr.ErrLockTimeout.WithDetail("key", key)
}

// acquireFile creates the lockfile exclusively, polling until ctx ends.
// Another process holding the file longer than StaleAfter is assumed dead.
func (s *Store) acquireFile(ctx context.Context, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, _ = fmt.Fprintf(f, "%d\n", os.Getpid())
			return f.Close()
		}
		if !errors.Is(err, os.ErrExist) {
			return err
		}
		if s.breakStale(path) {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Store) breakStale(path string) bool {
	if s.opts.StaleAfter <= 0 {
		return false
	}
	info, err := os.Stat(path)
	if err != nil || time.Since(info.ModTime()) < s.opts.StaleAfter {
		return false
	}
	if err := os.Remove(path); err != nil {
		return false
	}
	log.Warn().Str("lockfile", path).Msg("store: broke stale lockfile")
	return true
}
