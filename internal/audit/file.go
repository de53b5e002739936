package audit

import (
	"context"
	"sort"

	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/store"
)

// LogKey is the store key of the file-backed log.
const LogKey = "audit_log"

// FileBackend keeps the log as one document in the store.
type FileBackend struct {
	docs store.Documents
}

func NewFileBackend(docs store.Documents) *FileBackend {
	return &FileBackend{docs: docs}
}

func (b *FileBackend) Append(ctx context.Context, e Entry) error {
	return b.docs.WithLock(ctx, LogKey, func() error {
		entries := store.Load(b.docs, LogKey, []Entry{})
		entries = append(entries, e)
		return b.docs.Write(LogKey, entries)
	})
}

func (b *FileBackend) Query(_ context.Context, f Filter) (Page, error) {
	all := store.Load(b.docs, LogKey, []Entry{})
	var matched []Entry
	for _, e := range all {
		if f.matches(e) {
			matched = append(matched, e)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})
	return paginate(matched, f), nil
}

func paginate(entries []Entry, f Filter) Page {
	total := len(entries)
	if f.Offset > 0 {
		if f.Offset >= len(entries) {
			entries = nil
		} else {
			entries = entries[f.Offset:]
		}
	}
	if f.Limit > 0 && len(entries) > f.Limit {
		entries = entries[:f.Limit]
	}
	if entries == nil {
		entries = []Entry{}
	}
	return Page{Entries: entries, Total: total}
}
