package storage

import (
	"context"
	"sort"
	"sync"
)

// memIndex holds occurrences and runs per dream. It is not synchronized;
// callers hold their own lock.
type memIndex struct {
	occ  map[string]map[occKey]OccurrenceRow
	runs map[string][]Run
}

func newMemIndex() *memIndex {
	return &memIndex{
		occ:  map[string]map[occKey]OccurrenceRow{},
		runs: map[string][]Run{},
	}
}

// put stores r unless its key exists. It reports whether r was new.
func (ix *memIndex) put(r OccurrenceRow) bool {
	byKey, ok := ix.occ[r.DreamID]
	if !ok {
		byKey = map[occKey]OccurrenceRow{}
		ix.occ[r.DreamID] = byKey
	}
	if _, dup := byKey[r.key()]; dup {
		return false
	}
	byKey[r.key()] = r
	return true
}

func (ix *memIndex) has(r OccurrenceRow) bool {
	_, ok := ix.occ[r.DreamID][r.key()]
	return ok
}

func (ix *memIndex) appendRun(run Run) {
	run.Occurrences = nil
	ix.runs[run.DreamID] = append(ix.runs[run.DreamID], run)
}

func (ix *memIndex) list(dreamID string) []OccurrenceRow {
	byKey := ix.occ[dreamID]
	out := make([]OccurrenceRow, 0, len(byKey))
	for _, r := range byKey {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ActionID != out[j].ActionID {
			return out[i].ActionID < out[j].ActionID
		}
		return out[i].OccurrenceNo < out[j].OccurrenceNo
	})
	return out
}

func (ix *memIndex) recent(dreamID string, limit int) []Run {
	all := ix.runs[dreamID]
	n := len(all)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Run, 0, n)
	for i := len(all) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, all[i])
	}
	return out
}

type memStore struct {
	mu     sync.Mutex
	ix     *memIndex
	closed bool
}

// NewMemory returns an in-process store.
func NewMemory() Store {
	return &memStore{ix: newMemIndex()}
}

func (s *memStore) LoadOccurrences(ctx context.Context, dreamID string) ([]OccurrenceRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.ix.list(dreamID), nil
}

func (s *memStore) SaveRun(ctx context.Context, run Run) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	run = run.prepare()
	inserted := 0
	for _, r := range run.Occurrences {
		if s.ix.put(r) {
			inserted++
		}
	}
	run.Inserted = inserted
	s.ix.appendRun(run)
	return inserted, nil
}

func (s *memStore) Runs(ctx context.Context, dreamID string, limit int) ([]Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.ix.recent(dreamID, limit), nil
}

func (s *memStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
