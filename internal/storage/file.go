package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "dreamplan/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.occurrences.jsonl (append-only, one OccurrenceRow per line)
//   - <prefix>.runs.jsonl        (append-only audit of runs)
//
// Both journals are replayed into memory on open; reads never touch disk.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex
	ix *memIndex

	occFile  *os.File
	runsFile *os.File
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	occPath := prefix + ".occurrences.jsonl"
	runsPath := prefix + ".runs.jsonl"

	ix := newMemIndex()
	skipped, err := replayJSONL(occPath, func(r OccurrenceRow) bool {
		if r.DreamID == "" || r.ActionID == "" || r.OccurrenceNo < 1 {
			return false
		}
		ix.put(r)
		return true
	})
	if err != nil {
		return nil, err
	}
	skippedRuns, err := replayJSONL(runsPath, func(r Run) bool {
		if r.DreamID == "" {
			return false
		}
		ix.appendRun(r)
		return true
	})
	if err != nil {
		return nil, err
	}
	if skipped+skippedRuns > 0 {
		log.Warn("skipped unreadable journal lines", logx.Int("occurrences", skipped), logx.Int("runs", skippedRuns))
	}

	of, err := openJournal(occPath)
	if err != nil {
		return nil, err
	}
	rf, err := openJournal(runsPath)
	if err != nil {
		_ = of.Close()
		return nil, err
	}

	log.Debug("file store opened", logx.String("prefix", prefix))
	return &fileStore{log: log, ix: ix, occFile: of, runsFile: rf}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.occFile != nil {
		err1 = s.occFile.Close()
		s.occFile = nil
	}
	if s.runsFile != nil {
		err2 = s.runsFile.Close()
		s.runsFile = nil
	}
	return errors.Join(err1, err2)
}

func (s *fileStore) LoadOccurrences(ctx context.Context, dreamID string) ([]OccurrenceRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.occFile == nil {
		return nil, ErrClosed
	}
	return s.ix.list(dreamID), nil
}

func (s *fileStore) SaveRun(ctx context.Context, run Run) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.occFile == nil || s.runsFile == nil {
		return 0, ErrClosed
	}
	run = run.prepare()

	// Write first, index after: a failed write must not leave rows that
	// exist only in memory.
	enc := json.NewEncoder(s.occFile)
	var fresh []OccurrenceRow
	for _, r := range run.Occurrences {
		if s.ix.has(r) {
			continue
		}
		if err := enc.Encode(r); err != nil {
			return 0, err
		}
		fresh = append(fresh, r)
	}
	inserted := 0
	for _, r := range fresh {
		if s.ix.put(r) {
			inserted++
		}
	}

	run.Inserted = inserted
	if err := json.NewEncoder(s.runsFile).Encode(run); err != nil {
		return inserted, err
	}
	s.ix.appendRun(run)
	return inserted, nil
}

func (s *fileStore) Runs(ctx context.Context, dreamID string, limit int) ([]Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runsFile == nil {
		return nil, ErrClosed
	}
	return s.ix.recent(dreamID, limit), nil
}

// openJournal opens path for appending. A torn last line (no trailing
// newline) is terminated so the next record starts on its own line.
func openJournal(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if st.Size() > 0 {
		last := make([]byte, 1)
		if _, err := f.ReadAt(last, st.Size()-1); err != nil {
			_ = f.Close()
			return nil, err
		}
		if last[0] != '\n' {
			if _, err := f.Write([]byte{'\n'}); err != nil {
				_ = f.Close()
				return nil, err
			}
		}
	}
	return f, nil
}

// replayJSONL decodes every line of path into T and hands it to apply. Lines
// that fail to decode, or that apply rejects, are counted as skipped. A
// missing file is not an error.
func replayJSONL[T any](path string, apply func(T) bool) (int, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer f.Close()

	skipped := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		var v T
		if err := json.Unmarshal(line, &v); err != nil || !apply(v) {
			skipped++
		}
	}
	return skipped, sc.Err()
}
