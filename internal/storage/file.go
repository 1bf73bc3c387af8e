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
	"time"

	logx "wprecur/pkg/logx"
)

// fileStore is the JSON Lines journal.
//
// Files:
//   - <prefix>.runs.jsonl   (one RunRecord per line)
//   - <prefix>.clones.jsonl (one CloneRecord per line)
//
// Both are append-only. When KeepRuns is set, the runs file is compacted
// every compactEvery appends.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	runsPath   string
	clonesPath string
	runs       *os.File
	clones     *os.File

	keepRuns int
	appends  int
}

const compactEvery = 100

func openFile(cfg Config, log logx.Logger) (Journal, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:        log,
		runsPath:   prefix + ".runs.jsonl",
		clonesPath: prefix + ".clones.jsonl",
		keepRuns:   cfg.KeepRuns,
	}
	var err error
	if s.runs, err = openAppend(s.runsPath); err != nil {
		return nil, err
	}
	if s.clones, err = openAppend(s.clonesPath); err != nil {
		_ = s.runs.Close()
		return nil, err
	}
	return s, nil
}

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.runs != nil {
		errs = append(errs, s.runs.Close())
		s.runs = nil
	}
	if s.clones != nil {
		errs = append(errs, s.clones.Close())
		s.clones = nil
	}
	return errors.Join(errs...)
}

func (s *fileStore) AppendRun(ctx context.Context, r RunRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runs == nil {
		return errors.New("run journal closed")
	}
	if err := json.NewEncoder(s.runs).Encode(r); err != nil {
		return err
	}
	s.appends++
	if s.keepRuns > 0 && s.appends%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) AppendClone(ctx context.Context, c CloneRecord) error {
	_ = ctx
	if c.At.IsZero() {
		c.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clones == nil {
		return errors.New("clone journal closed")
	}
	return json.NewEncoder(s.clones).Encode(c)
}

func (s *fileStore) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	_ = ctx
	if limit <= 0 {
		limit = 20
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var runs []RunRecord
	err := scanJSONL(s.runsPath, func(b []byte) {
		var r RunRecord
		if json.Unmarshal(b, &r) == nil && r.ID != "" {
			runs = append(runs, r)
		}
	})
	if err != nil {
		return nil, err
	}
	if len(runs) > limit {
		runs = runs[len(runs)-limit:]
	}
	// newest first
	for i, j := 0, len(runs)-1; i < j; i, j = i+1, j-1 {
		runs[i], runs[j] = runs[j], runs[i]
	}

	idx := make(map[string]int, len(runs))
	for i, r := range runs {
		idx[r.ID] = i
	}
	err = scanJSONL(s.clonesPath, func(b []byte) {
		var c CloneRecord
		if json.Unmarshal(b, &c) != nil {
			return
		}
		if i, ok := idx[c.RunID]; ok {
			runs[i].Created = append(runs[i].Created, c)
		}
	})
	return runs, err
}

// compactLocked rewrites the runs file with only the newest keepRuns lines.
// Clone lines are left alone; orphans are ignored on read.
func (s *fileStore) compactLocked() error {
	var lines [][]byte
	if err := scanJSONL(s.runsPath, func(b []byte) {
		lines = append(lines, append([]byte(nil), b...))
	}); err != nil {
		return err
	}
	if len(lines) <= s.keepRuns {
		return nil
	}
	lines = lines[len(lines)-s.keepRuns:]

	tmp := s.runsPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, l := range lines {
		_, _ = w.Write(l)
		_ = w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := s.runs.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.runsPath); err != nil {
		return err
	}
	s.runs, err = openAppend(s.runsPath)
	return err
}

func scanJSONL(path string, fn func([]byte)) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64<<10), 4<<20)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		fn(sc.Bytes())
	}
	return sc.Err()
}
