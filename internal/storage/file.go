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

	logx "naps/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.sent.jsonl (append-only JSON Lines journal)
//
// The journal is replayed into memory on open; every insert is appended and
// synced before it becomes visible to Contains.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	journal *os.File
	sent    map[string]struct{}
	order   []string
}

type sentRecord struct {
	ID string `json:"id"`
	At int64  `json:"at"` // unix milli
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
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

	journalPath := prefix + ".sent.jsonl"
	st := &fileStore{log: log, sent: map[string]struct{}{}}
	if err := st.replay(journalPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	if err := terminateLastLine(jf); err != nil {
		_ = jf.Close()
		return nil, err
	}
	st.journal = jf
	log.Debug("journal opened", logx.String("path", journalPath), logx.Int("records", len(st.order)))
	return st, nil
}

func (s *fileStore) replay(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		b := sc.Bytes()
		if len(strings.TrimSpace(string(b))) == 0 {
			continue
		}
		var r sentRecord
		if err := json.Unmarshal(b, &r); err != nil || r.ID == "" {
			// A torn trailing write after a crash lands here.
			s.log.Warn("skipping unreadable journal line", logx.String("path", path), logx.Int("line", line))
			continue
		}
		s.addLocked(r.ID)
	}
	return sc.Err()
}

// terminateLastLine appends a newline when the journal ends mid-record, so the
// next append starts on a fresh line.
func terminateLastLine(f *os.File) error {
	fi, err := f.Stat()
	if err != nil {
		return err
	}
	if fi.Size() == 0 {
		return nil
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, fi.Size()-1); err != nil {
		return err
	}
	if last[0] == '\n' {
		return nil
	}
	_, err = f.Write([]byte{'\n'})
	return err
}

func (s *fileStore) addLocked(id string) bool {
	if _, ok := s.sent[id]; ok {
		return false
	}
	s.sent[id] = struct{}{}
	s.order = append(s.order, id)
	return true
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.journal.Close()
	s.journal = nil
	return err
}

func (s *fileStore) Contains(ctx context.Context, id string) (bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return false, ErrClosed
	}
	_, ok := s.sent[id]
	return ok, nil
}

func (s *fileStore) Insert(ctx context.Context, ids ...string) error {
	_ = ctx
	ids = uniqueIDs(ids)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}

	now := time.Now().UnixMilli()
	enc := json.NewEncoder(s.journal)
	fresh := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := s.sent[id]; ok {
			continue
		}
		if err := enc.Encode(sentRecord{ID: id, At: now}); err != nil {
			return err
		}
		fresh = append(fresh, id)
	}
	if len(fresh) == 0 {
		return nil
	}
	if err := s.journal.Sync(); err != nil {
		return err
	}
	for _, id := range fresh {
		s.addLocked(id)
	}
	return nil
}

func (s *fileStore) List(ctx context.Context) ([]string, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil, ErrClosed
	}
	return append([]string(nil), s.order...), nil
}
