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

	logx "topicwatch/pkg/logx"
)

// fileStore is a JSON Lines backend.
//
// Files:
//   - <prefix>.deliveries.jsonl (append-only)
//   - <prefix>.cycles.jsonl     (append-only)
//
// Retention is applied by rewriting the files on open.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	deliveriesPath string
	cyclesPath     string
	deliveries     *os.File
	cycles         *os.File
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

	s := &fileStore{
		log:            log,
		deliveriesPath: prefix + ".deliveries.jsonl",
		cyclesPath:     prefix + ".cycles.jsonl",
	}
	if cfg.Retention > 0 {
		cutoff := time.Now().Add(-cfg.Retention)
		if err := compactJSONL(s.deliveriesPath, func(d Delivery) bool { return !d.At.Before(cutoff) }); err != nil {
			log.Debug("deliveries compact failed", logx.Err(err))
		}
		if err := compactJSONL(s.cyclesPath, func(c Cycle) bool { return !c.Started.Before(cutoff) }); err != nil {
			log.Debug("cycles compact failed", logx.Err(err))
		}
	}

	var err error
	if s.deliveries, err = os.OpenFile(s.deliveriesPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600); err != nil {
		return nil, err
	}
	if s.cycles, err = os.OpenFile(s.cyclesPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600); err != nil {
		_ = s.deliveries.Close()
		return nil, err
	}
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.deliveries != nil {
		err1 = s.deliveries.Close()
		s.deliveries = nil
	}
	if s.cycles != nil {
		err2 = s.cycles.Close()
		s.cycles = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *fileStore) AppendDelivery(_ context.Context, d Delivery) error {
	if d.At.IsZero() {
		d.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deliveries == nil {
		return errors.New("deliveries file closed")
	}
	return json.NewEncoder(s.deliveries).Encode(d)
}

func (s *fileStore) AppendCycle(_ context.Context, c Cycle) error {
	if c.Started.IsZero() {
		c.Started = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cycles == nil {
		return errors.New("cycles file closed")
	}
	return json.NewEncoder(s.cycles).Encode(c)
}

func (s *fileStore) RecentDeliveries(_ context.Context, limit int) ([]Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return tailJSONL[Delivery](s.deliveriesPath, clampLimit(limit))
}

func (s *fileStore) RecentCycles(_ context.Context, limit int) ([]Cycle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return tailJSONL[Cycle](s.cyclesPath, clampLimit(limit))
}

// tailJSONL returns the last limit records of a JSON Lines file, newest
// first. Malformed lines are skipped.
func tailJSONL[T any](path string, limit int) ([]T, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ring := make([]T, 0, limit)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var v T
		if err := json.Unmarshal(sc.Bytes(), &v); err != nil {
			continue
		}
		if len(ring) == limit {
			ring = append(ring[:0], ring[1:]...)
		}
		ring = append(ring, v)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	out := make([]T, 0, len(ring))
	for i := len(ring) - 1; i >= 0; i-- {
		out = append(out, ring[i])
	}
	return out, nil
}

// compactJSONL rewrites path keeping only records accepted by keep.
func compactJSONL[T any](path string, keep func(T) bool) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		_ = f.Close()
		return err
	}
	enc := json.NewEncoder(out)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var v T
		if err := json.Unmarshal(sc.Bytes(), &v); err != nil {
			continue
		}
		if keep(v) {
			if err := enc.Encode(v); err != nil {
				_ = f.Close()
				_ = out.Close()
				return err
			}
		}
	}
	_ = f.Close()
	if err := sc.Err(); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
