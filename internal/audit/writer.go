package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tkingovr/adminsync/api"
)

// JSONLStore is an append-only JSONL history with date-based rotation.
type JSONLStore struct {
	mu          sync.Mutex
	dir         string
	currentDate string
	file        *os.File
	writer      *bufio.Writer

	// In-memory buffer for queries and stats (bounded)
	records []*api.MutationRecord
	maxMem  int

	// Subscribers for real-time streaming
	subMu   sync.RWMutex
	subs    map[int]chan *api.MutationRecord
	nextSub int
}

// NewJSONLStore opens a history store in dir and loads the most recent
// existing records into memory.
func NewJSONLStore(dir string) (*JSONLStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}
	s := &JSONLStore{
		dir:    dir,
		maxMem: 10000,
		subs:   make(map[int]chan *api.MutationRecord),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *JSONLStore) Write(_ context.Context, record *api.MutationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}

	dateStr := record.Timestamp.Format("2006-01-02")
	if dateStr != s.currentDate {
		if err := s.rotate(dateStr); err != nil {
			return err
		}
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshaling mutation record: %w", err)
	}
	if _, err := s.writer.Write(data); err != nil {
		return err
	}
	if err := s.writer.WriteByte('\n'); err != nil {
		return err
	}
	if err := s.writer.Flush(); err != nil {
		return err
	}

	s.remember(record)
	s.notifySubscribers(record)
	return nil
}

func (s *JSONLStore) Query(_ context.Context, filter api.QueryFilter) ([]*api.MutationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var results []*api.MutationRecord
	for _, r := range s.records {
		if matchesFilter(r, filter) {
			results = append(results, r)
		}
	}

	if filter.Offset > 0 {
		if filter.Offset >= len(results) {
			return nil, nil
		}
		results = results[filter.Offset:]
	}
	if filter.Limit > 0 && len(results) > filter.Limit {
		results = results[:filter.Limit]
	}
	return results, nil
}

func (s *JSONLStore) Stats(_ context.Context) (*api.AuditStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &api.AuditStats{
		ByResource: make(map[string]int),
		ByKind:     make(map[string]int),
	}
	for _, r := range s.records {
		stats.Total++
		switch r.Outcome {
		case api.OutcomeSuccess:
			stats.Successes++
		case api.OutcomeFailure, api.OutcomeUnauthenticated:
			stats.Failures++
		case api.OutcomeInvalid:
			stats.Invalid++
		case api.OutcomeCancelled:
			stats.Cancelled++
		}
		if r.Resource != "" {
			stats.ByResource[r.Resource]++
		}
		if r.Kind != "" {
			stats.ByKind[string(r.Kind)]++
		}
	}
	return stats, nil
}

func (s *JSONLStore) Subscribe(_ context.Context) (<-chan *api.MutationRecord, func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	ch := make(chan *api.MutationRecord, 100)
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.subMu.Lock()
			defer s.subMu.Unlock()
			delete(s.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

func (s *JSONLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writer != nil {
		if err := s.writer.Flush(); err != nil {
			return err
		}
	}
	if s.file != nil {
		err := s.file.Close()
		s.file, s.writer, s.currentDate = nil, nil, ""
		return err
	}
	return nil
}

func (s *JSONLStore) remember(record *api.MutationRecord) {
	if len(s.records) >= s.maxMem {
		s.records = s.records[1:]
	}
	s.records = append(s.records, record)
}

// load reads existing day files, oldest first. Malformed lines are
// skipped.
func (s *JSONLStore) load() error {
	paths, err := filepath.Glob(filepath.Join(s.dir, "*.jsonl"))
	if err != nil {
		return err
	}
	sort.Strings(paths)
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("reading history file: %w", err)
		}
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			var r api.MutationRecord
			if json.Unmarshal(scanner.Bytes(), &r) == nil && r.ID != "" {
				s.remember(&r)
			}
		}
		err = scanner.Err()
		f.Close()
		if err != nil {
			return fmt.Errorf("reading history file %s: %w", path, err)
		}
	}
	return nil
}

func (s *JSONLStore) rotate(dateStr string) error {
	if s.writer != nil {
		if err := s.writer.Flush(); err != nil {
			return err
		}
	}
	if s.file != nil {
		if err := s.file.Close(); err != nil {
			return err
		}
	}

	path := filepath.Join(s.dir, dateStr+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("opening history file: %w", err)
	}

	s.file = f
	s.writer = bufio.NewWriter(f)
	s.currentDate = dateStr
	return nil
}

func (s *JSONLStore) notifySubscribers(record *api.MutationRecord) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()

	for _, ch := range s.subs {
		select {
		case ch <- record:
		default:
			// Drop if subscriber is slow
		}
	}
}

func matchesFilter(r *api.MutationRecord, f api.QueryFilter) bool {
	if !f.Since.IsZero() && r.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && r.Timestamp.After(f.Until) {
		return false
	}
	if f.Resource != "" && r.Resource != f.Resource {
		return false
	}
	if f.Kind != "" && r.Kind != f.Kind {
		return false
	}
	if f.Outcome != "" && r.Outcome != f.Outcome {
		return false
	}
	return true
}
