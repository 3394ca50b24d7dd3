package pipeline_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rcliao/ryos-memory/internal/model"
)

type fakeSource struct {
	mu        sync.Mutex
	days      []model.DailyNote
	processed map[string]bool
	marked    []string
	listErr   error
	markErr   map[string]error
}

func newFakeSource(dates ...string) *fakeSource {
	s := &fakeSource{processed: map[string]bool{}, markErr: map[string]error{}}
	for _, d := range dates {
		var ts int64
		if t, err := time.Parse(model.DateLayout, d); err == nil {
			ts = t.Add(9 * time.Hour).UnixMilli()
		}
		s.days = append(s.days, model.DailyNote{
			Date:    d,
			Entries: []model.NoteEntry{{Timestamp: ts, Content: "note on " + d}},
		})
	}
	return s
}

func mustMillis(date string, hour int) int64 {
	t, err := time.Parse(model.DateLayout, date)
	if err != nil {
		panic(err)
	}
	return t.Add(time.Duration(hour) * time.Hour).UnixMilli()
}

func (s *fakeSource) ListUnprocessedDays(_ context.Context, _ string, _ int, _ *time.Location) ([]model.DailyNote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []model.DailyNote
	for _, d := range s.days {
		if !s.processed[d.Date] {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *fakeSource) MarkProcessed(_ context.Context, _ string, date string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.markErr[date]; err != nil {
		return err
	}
	s.processed[date] = true
	s.marked = append(s.marked, date)
	return nil
}

func (s *fakeSource) markedDates() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.marked...)
}

type fakeStore struct {
	mu         sync.Mutex
	memories   map[string]model.MemoryDetail
	upserts    []model.UpsertParams
	deletes    []string
	indexErr   error
	upsertErr  map[string]error
	cleanups   int
	cleanupErr error
}

func newFakeStore(existing ...model.MemoryDetail) *fakeStore {
	s := &fakeStore{memories: map[string]model.MemoryDetail{}, upsertErr: map[string]error{}}
	for _, m := range existing {
		s.memories[m.Key] = m
	}
	return s
}

func (s *fakeStore) GetIndex(_ context.Context, _ string) (*model.MemoryIndex, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexErr != nil {
		return nil, s.indexErr
	}
	index := &model.MemoryIndex{Entries: []model.MemoryIndexEntry{}}
	for _, m := range s.memories {
		index.Entries = append(index.Entries, model.MemoryIndexEntry{Key: m.Key, Summary: m.Summary})
	}
	sort.Slice(index.Entries, func(i, j int) bool { return index.Entries[i].Key < index.Entries[j].Key })
	return index, nil
}

func (s *fakeStore) GetDetail(_ context.Context, _ string, key string) (*model.MemoryDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memories[key]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (s *fakeStore) Upsert(_ context.Context, _ string, p model.UpsertParams) (*model.UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts = append(s.upserts, p)
	if err := s.upsertErr[p.Key]; err != nil {
		return nil, err
	}
	_, exists := s.memories[p.Key]
	if p.Mode == model.UpsertAdd && exists {
		return &model.UpsertResult{Success: false, Message: "memory already exists"}, nil
	}
	if p.Mode == model.UpsertMerge && exists {
		prev := s.memories[p.Key]
		p.Content = prev.Content + "\n" + p.Content
	}
	s.memories[p.Key] = model.MemoryDetail{Key: p.Key, Summary: p.Summary, Content: p.Content}
	return &model.UpsertResult{Success: true}, nil
}

func (s *fakeStore) Delete(_ context.Context, _ string, key string) (*model.DeleteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes = append(s.deletes, key)
	_, ok := s.memories[key]
	delete(s.memories, key)
	return &model.DeleteResult{Success: ok}, nil
}

func (s *fakeStore) CleanupStale(_ context.Context, _ string) (*model.CleanupResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanups++
	if s.cleanupErr != nil {
		return nil, s.cleanupErr
	}
	return &model.CleanupResult{RemovedKeys: []string{}}, nil
}

func (s *fakeStore) upsertCalls() []model.UpsertParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.UpsertParams(nil), s.upserts...)
}

type fakeExtractor struct {
	mu       sync.Mutex
	requests []model.ExtractionRequest
	fn       func(req model.ExtractionRequest) ([]model.Candidate, error)
}

func (e *fakeExtractor) Extract(_ context.Context, req model.ExtractionRequest) ([]model.Candidate, error) {
	e.mu.Lock()
	e.requests = append(e.requests, req)
	fn := e.fn
	e.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(req)
}

func (e *fakeExtractor) dates() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []string
	for _, r := range e.requests {
		out = append(out, r.Date)
	}
	return out
}

func returns(candidates ...model.Candidate) func(model.ExtractionRequest) ([]model.Candidate, error) {
	return func(model.ExtractionRequest) ([]model.Candidate, error) { return candidates, nil }
}

type fakeConsolidator struct {
	mu       sync.Mutex
	requests []model.ConsolidationRequest
	err      error
}

func (c *fakeConsolidator) Consolidate(_ context.Context, req model.ConsolidationRequest) (*model.Consolidated, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	if c.err != nil {
		return nil, c.err
	}
	return &model.Consolidated{
		Summary: "merged: " + req.New.Summary,
		Content: "merged: " + req.New.Content,
	}, nil
}

func (c *fakeConsolidator) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

type failingLocker struct{}

func (failingLocker) Acquire(context.Context, string, time.Duration) (bool, error) {
	return false, errors.New("connection refused")
}

func (failingLocker) Release(context.Context, string) error { return nil }

// recordingLocker is an in-memory lock that records releases.
type recordingLocker struct {
	mu       sync.Mutex
	held     map[string]bool
	released []string
}

func newRecordingLocker() *recordingLocker {
	return &recordingLocker{held: map[string]bool{}}
}

func (l *recordingLocker) Acquire(_ context.Context, key string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return false, nil
	}
	l.held[key] = true
	return true, nil
}

func (l *recordingLocker) Release(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	l.released = append(l.released, key)
	return nil
}

func (l *recordingLocker) releases() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.released...)
}
