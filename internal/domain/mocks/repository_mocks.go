package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/V4T54L/fuel-importer/internal/domain"
)

// MockTransactionSource is a mock implementation of domain.TransactionSource for testing.
type MockTransactionSource struct {
	mu       sync.Mutex
	Payload  []byte
	FetchErr error
	Calls    int
	From, To time.Time
	// Block, when set, is waited on before returning.
	Block chan struct{}
}

func (m *MockTransactionSource) FetchTransactions(ctx context.Context, from, to time.Time) ([]byte, error) {
	if m.Block != nil {
		<-m.Block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	m.From, m.To = from, to
	if m.FetchErr != nil {
		return nil, m.FetchErr
	}
	return m.Payload, nil
}

// MockProcessedIDStore is an in-memory domain.ProcessedIDStore.
type MockProcessedIDStore struct {
	mu          sync.Mutex
	Known       map[string]struct{}
	LookupErr   error
	RecordErr   error
	LookupCalls int
	LookedUp    [][]string
	Recorded    []string
}

func NewMockProcessedIDStore(known ...string) *MockProcessedIDStore {
	m := &MockProcessedIDStore{Known: make(map[string]struct{})}
	for _, id := range known {
		m.Known[id] = struct{}{}
	}
	return m
}

func (m *MockProcessedIDStore) IDsAlreadyKnown(ctx context.Context, ids []string) (map[string]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LookupCalls++
	m.LookedUp = append(m.LookedUp, append([]string(nil), ids...))
	if m.LookupErr != nil {
		return nil, m.LookupErr
	}
	out := make(map[string]struct{})
	for _, id := range ids {
		if _, ok := m.Known[id]; ok {
			out[id] = struct{}{}
		}
	}
	return out, nil
}

func (m *MockProcessedIDStore) RecordAsProcessed(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RecordErr != nil {
		return m.RecordErr
	}
	if m.Known == nil {
		m.Known = make(map[string]struct{})
	}
	for _, id := range ids {
		m.Known[id] = struct{}{}
	}
	m.Recorded = append(m.Recorded, ids...)
	return nil
}

// MockEventSink records appended events.
type MockEventSink struct {
	mu        sync.Mutex
	Appended  []domain.ConsolidatedEvent
	AppendErr error
	Calls     int
}

func (m *MockEventSink) Append(ctx context.Context, events []domain.ConsolidatedEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if m.AppendErr != nil {
		return m.AppendErr
	}
	m.Appended = append(m.Appended, events...)
	return nil
}

// MockAtomicSink is a sink that persists events and ids together into Store.
type MockAtomicSink struct {
	MockEventSink
	Store        *MockProcessedIDStore
	PersistErr   error
	PersistCalls int
}

func (m *MockAtomicSink) Persist(ctx context.Context, events []domain.ConsolidatedEvent, ids []string) error {
	m.mu.Lock()
	m.PersistCalls++
	if m.PersistErr != nil {
		m.mu.Unlock()
		return m.PersistErr
	}
	m.Appended = append(m.Appended, events...)
	m.mu.Unlock()
	return m.Store.RecordAsProcessed(ctx, ids)
}

// FixedClock always returns T.
type FixedClock struct {
	T time.Time
}

func (c FixedClock) Now() time.Time { return c.T }

// MockRunLock is an in-process domain.RunLock.
type MockRunLock struct {
	mu       sync.Mutex
	Held     bool
	Err      error
	Released int
}

func (m *MockRunLock) Acquire(ctx context.Context, ttl time.Duration) (func(context.Context) error, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, false, m.Err
	}
	if m.Held {
		return nil, false, nil
	}
	m.Held = true
	return func(context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.Held = false
		m.Released++
		return nil
	}, true, nil
}

// MockRunRecorder collects failure reports.
type MockRunRecorder struct {
	mu       sync.Mutex
	Failures []domain.RunReport
	Err      error
}

func (m *MockRunRecorder) RecordFailure(ctx context.Context, report domain.RunReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Failures = append(m.Failures, report)
	return nil
}

func (m *MockRunRecorder) RecentFailures(ctx context.Context, count int64) ([]domain.RunReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	out := make([]domain.RunReport, 0, len(m.Failures))
	for i := len(m.Failures) - 1; i >= 0 && int64(len(out)) < count; i-- {
		out = append(out, m.Failures[i])
	}
	return out, nil
}

// MockRunJournal collects appended reports.
type MockRunJournal struct {
	mu      sync.Mutex
	Reports []domain.RunReport
}

func (m *MockRunJournal) Append(ctx context.Context, report domain.RunReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Reports = append(m.Reports, report)
	return nil
}
