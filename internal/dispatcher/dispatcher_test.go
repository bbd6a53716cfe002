package dispatcher

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"phoneagent_backend/internal/events"
	"phoneagent_backend/internal/gateway"
	"phoneagent_backend/internal/leads/domain"
	"phoneagent_backend/internal/leads/store"
	"phoneagent_backend/platform/logger"
)

type fakeCaller struct {
	mu     sync.Mutex
	dialed []string
	fail   map[string]error
	nextID int
}

func (f *fakeCaller) PlaceCall(ctx context.Context, phone string) (*gateway.CallResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dialed = append(f.dialed, phone)
	if err, ok := f.fail[phone]; ok {
		return nil, err
	}
	f.nextID++
	return &gateway.CallResponse{Status: "success", CallID: fmt.Sprintf("call-%d", f.nextID)}, nil
}

type fakeRegistry struct {
	mu       sync.Mutex
	expected map[string]string // callID -> leadID
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{expected: make(map[string]string)}
}

func (f *fakeRegistry) Expect(callID, leadID, name, phone string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expected[callID] = leadID
}

type captureBus struct {
	mu       sync.Mutex
	finished []events.BatchFinished
}

func (b *captureBus) Publish(ctx context.Context, event events.Event) {
	if e, ok := event.(events.BatchFinished); ok {
		b.mu.Lock()
		b.finished = append(b.finished, e)
		b.mu.Unlock()
	}
}

func (b *captureBus) PublishSync(ctx context.Context, event events.Event) error {
	b.Publish(ctx, event)
	return nil
}

func (b *captureBus) Subscribe(eventName string, handler events.Handler) {}

func seedStore(t *testing.T, ids ...string) *store.Store {
	t.Helper()
	s := store.New(filepath.Join(t.TempDir(), "state.json"), 100, logger.New("test"))
	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	for i, id := range ids {
		lead := domain.Lead{
			ID:       id,
			Name:     "Lead " + id,
			Phone:    "+3460011122" + id,
			Status:   domain.StatusNotProcessed,
			CachedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.Upsert(lead); err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}
	return s
}

func openWindow() Window {
	return Window{
		Days:      []time.Weekday{time.Sunday, time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday},
		StartHour: 0,
		EndHour:   24,
		Location:  time.UTC,
	}
}

func testDispatcher(cfg Config, s *store.Store, caller Caller, registry CallRegistry, bus events.Bus) *Dispatcher {
	if cfg.InterCallDelay == 0 {
		cfg.InterCallDelay = time.Millisecond
	}
	return New(cfg, s, caller, registry, bus, logger.New("test"))
}

func TestRunBatch(t *testing.T) {
	s := seedStore(t, "1", "2", "3")
	caller := &fakeCaller{fail: map[string]error{
		"+34600111222": &gateway.RequestError{Endpoint: "/requests/callback/", Status: 402, Body: "not enough funds"},
	}}
	registry := newFakeRegistry()
	bus := &captureBus{}

	d := testDispatcher(Config{Campaign: "test", BatchSize: 10, Window: openWindow()}, s, caller, registry, bus)
	summary, err := d.RunBatch(context.Background())
	if err != nil {
		t.Fatalf("run batch: %v", err)
	}

	if summary.Called != 2 || summary.Errored != 1 || summary.Pending != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	lead1, _ := s.Get("1")
	if lead1.Status != domain.StatusCalled || lead1.CallID == "" {
		t.Fatalf("lead 1 not marked called: %+v", lead1)
	}
	lead2, _ := s.Get("2")
	if lead2.Status != domain.StatusError || lead2.ErrorDetail == "" {
		t.Fatalf("lead 2 not marked errored: %+v", lead2)
	}

	registry.mu.Lock()
	if len(registry.expected) != 2 {
		t.Fatalf("expected 2 registered calls, got %v", registry.expected)
	}
	registry.mu.Unlock()

	bus.mu.Lock()
	defer bus.mu.Unlock()
	if len(bus.finished) != 1 || bus.finished[0].Called != 2 || bus.finished[0].Errored != 1 {
		t.Fatalf("unexpected batch event: %+v", bus.finished)
	}
}

func TestRunBatchIsIdempotent(t *testing.T) {
	s := seedStore(t, "1", "2")
	caller := &fakeCaller{}
	d := testDispatcher(Config{Campaign: "test", BatchSize: 10, Window: openWindow()}, s, caller, newFakeRegistry(), &captureBus{})

	if _, err := d.RunBatch(context.Background()); err != nil {
		t.Fatalf("first batch: %v", err)
	}
	summary, err := d.RunBatch(context.Background())
	if err != nil {
		t.Fatalf("second batch: %v", err)
	}
	if summary.Called != 0 || summary.Skipped != 2 {
		t.Fatalf("second run must not re-dial worked leads: %+v", summary)
	}
	if len(caller.dialed) != 2 {
		t.Fatalf("expected 2 total dials, got %d", len(caller.dialed))
	}
}

func TestRunBatchRespectsBatchSize(t *testing.T) {
	s := seedStore(t, "1", "2", "3", "4", "5")
	caller := &fakeCaller{}
	d := testDispatcher(Config{Campaign: "test", BatchSize: 2, Window: openWindow()}, s, caller, newFakeRegistry(), &captureBus{})

	summary, err := d.RunBatch(context.Background())
	if err != nil {
		t.Fatalf("run batch: %v", err)
	}
	if summary.Called != 2 || summary.Pending != 3 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestRunBatchAbortsOutsideWindow(t *testing.T) {
	s := seedStore(t, "1", "2")
	caller := &fakeCaller{}
	closed := Window{Days: []time.Weekday{time.Monday}, StartHour: 9, EndHour: 10, Location: time.UTC}
	d := testDispatcher(Config{Campaign: "test", BatchSize: 10, Window: closed}, s, caller, newFakeRegistry(), &captureBus{})
	d.now = func() time.Time { return time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC) } // Saturday

	summary, err := d.RunBatch(context.Background())
	if err != nil {
		t.Fatalf("run batch: %v", err)
	}
	if !summary.Aborted || summary.Called != 0 {
		t.Fatalf("expected aborted batch, got %+v", summary)
	}
	if len(caller.dialed) != 0 {
		t.Fatalf("no calls should be placed outside the window, got %v", caller.dialed)
	}

	lead, _ := s.Get("1")
	if lead.Status != domain.StatusNotProcessed {
		t.Fatalf("undialed leads must stay pending, got %s", lead.Status)
	}
}
