package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	fetchErr  error
	commitErr error
	committed []int64
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.msgs) > 0 {
		msg := r.msgs[0]
		r.msgs = r.msgs[1:]
		r.mu.Unlock()
		return msg, nil
	}
	err := r.fetchErr
	r.mu.Unlock()
	if err != nil {
		return kafka.Message{}, err
	}
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.commitErr != nil {
		return r.commitErr
	}
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

func (r *fakeReader) committedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.committed)
}

type fakeSink struct {
	mu     sync.Mutex
	events []NotificationEvent
	errs   []error
	calls  int
}

func (s *fakeSink) HandleEvent(_ context.Context, ev NotificationEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return err
		}
	}
	s.events = append(s.events, ev)
	return nil
}

func newTestConsumer(r *fakeReader, s *fakeSink) *Consumer {
	c := newConsumer(r, s, zerolog.Nop())
	c.retryDelay = time.Millisecond
	return c
}

// runUntil runs c until want offsets are committed, then cancels.
func runUntil(t *testing.T, c *Consumer, r *fakeReader, want int) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for r.committedCount() < want {
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("timed out: %d of %d offsets committed", r.committedCount(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("expected clean exit, got %v", err)
	}
}

func TestConsumer_DeliversEvents(t *testing.T) {
	r := &fakeReader{msgs: []kafka.Message{
		{Offset: 1, Value: []byte(`{"eventType":"queue.called","audience":"user","userIds":["u1"],"title":"Your turn","body":"Room 3","relatedData":{"queueNumber":7}}`)},
		{Offset: 2, Value: []byte(`{"eventType":"system.maintenance","audience":"all","title":"Maintenance"}`)},
	}}
	s := &fakeSink{}
	runUntil(t, newTestConsumer(r, s), r, 2)

	if len(s.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(s.events))
	}
	ev := s.events[0]
	if ev.EventType != "queue.called" || ev.Audience != "user" || len(ev.UserIDs) != 1 || ev.UserIDs[0] != "u1" {
		t.Errorf("unexpected event %+v", ev)
	}
	if ev.RelatedData["queueNumber"] != float64(7) {
		t.Errorf("unexpected related data %+v", ev.RelatedData)
	}
}

func TestConsumer_SkipsUndecodable(t *testing.T) {
	r := &fakeReader{msgs: []kafka.Message{
		{Offset: 10, Value: []byte(`not json`)},
		{Offset: 11, Value: []byte(`{"audience":"all","title":"ok"}`)},
	}}
	s := &fakeSink{}
	runUntil(t, newTestConsumer(r, s), r, 2)

	if s.calls != 1 {
		t.Errorf("expected sink called once, got %d", s.calls)
	}
	if r.committed[0] != 10 || r.committed[1] != 11 {
		t.Errorf("expected both offsets committed, got %v", r.committed)
	}
}

func TestConsumer_RetriesTransientErrors(t *testing.T) {
	r := &fakeReader{msgs: []kafka.Message{{Offset: 1, Value: []byte(`{"audience":"all","title":"x"}`)}}}
	s := &fakeSink{errs: []error{errors.New("db down"), nil}}
	runUntil(t, newTestConsumer(r, s), r, 1)

	if s.calls != 2 || len(s.events) != 1 {
		t.Errorf("expected success on second attempt, got %d calls", s.calls)
	}
}

func TestConsumer_GivesUpAfterMaxAttempts(t *testing.T) {
	r := &fakeReader{msgs: []kafka.Message{{Offset: 1, Value: []byte(`{"audience":"all","title":"x"}`)}}}
	failing := errors.New("db down")
	s := &fakeSink{errs: []error{failing, failing, failing, failing}}
	runUntil(t, newTestConsumer(r, s), r, 1)

	if s.calls != defaultMaxAttempts {
		t.Errorf("expected %d attempts, got %d", defaultMaxAttempts, s.calls)
	}
}

func TestConsumer_MalformedNotRetried(t *testing.T) {
	r := &fakeReader{msgs: []kafka.Message{{Offset: 1, Value: []byte(`{"audience":"user","title":"x"}`)}}}
	s := &fakeSink{errs: []error{ErrMalformedEvent}}
	runUntil(t, newTestConsumer(r, s), r, 1)

	if s.calls != 1 {
		t.Errorf("expected a single attempt, got %d", s.calls)
	}
}

func TestConsumer_FetchError(t *testing.T) {
	r := &fakeReader{fetchErr: errors.New("broker unreachable")}
	err := newTestConsumer(r, &fakeSink{}).Run(context.Background())
	if err == nil {
		t.Fatal("expected fetch error")
	}
}

func TestConsumer_CommitError(t *testing.T) {
	r := &fakeReader{
		msgs:      []kafka.Message{{Offset: 1, Value: []byte(`{"audience":"all","title":"x"}`)}},
		commitErr: errors.New("rebalance in progress"),
	}
	err := newTestConsumer(r, &fakeSink{}).Run(context.Background())
	if err == nil {
		t.Fatal("expected commit error")
	}
}

func TestConsumer_Close(t *testing.T) {
	r := &fakeReader{}
	if err := newTestConsumer(r, &fakeSink{}).Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.closed {
		t.Error("expected reader closed")
	}
}
