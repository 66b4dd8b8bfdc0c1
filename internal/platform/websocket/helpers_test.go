package websocket

import (
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ehr/carehub/internal/platform/auth"
)

// fakeConn is an in-memory Conn. Frames pushed on inbound are returned by
// ReadMessage; written frames are recorded.
type fakeConn struct {
	mu         sync.Mutex
	written    [][]byte
	closed     bool
	failWrites bool

	inbound   chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 16),
		done:    make(chan struct{}),
	}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-f.inbound:
		return gorillawebsocket.TextMessage, data, nil
	case <-f.done:
		return 0, nil, io.EOF
	}
}

func (f *fakeConn) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || f.failWrites {
		return errors.New("write on broken connection")
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	f.written = append(f.written, cp)
	return nil
}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.closed = true
		f.mu.Unlock()
		close(f.done)
	})
	return nil
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeConn) frames() []map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]interface{}, 0, len(f.written))
	for _, w := range f.written {
		var m map[string]interface{}
		if err := json.Unmarshal(w, &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeConn) lastFrame(t *testing.T) map[string]interface{} {
	t.Helper()
	frames := f.frames()
	if len(frames) == 0 {
		t.Fatal("expected at least one written frame")
	}
	return frames[len(frames)-1]
}

// stubVerifier maps tokens to subjects; unknown tokens are invalid.
type stubVerifier struct {
	subjects map[string]string
	errs     map[string]error
}

func (s *stubVerifier) Subject(token string) (string, error) {
	if err, ok := s.errs[token]; ok {
		return "", err
	}
	if sub, ok := s.subjects[token]; ok {
		return sub, nil
	}
	if token == "" {
		return "", auth.ErrTokenMissing
	}
	return "", auth.ErrTokenInvalid
}

func newStubVerifier() *stubVerifier {
	return &stubVerifier{
		subjects: map[string]string{
			"tok-alice":   "alice",
			"tok-alice-2": "alice",
			"tok-bob":     "bob",
		},
		errs: map[string]error{
			"tok-expired": auth.ErrTokenExpired,
			"tok-garbled": auth.ErrTokenMalformed,
		},
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}
