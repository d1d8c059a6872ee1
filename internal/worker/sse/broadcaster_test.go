package sse

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/suite"
)

// mockResponseWriter implements http.ResponseWriter and http.Flusher for testing.
type mockResponseWriter struct {
	header http.Header
	body   []byte
	failed bool
	mu     sync.Mutex
}

func newMockResponseWriter() *mockResponseWriter {
	return &mockResponseWriter{header: make(http.Header)}
}

func (m *mockResponseWriter) Header() http.Header {
	return m.header
}

func (m *mockResponseWriter) Write(data []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failed {
		return 0, http.ErrHandlerTimeout
	}
	m.body = append(m.body, data...)
	return len(data), nil
}

func (m *mockResponseWriter) WriteHeader(int) {}

func (m *mockResponseWriter) Flush() {}

func (m *mockResponseWriter) Body() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return string(m.body)
}

// BroadcasterSuite is a test suite for event fan-out.
type BroadcasterSuite struct {
	suite.Suite
	broadcaster *Broadcaster
}

func (s *BroadcasterSuite) SetupTest() {
	s.broadcaster = NewBroadcaster(zerolog.Nop())
}

func TestBroadcasterSuite(t *testing.T) {
	suite.Run(t, new(BroadcasterSuite))
}

func (s *BroadcasterSuite) TestAddAssignsUniqueIDs() {
	seen := make(map[string]bool)
	for i := 0; i < 10; i++ {
		client, err := s.broadcaster.add(newMockResponseWriter())
		s.Require().NoError(err)
		s.False(seen[client.ID])
		seen[client.ID] = true
	}
	s.Equal(10, s.broadcaster.ClientCount())
}

func (s *BroadcasterSuite) TestAddRejectsNonFlusher() {
	type plainWriter struct{ http.ResponseWriter }
	_, err := s.broadcaster.add(plainWriter{newMockResponseWriter()})
	s.Error(err)
	s.Equal(0, s.broadcaster.ClientCount())
}

func (s *BroadcasterSuite) TestRemoveClosesDone() {
	client, err := s.broadcaster.add(newMockResponseWriter())
	s.Require().NoError(err)

	s.broadcaster.remove(client.ID)
	s.Equal(0, s.broadcaster.ClientCount())

	select {
	case <-client.done:
	default:
		s.Fail("done channel should be closed")
	}

	// removing again is a no-op
	s.broadcaster.remove(client.ID)
}

func (s *BroadcasterSuite) TestBroadcastWritesEventFrame() {
	w := newMockResponseWriter()
	_, err := s.broadcaster.add(w)
	s.Require().NoError(err)

	s.broadcaster.Broadcast("decision", map[string]string{"action": "merged"})

	body := w.Body()
	s.Contains(body, "event: decision\n")
	s.Contains(body, `"action":"merged"`)
	s.True(strings.HasSuffix(body, "\n\n"))
}

func (s *BroadcasterSuite) TestBroadcastNoClients() {
	s.broadcaster.Broadcast("decision", map[string]string{"action": "created"})
}

func (s *BroadcasterSuite) TestBroadcastReachesAllClients() {
	writers := make([]*mockResponseWriter, 3)
	for i := range writers {
		writers[i] = newMockResponseWriter()
		_, err := s.broadcaster.add(writers[i])
		s.Require().NoError(err)
	}

	s.broadcaster.Broadcast("decision", map[string]int{"issue_id": 7})

	for _, w := range writers {
		s.Contains(w.Body(), `"issue_id":7`)
	}
}

func (s *BroadcasterSuite) TestBroadcastDropsFailingClient() {
	dead := newMockResponseWriter()
	dead.failed = true
	live := newMockResponseWriter()

	_, err := s.broadcaster.add(dead)
	s.Require().NoError(err)
	_, err = s.broadcaster.add(live)
	s.Require().NoError(err)

	s.broadcaster.Broadcast("decision", map[string]string{"action": "merged"})

	s.Equal(1, s.broadcaster.ClientCount())
	s.Contains(live.Body(), "event: decision")
}

func (s *BroadcasterSuite) TestBroadcastUnmarshalablePayload() {
	w := newMockResponseWriter()
	_, err := s.broadcaster.add(w)
	s.Require().NoError(err)

	s.broadcaster.Broadcast("decision", make(chan int))

	s.Empty(w.Body())
	s.Equal(1, s.broadcaster.ClientCount())
}

func (s *BroadcasterSuite) TestConcurrentBroadcast() {
	for i := 0; i < 5; i++ {
		_, err := s.broadcaster.add(newMockResponseWriter())
		s.Require().NoError(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.broadcaster.Broadcast("decision", map[string]int{"index": i})
		}(i)
	}
	wg.Wait()

	s.Equal(5, s.broadcaster.ClientCount())
}

func (s *BroadcasterSuite) TestHandleStreamsUntilDisconnect() {
	w := newMockResponseWriter()
	req, err := http.NewRequest(http.MethodGet, "/api/events", nil)
	s.Require().NoError(err)

	ctx, cancel := context.WithCancel(req.Context())
	req = req.WithContext(ctx)

	handled := make(chan struct{})
	go func() {
		defer close(handled)
		s.broadcaster.Handle(w, req)
	}()

	s.Require().Eventually(func() bool {
		return s.broadcaster.ClientCount() == 1
	}, time.Second, 5*time.Millisecond)

	s.Equal("text/event-stream", w.Header().Get("Content-Type"))
	s.Contains(w.Body(), "event: connected")

	cancel()
	select {
	case <-handled:
	case <-time.After(time.Second):
		s.Fail("handler did not return after disconnect")
	}
	s.Equal(0, s.broadcaster.ClientCount())
}
