package tts

import (
	"context"
	"io"
	"sync"
)

// fakeStream serves a fixed payload; once drained it reports connected
// until finish is called.
type fakeStream struct {
	mu        sync.Mutex
	data      []byte
	connected bool
	err       error
	closed    int
}

func newFakeStream(data []byte, connected bool) *fakeStream {
	return &fakeStream{data: append([]byte(nil), data...), connected: connected}
}

func (s *fakeStream) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

func (s *fakeStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := copy(p, s.data)
	s.data = s.data[n:]
	if n == 0 && !s.connected {
		if s.err != nil {
			return 0, s.err
		}
		return 0, io.EOF
	}
	return n, nil
}

func (s *fakeStream) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *fakeStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	s.connected = false
	return nil
}

func (s *fakeStream) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	s.err = err
}

func (s *fakeStream) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// fakeMixer buffers writes up to capacity; drain simulates rendering
type fakeMixer struct {
	capacity int
	buf      []byte
	rendered []byte
	paused   bool
	gain     float64
	unpauses int
}

func newFakeMixer(capacity int) *fakeMixer {
	return &fakeMixer{capacity: capacity, paused: true}
}

func (m *fakeMixer) Write(p []byte) (int, error) {
	n := min(len(p), m.capacity-len(m.buf))
	m.buf = append(m.buf, p[:n]...)
	return n, nil
}

func (m *fakeMixer) Available() int { return len(m.buf) }
func (m *fakeMixer) Pause()         { m.paused = true }
func (m *fakeMixer) Paused() bool   { return m.paused }
func (m *fakeMixer) SetGain(g float64) {
	m.gain = g
}

func (m *fakeMixer) Unpause() {
	m.paused = false
	m.unpauses++
}

func (m *fakeMixer) drain() {
	m.rendered = append(m.rendered, m.buf...)
	m.buf = m.buf[:0]
}

// fakeRequester hands out queued streams
type fakeRequester struct {
	streams []Stream
	err     error
	opens   int
	resets  int
	last    Request
}

func (r *fakeRequester) Open(ctx context.Context, req Request) (Stream, error) {
	r.opens++
	r.last = req
	if r.err != nil {
		return nil, r.err
	}
	if len(r.streams) == 0 {
		return newFakeStream(nil, false), nil
	}
	s := r.streams[0]
	r.streams = r.streams[1:]
	return s, nil
}

func (r *fakeRequester) Reset() { r.resets++ }

// fakeLink is a network link that comes up after Join
type fakeLink struct {
	joinErr error
	up      bool
	never   bool
}

func (l *fakeLink) Join(ssid, password string) error {
	if l.joinErr != nil {
		return l.joinErr
	}
	l.up = !l.never
	return nil
}

func (l *fakeLink) Connected() bool { return l.up }

func (l *fakeLink) LocalIP() string {
	if !l.up {
		return ""
	}
	return "192.168.1.50"
}

// messages records reported errors
type messages struct {
	mu   sync.Mutex
	list []string
}

func (m *messages) OnError(message string) {
	m.mu.Lock()
	m.list = append(m.list, message)
	m.mu.Unlock()
}

func (m *messages) all() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.list...)
}

func payloadOf(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

// tailReader returns its whole payload together with io.EOF
type tailReader struct {
	data []byte
	sent bool
}

func (r *tailReader) Read(p []byte) (int, error) {
	if r.sent {
		return 0, io.EOF
	}
	r.sent = true
	return copy(p, r.data), io.EOF
}

func (r *tailReader) Close() error { return nil }
