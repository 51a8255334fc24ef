package tts

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func endpointFor(t *testing.T, server *httptest.Server) Endpoint {
	t.Helper()
	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return Endpoint{Host: host, Port: port, Path: "/synthesize?v=20240304"}
}

// drain polls s until it reports end of stream
func drain(t *testing.T, s Stream) ([]byte, error) {
	t.Helper()
	var out []byte
	buf := make([]byte, 512)
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		n, err := s.Read(buf)
		out = append(out, buf[:n]...)
		if err != nil {
			return out, err
		}
		if n == 0 {
			time.Sleep(time.Millisecond)
		}
	}
	t.Fatal("stream did not end")
	return nil, nil
}

// capturedRequest is what the test server saw
type capturedRequest struct {
	method string
	path   string
	header http.Header
	query  url.Values
	body   []byte
}

func TestHTTPTransport_StreamsBody(t *testing.T) {
	body := payloadOf(40000)
	captured := make(chan capturedRequest, 1)

	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqBody, _ := io.ReadAll(r.Body)
		captured <- capturedRequest{
			method: r.Method,
			path:   r.URL.Path,
			header: r.Header.Clone(),
			query:  r.URL.Query(),
			body:   reqBody,
		}

		w.Header().Set("Content-Type", "audio/mpeg")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		for off := 0; off < len(body); off += 5000 {
			w.Write(body[off:min(off+5000, len(body))])
			flusher.Flush()
		}
	}))
	defer server.Close()

	transport := NewHTTPTransport(endpointFor(t, server), "secret", server.Client())
	req := DefaultSettings(ModeBackground).request("id", "Hello")

	stream, err := transport.Open(context.Background(), req)
	require.NoError(t, err)
	defer stream.Close()

	got, err := drain(t, stream)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, body, got)
	assert.False(t, stream.Connected())
	assert.NoError(t, stream.Err())

	seen := <-captured
	assert.Equal(t, http.MethodPost, seen.method)
	assert.Equal(t, "/synthesize", seen.path)
	assert.Equal(t, "20240304", seen.query.Get("v"))
	assert.Equal(t, "Bearer secret", seen.header.Get("Authorization"))
	assert.Equal(t, "application/json", seen.header.Get("Content-Type"))
	assert.Equal(t, "audio/mpeg", seen.header.Get("Accept"))

	payload, err := BuildPayload(req)
	require.NoError(t, err)
	assert.Equal(t, payload, seen.body)
}

func TestHTTPTransport_NonOK(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"Bad auth"}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	transport := NewHTTPTransport(endpointFor(t, server), "bad", server.Client())
	stream, err := transport.Open(context.Background(), Request{Text: "hi", AudioFormat: FormatMPEG})
	require.Error(t, err)
	assert.Nil(t, stream)

	var herr *HTTPError
	require.True(t, errors.As(err, &herr))
	assert.Equal(t, http.StatusUnauthorized, herr.StatusCode)
	assert.Equal(t, "HTTP Error: 401 Unauthorized", err.Error())
	assert.True(t, errors.Is(err, ErrHTTP))
}

func TestHTTPTransport_ConnectFailure(t *testing.T) {
	server := httptest.NewTLSServer(http.NotFoundHandler())
	endpoint := endpointFor(t, server)
	client := server.Client()
	server.Close()

	transport := NewHTTPTransport(endpoint, "token", client)
	_, err := transport.Open(context.Background(), Request{Text: "hi", AudioFormat: FormatMPEG})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNetworkConnect))
}

func TestHTTPTransport_StreamOutlivesRequestContext(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		time.Sleep(50 * time.Millisecond)
		w.Write([]byte("late audio"))
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	transport := NewHTTPTransport(endpointFor(t, server), "token", server.Client())
	stream, err := transport.Open(ctx, Request{Text: "hi", AudioFormat: FormatMPEG})
	require.NoError(t, err)
	defer stream.Close()
	cancel()

	got, err := drain(t, stream)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "late audio", string(got))
}

func TestHTTPTransport_CloseMidStream(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("first"))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	transport := NewHTTPTransport(endpointFor(t, server), "token", server.Client())
	stream, err := transport.Open(context.Background(), Request{Text: "hi", AudioFormat: FormatMPEG})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return stream.Available() == 5 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, stream.Connected())

	done := make(chan error, 1)
	go func() { done <- stream.Close() }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}

	assert.False(t, stream.Connected())
	assert.NoError(t, stream.Err(), "closing is not a stream failure")
	assert.NoError(t, stream.Close())
}

func TestBodyStream_BackpressureKeepsAllBytes(t *testing.T) {
	data := payloadOf(3 * streamBufferSize)
	pr, pw := io.Pipe()
	go func() {
		pw.Write(data)
		pw.Close()
	}()

	stream := newBodyStream(pr, func() {})
	defer stream.Close()

	require.Eventually(t, func() bool { return stream.Available() == streamBufferSize-1 }, 2*time.Second, time.Millisecond)
	assert.True(t, stream.Connected())

	got, err := drain(t, stream)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, data, got)
}

func TestBodyStream_ReportsReadError(t *testing.T) {
	pr, pw := io.Pipe()
	go func() {
		pw.Write([]byte("abc"))
		pw.CloseWithError(errors.New("connection reset by peer"))
	}()

	stream := newBodyStream(pr, func() {})
	defer stream.Close()

	got, err := drain(t, stream)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset by peer")
	assert.Equal(t, "abc", string(got))
	assert.Equal(t, err, stream.Err())
}

func TestBodyStream_TailWithEOFStaysReadable(t *testing.T) {
	data := payloadOf(300)
	stream := newBodyStream(&tailReader{data: data}, func() {})
	defer stream.Close()

	<-stream.done
	assert.True(t, stream.Connected(), "unread bytes keep the stream connected")
	assert.Equal(t, 300, stream.Available())

	buf := make([]byte, 512)
	n, err := stream.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, data, buf[:n])

	assert.False(t, stream.Connected())
	_, err = stream.Read(buf)
	assert.ErrorIs(t, err, io.EOF)
}
