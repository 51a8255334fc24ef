package tts

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/lexiqai/wit-speaker/internal/audio"
)

// Sizes of the staging buffer between the response body and the player
const (
	streamBufferSize = 16 * 1024
	streamChunkSize  = 2048
)

// HTTPTransport implements Requester over net/http
type HTTPTransport struct {
	endpoint   Endpoint
	token      string
	httpClient *http.Client
}

// NewHTTPTransport creates a transport posting to endpoint with a bearer token.
// A nil client gets one with TLS and header timeouts and no overall timeout,
// since response bodies stream for as long as the utterance lasts.
func NewHTTPTransport(endpoint Endpoint, token string, client *http.Client) *HTTPTransport {
	if client == nil {
		client = NewHTTPClient(false)
	}
	return &HTTPTransport{
		endpoint:   endpoint,
		token:      token,
		httpClient: client,
	}
}

// NewHTTPClient builds the default streaming client
func NewHTTPClient(insecureSkipVerify bool) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			TLSClientConfig:       &tls.Config{InsecureSkipVerify: insecureSkipVerify},
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 15 * time.Second,
			IdleConnTimeout:       30 * time.Second,
		},
	}
}

// Reset closes idle pooled connections
func (t *HTTPTransport) Reset() {
	t.httpClient.CloseIdleConnections()
}

// Open posts the synthesis request and returns the streaming body.
// ctx bounds the request phase only; the returned stream lives until Close.
func (t *HTTPTransport) Open(ctx context.Context, req Request) (Stream, error) {
	payload, err := BuildPayload(req)
	if err != nil {
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	httpReq, err := http.NewRequestWithContext(streamCtx, http.MethodPost, t.endpoint.URL(), bytes.NewReader(payload))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Authorization", "Bearer "+t.token)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", req.AudioFormat)

	stop := context.AfterFunc(ctx, cancel)
	resp, err := t.httpClient.Do(httpReq)
	stop()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: HTTP connection failed: %v", ErrNetworkConnect, err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	return newBodyStream(resp.Body, cancel), nil
}

// bodyStream pumps a blocking response body into a ring buffer so the
// player can poll it without blocking.
type bodyStream struct {
	body   io.ReadCloser
	cancel context.CancelFunc
	buf    *audio.RingBuffer

	space  chan struct{} // signalled when Read frees room
	closed chan struct{} // closed by Close
	done   chan struct{} // closed when the pump exits

	mu  sync.Mutex
	err error

	closeOnce sync.Once
}

func newBodyStream(body io.ReadCloser, cancel context.CancelFunc) *bodyStream {
	s := &bodyStream{
		body:   body,
		cancel: cancel,
		buf:    audio.NewRingBuffer(streamBufferSize),
		space:  make(chan struct{}, 1),
		closed: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.pump()
	return s
}

func (s *bodyStream) pump() {
	defer close(s.done)

	chunk := make([]byte, streamChunkSize)
	for {
		n, err := s.body.Read(chunk)
		data := chunk[:n]
		for len(data) > 0 {
			written := s.buf.Write(data)
			data = data[written:]
			if len(data) == 0 {
				break
			}
			select {
			case <-s.space:
			case <-s.closed:
				return
			}
		}

		if err != nil {
			if !errors.Is(err, io.EOF) {
				select {
				case <-s.closed:
					// Read failed because we closed the body
				default:
					s.mu.Lock()
					s.err = err
					s.mu.Unlock()
				}
			}
			return
		}
	}
}

func (s *bodyStream) Available() int {
	return s.buf.Available()
}

func (s *bodyStream) Read(p []byte) (int, error) {
	n := s.buf.Read(p)
	if n == 0 {
		select {
		case <-s.done:
			// The pump may have written its last chunk after the first read
			n = s.buf.Read(p)
		default:
			return 0, nil
		}
	}
	if n == 0 {
		if err := s.Err(); err != nil {
			return 0, err
		}
		return 0, io.EOF
	}
	select {
	case s.space <- struct{}{}:
	default:
	}
	return n, nil
}

// Connected stays true while the body is open or unread bytes remain
func (s *bodyStream) Connected() bool {
	select {
	case <-s.closed:
		return false
	default:
	}
	select {
	case <-s.done:
		return s.buf.Available() > 0
	default:
		return true
	}
}

func (s *bodyStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *bodyStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		s.cancel()
		err = s.body.Close()
		<-s.done
	})
	return err
}
