package tts

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/wit-speaker/internal/observability"
)

// BlockingConfig holds the timeouts of the blocking player
type BlockingConfig struct {
	IdleTimeout     time.Duration // Silence that ends the body copy
	ResponseTimeout time.Duration // Limit for the status line and headers
	ReadSize        int           // Bytes per socket read
}

// DefaultBlockingConfig returns a 500ms idle timeout
func DefaultBlockingConfig() BlockingConfig {
	return BlockingConfig{
		IdleTimeout:     500 * time.Millisecond,
		ResponseTimeout: 10 * time.Second,
		ReadSize:        1024,
	}
}

// gainSetter is implemented by outputs that can change volume
type gainSetter interface {
	SetGain(gain float64)
}

// BlockingPlayer frames HTTP/1.1 by hand over a raw secure socket and copies
// the body into the decoder inside Start.
type BlockingPlayer struct {
	dialer   Dialer
	endpoint Endpoint
	token    string
	output   io.Writer
	config   BlockingConfig

	mu      sync.Mutex
	logger  zerolog.Logger
	conn    net.Conn
	playing bool
}

// NewBlockingPlayer creates a player writing decoded input to output
func NewBlockingPlayer(dialer Dialer, endpoint Endpoint, token string, output io.Writer, config BlockingConfig, logger zerolog.Logger) *BlockingPlayer {
	defaults := DefaultBlockingConfig()
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = defaults.IdleTimeout
	}
	if config.ResponseTimeout <= 0 {
		config.ResponseTimeout = defaults.ResponseTimeout
	}
	if config.ReadSize <= 0 {
		config.ReadSize = defaults.ReadSize
	}

	return &BlockingPlayer{
		dialer:   dialer,
		endpoint: endpoint,
		token:    token,
		output:   output,
		config:   config,
		logger:   logger,
	}
}

// Start plays req to completion. It returns nil once the request was
// accepted; the end of playback is the return itself.
func (p *BlockingPlayer) Start(ctx context.Context, req Request) error {
	p.setPlaying(true)
	defer p.setPlaying(false)

	logger := observability.WithSessionID(p.getLogger(), req.SessionID)
	metrics := observability.NewSessionMetrics(req.SessionID)
	metrics.RecordRequestStart()

	logger.Info().Str("host", p.endpoint.Host).Msg("Connecting")
	conn, err := p.dialer.DialContext(ctx, "tcp", p.endpoint.Address())
	if err != nil {
		metrics.RecordRequestEnd(false)
		return fmt.Errorf("%w: TLS connect failed: %v", ErrSocket, err)
	}
	p.setConn(conn)
	defer p.closeConn()

	if err := p.writeRequest(conn, req); err != nil {
		metrics.RecordRequestEnd(false)
		return fmt.Errorf("%w: failed to send request: %v", ErrSocket, err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(p.config.ResponseTimeout)); err != nil {
		logger.Debug().Err(err).Msg("Failed to set response deadline")
	}
	r := bufio.NewReader(conn)

	statusLine, err := r.ReadString('\n')
	if err != nil {
		logger.Debug().Err(err).Msg("Status line read ended")
	}
	statusLine = strings.TrimRight(statusLine, "\r\n")
	logger.Debug().Str("status", statusLine).Msg("Status")

	if !strings.HasPrefix(statusLine, "HTTP/1.1 200") {
		metrics.RecordRequestEnd(false)
		p.skipHeaders(r, logger)
		return parseStatusLine(statusLine)
	}
	metrics.RecordRequestEnd(true)

	p.skipHeaders(r, logger)
	logger.Info().Msg("Streaming audio...")

	metrics.RecordStreamStart()
	p.copyUntilIdle(conn, r, metrics, logger)
	metrics.RecordStreamEnd()

	logger.Info().Msg("Playback finished")
	return nil
}

func (p *BlockingPlayer) writeRequest(conn net.Conn, req Request) error {
	payload, err := BuildPayload(req)
	if err != nil {
		return err
	}

	w := bufio.NewWriter(conn)
	fmt.Fprintf(w, "POST %s HTTP/1.1\r\n", p.endpoint.Path)
	fmt.Fprintf(w, "Host: %s\r\n", p.endpoint.Host)
	fmt.Fprintf(w, "Authorization: Bearer %s\r\n", p.token)
	fmt.Fprintf(w, "Content-Type: application/json\r\n")
	fmt.Fprintf(w, "Accept: %s\r\n", req.AudioFormat)
	fmt.Fprintf(w, "Connection: close\r\n")
	fmt.Fprintf(w, "Content-Length: %d\r\n", len(payload))
	fmt.Fprintf(w, "\r\n")
	w.Write(payload)
	return w.Flush()
}

// skipHeaders discards header lines up to the blank line or a read failure
func (p *BlockingPlayer) skipHeaders(r *bufio.Reader, logger zerolog.Logger) {
	for {
		line, err := r.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			return
		}
		logger.Debug().Str("header", line).Msg("[HDR]")
		if err != nil {
			return
		}
	}
}

// copyUntilIdle moves body bytes into the output until the peer closes or
// nothing arrives for the idle timeout.
func (p *BlockingPlayer) copyUntilIdle(conn net.Conn, r *bufio.Reader, metrics *observability.SessionMetrics, logger zerolog.Logger) {
	buf := make([]byte, p.config.ReadSize)
	for {
		if err := conn.SetReadDeadline(time.Now().Add(p.config.IdleTimeout)); err != nil {
			logger.Debug().Err(err).Msg("Failed to set idle deadline")
		}
		n, err := r.Read(buf)
		if n > 0 {
			metrics.RecordAudioBytes("in", int64(n))
			if _, werr := p.output.Write(buf[:n]); werr != nil {
				logger.Error().Err(werr).Msg("Decoder write failed")
				return
			}
			metrics.RecordAudioBytes("out", int64(n))
		}
		if err != nil {
			var netErr net.Error
			switch {
			case errors.As(err, &netErr) && netErr.Timeout():
				logger.Debug().Dur("idle_timeout", p.config.IdleTimeout).Msg("No data, ending stream")
			case errors.Is(err, io.EOF):
				logger.Debug().Msg("Peer closed stream")
			default:
				logger.Debug().Err(err).Msg("Stream read ended")
			}
			return
		}
	}
}

// parseStatusLine builds the HTTPError for a rejected status line
func parseStatusLine(line string) error {
	herr := &HTTPError{Status: line}
	if fields := strings.Fields(line); len(fields) >= 2 {
		if code, err := strconv.Atoi(fields[1]); err == nil {
			herr.StatusCode = code
		}
	}
	if line == "" {
		herr.Status = "no status line"
	}
	return herr
}

// Service is a no-op; playback completes inside Start
func (p *BlockingPlayer) Service() error {
	return nil
}

// Stop closes the socket if one is open
func (p *BlockingPlayer) Stop() {
	p.closeConn()
	p.setPlaying(false)
	logger := p.getLogger()
	logger.Info().Msg("Stopped")
}

// IsPlaying reports whether Start is running
func (p *BlockingPlayer) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// IsBusy is the same as IsPlaying for the blocking player
func (p *BlockingPlayer) IsBusy() bool {
	return p.IsPlaying()
}

// SetGain forwards the gain when the output supports it
func (p *BlockingPlayer) SetGain(gain float64) {
	if gs, ok := p.output.(gainSetter); ok {
		gs.SetGain(gain)
	}
}

// SetLogger replaces the logger
func (p *BlockingPlayer) SetLogger(logger zerolog.Logger) {
	p.mu.Lock()
	p.logger = logger
	p.mu.Unlock()
}

func (p *BlockingPlayer) getLogger() zerolog.Logger {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.logger
}

func (p *BlockingPlayer) setPlaying(playing bool) {
	p.mu.Lock()
	p.playing = playing
	p.mu.Unlock()
}

func (p *BlockingPlayer) setConn(conn net.Conn) {
	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()
}

func (p *BlockingPlayer) closeConn() {
	p.mu.Lock()
	conn := p.conn
	p.conn = nil
	p.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}
