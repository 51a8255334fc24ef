package tts

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/lexiqai/wit-speaker/internal/observability"
)

// BackgroundConfig holds the buffering policy of the background player
type BackgroundConfig struct {
	ReadSize        int // Bytes per network read
	ReadsPerService int // Reads attempted per Service call
	StartLevel      int // Buffered bytes required before playback starts
}

// DefaultBackgroundConfig returns 4 reads of 2 KiB per turn and a 1 KiB start level
func DefaultBackgroundConfig() BackgroundConfig {
	return BackgroundConfig{
		ReadSize:        2048,
		ReadsPerService: 4,
		StartLevel:      1024,
	}
}

// BackgroundPlayer streams responses into a background mixer.
// All progress happens in Service; no call blocks on the network
// except the request phase of Start. It is not safe for concurrent use.
type BackgroundPlayer struct {
	requester Requester
	mixer     Mixer
	config    BackgroundConfig
	logger    zerolog.Logger

	buf     []byte
	pending []byte // bytes read but not yet accepted by the mixer

	stream            Stream
	streaming         bool
	downloadCompleted bool
	sessionLog        zerolog.Logger
	metrics           *observability.SessionMetrics
}

// NewBackgroundPlayer creates an idle player
func NewBackgroundPlayer(requester Requester, mixer Mixer, config BackgroundConfig, logger zerolog.Logger) *BackgroundPlayer {
	defaults := DefaultBackgroundConfig()
	if config.ReadSize <= 0 {
		config.ReadSize = defaults.ReadSize
	}
	if config.ReadsPerService <= 0 {
		config.ReadsPerService = defaults.ReadsPerService
	}
	if config.StartLevel < 0 {
		config.StartLevel = defaults.StartLevel
	}

	return &BackgroundPlayer{
		requester:  requester,
		mixer:      mixer,
		config:     config,
		logger:     logger,
		sessionLog: logger,
		buf:        make([]byte, config.ReadSize),
	}
}

// Start tears down any open stream and opens a new request. Output is
// paused until enough audio has buffered.
func (p *BackgroundPlayer) Start(ctx context.Context, req Request) error {
	p.closeStream()
	p.pending = nil
	p.requester.Reset()

	p.sessionLog = observability.WithSessionID(p.logger, req.SessionID)
	p.sessionLog.Info().Str("text", preview(req.Text)).Msg("Requesting TTS")

	metrics := observability.NewSessionMetrics(req.SessionID)
	metrics.RecordRequestStart()

	stream, err := p.requester.Open(ctx, req)
	if err != nil {
		metrics.RecordRequestEnd(false)
		return err
	}
	metrics.RecordRequestEnd(true)
	metrics.RecordStreamStart()

	p.sessionLog.Info().Msg("Stream opened")
	p.stream = stream
	p.metrics = metrics
	p.streaming = true
	p.downloadCompleted = false
	p.mixer.Pause()

	return nil
}

// Service drains a bounded amount of network data into the mixer, then
// decides whether output should start.
func (p *BackgroundPlayer) Service() error {
	var err error
	if p.streaming && p.stream != nil {
		err = p.download()
	}
	p.updatePlayback()
	return err
}

func (p *BackgroundPlayer) download() error {
	if !p.flushPending() {
		return nil
	}

	for i := 0; i < p.config.ReadsPerService; i++ {
		if p.stream.Available() > 0 {
			n, err := p.stream.Read(p.buf)
			if n > 0 {
				p.metrics.RecordAudioBytes("in", int64(n))
				p.sessionLog.Debug().Int("bytes", n).Msg("Read")
				if werr := p.feed(p.buf[:n]); werr != nil {
					return p.fail(werr)
				}
				if len(p.pending) > 0 {
					return nil
				}
			}
			if err != nil && !errors.Is(err, io.EOF) {
				return p.fail(err)
			}
		} else if !p.stream.Connected() {
			if err := p.stream.Err(); err != nil {
				return p.fail(err)
			}
			p.sessionLog.Info().Msg("Download completed")
			p.closeStream()
			p.downloadCompleted = true
			break
		}
	}
	return nil
}

// feed hands data to the mixer and keeps whatever it could not take
func (p *BackgroundPlayer) feed(data []byte) error {
	n, err := p.mixer.Write(data)
	if n > 0 {
		p.metrics.RecordAudioBytes("out", int64(n))
	}
	if err != nil {
		return err
	}
	if n < len(data) {
		p.pending = append(p.pending[:0], data[n:]...)
	}
	return nil
}

// flushPending retries held-back bytes; false means the mixer is still full
func (p *BackgroundPlayer) flushPending() bool {
	if len(p.pending) == 0 {
		return true
	}
	n, err := p.mixer.Write(p.pending)
	if n > 0 {
		p.metrics.RecordAudioBytes("out", int64(n))
	}
	if err != nil {
		p.sessionLog.Warn().Err(err).Msg("Mixer rejected buffered audio")
		p.pending = nil
		return true
	}
	p.pending = p.pending[n:]
	return len(p.pending) == 0
}

// fail ends the session after a network error; what was received still plays
func (p *BackgroundPlayer) fail(err error) error {
	p.closeStream()
	p.pending = nil
	p.downloadCompleted = true
	return fmt.Errorf("%w: stream interrupted: %v", ErrNetworkConnect, err)
}

func (p *BackgroundPlayer) updatePlayback() {
	if p.mixer.Paused() {
		if p.mixer.Available() > p.config.StartLevel {
			p.sessionLog.Info().Msg("Buffer ready, starting playback")
			p.mixer.Unpause()
		} else if p.downloadCompleted {
			// Short clips may never reach the start level
			p.sessionLog.Info().Msg("Short audio/End of stream, force play")
			p.mixer.Unpause()
			p.downloadCompleted = false
			if p.metrics != nil {
				p.metrics.RecordForcedStart()
			}
		}
		return
	}

	if !p.streaming && p.mixer.Available() == 0 {
		p.sessionLog.Info().Msg("Playback finished")
		p.mixer.Pause()
		p.downloadCompleted = false
	}
}

func (p *BackgroundPlayer) closeStream() {
	if p.stream != nil {
		if err := p.stream.Close(); err != nil {
			p.sessionLog.Debug().Err(err).Msg("Error closing stream")
		}
	}
	if p.metrics != nil && p.streaming {
		p.metrics.RecordStreamEnd()
	}
	p.stream = nil
	p.streaming = false
}

// Stop closes the stream and pauses output. Safe to call when idle.
func (p *BackgroundPlayer) Stop() {
	p.closeStream()
	p.pending = nil
	p.downloadCompleted = false
	p.mixer.Pause()
	p.logger.Info().Msg("Stopped")
}

// IsPlaying reports whether the mixer is rendering
func (p *BackgroundPlayer) IsPlaying() bool {
	return !p.mixer.Paused()
}

// IsBusy reports whether a response is streaming or playing
func (p *BackgroundPlayer) IsBusy() bool {
	return p.streaming || p.IsPlaying()
}

// SetGain forwards the gain to the mixer
func (p *BackgroundPlayer) SetGain(gain float64) {
	p.mixer.SetGain(gain)
}

// SetLogger replaces the logger
func (p *BackgroundPlayer) SetLogger(logger zerolog.Logger) {
	p.logger = logger
	p.sessionLog = logger
}

// preview shortens text for logs
func preview(text string) string {
	const limit = 30
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}
