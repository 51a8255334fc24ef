package audio

import (
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// MixerConfig holds configuration for the host background mixer
type MixerConfig struct {
	BufferSize int           // Ring buffer size in bytes
	ByteRate   int           // Bytes rendered to the sink per second
	Tick       time.Duration // Render interval
	PCM16      bool          // Sink receives PCM16, so gain is applied to samples
	Gain       float64       // Initial gain (0.0-1.0)
}

// DefaultMixerConfig returns a configuration sized for 128 kbps MP3
func DefaultMixerConfig() MixerConfig {
	return MixerConfig{
		BufferSize: 32 * 1024,
		ByteRate:   16000,
		Tick:       20 * time.Millisecond,
		Gain:       0.5,
	}
}

// oddByteTicks is how many renders a lone PCM16 byte may wait for its pair
const oddByteTicks = 5

// Mixer renders buffered audio to a sink from a background goroutine.
// It starts paused; bytes written while paused accumulate until Unpause.
type Mixer struct {
	buf    *RingBuffer
	sink   io.Writer
	config MixerConfig
	logger zerolog.Logger

	mu     sync.RWMutex
	paused bool
	gain   float64

	done    chan struct{}
	wg      sync.WaitGroup
	started bool
	closed  bool
}

// NewMixer creates a paused mixer that renders into sink
func NewMixer(sink io.Writer, config MixerConfig, logger zerolog.Logger) *Mixer {
	defaults := DefaultMixerConfig()
	if config.BufferSize <= 0 {
		config.BufferSize = defaults.BufferSize
	}
	if config.ByteRate <= 0 {
		config.ByteRate = defaults.ByteRate
	}
	if config.Tick <= 0 {
		config.Tick = defaults.Tick
	}

	return &Mixer{
		buf:    NewRingBuffer(config.BufferSize),
		sink:   sink,
		config: config,
		logger: logger.With().Str("component", "mixer").Logger(),
		paused: true,
		gain:   config.Gain,
		done:   make(chan struct{}),
	}
}

// Start launches the render goroutine. Calling it twice is a no-op.
func (m *Mixer) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started || m.closed {
		return
	}
	m.started = true

	m.wg.Add(1)
	go m.render()
}

// Close stops rendering and waits for the render goroutine to exit.
// A closed mixer cannot be restarted.
func (m *Mixer) Close() error {
	m.mu.Lock()
	started := m.started
	m.started = false
	m.closed = true
	m.mu.Unlock()

	if !started {
		return nil
	}
	close(m.done)
	m.wg.Wait()
	return nil
}

// Write buffers encoded audio and returns how many bytes were accepted
func (m *Mixer) Write(p []byte) (int, error) {
	return m.buf.Write(p), nil
}

// Available returns the bytes buffered but not yet rendered
func (m *Mixer) Available() int {
	return m.buf.Available()
}

// Pause holds rendering; buffered bytes are kept
func (m *Mixer) Pause() {
	m.mu.Lock()
	m.paused = true
	m.mu.Unlock()
}

// Unpause resumes rendering
func (m *Mixer) Unpause() {
	m.mu.Lock()
	m.paused = false
	m.mu.Unlock()
}

// Paused reports whether rendering is held
func (m *Mixer) Paused() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paused
}

// SetGain changes the output gain
func (m *Mixer) SetGain(gain float64) {
	m.mu.Lock()
	m.gain = gain
	m.mu.Unlock()
}

// render drains the buffer at the configured byte rate
func (m *Mixer) render() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.Tick)
	defer ticker.Stop()

	chunk := m.config.ByteRate * int(m.config.Tick) / int(time.Second)
	if chunk < 2 {
		chunk = 2
	}
	chunk &^= 1 // keep PCM16 samples whole
	out := make([]byte, chunk)
	stale := 0

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
		}

		m.mu.RLock()
		paused := m.paused
		gain := m.gain
		m.mu.RUnlock()

		if paused {
			stale = 0
			continue
		}

		want := len(out)
		if m.config.PCM16 {
			avail := m.buf.Available()
			if avail == 1 {
				// A trailing half sample is dropped once the producer stops
				if stale++; stale >= oddByteTicks {
					m.buf.Read(out[:1])
					stale = 0
					m.logger.Debug().Msg("Dropped trailing odd byte")
				}
				continue
			}
			stale = 0
			if even := avail &^ 1; even < want {
				want = even
			}
		}
		n := m.buf.Read(out[:want])
		if n == 0 {
			continue
		}
		if m.config.PCM16 {
			ApplyGain(out[:n], gain)
		}
		if _, err := m.sink.Write(out[:n]); err != nil {
			m.logger.Error().Err(err).Msg("Failed to write to audio sink")
		}
	}
}
