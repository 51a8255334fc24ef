package audio

import (
	"io"
	"math"
	"sync"
)

// ApplyGain scales 16-bit little-endian PCM samples in place.
// A trailing odd byte is left untouched.
func ApplyGain(pcm []byte, gain float64) {
	if gain == 1.0 {
		return
	}

	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		scaled := math.Round(float64(sample) * gain)

		// Clip to the int16 range
		if scaled > math.MaxInt16 {
			scaled = math.MaxInt16
		} else if scaled < math.MinInt16 {
			scaled = math.MinInt16
		}

		out := int16(scaled)
		pcm[i] = byte(out)
		pcm[i+1] = byte(out >> 8)
	}
}

// GainWriter applies a gain to a PCM16 byte stream before passing it on.
// Writes that split a sample are carried over to the next call.
type GainWriter struct {
	w     io.Writer
	mu    sync.Mutex
	gain  float64
	carry []byte
}

// NewGainWriter wraps w with the given gain.
func NewGainWriter(w io.Writer, gain float64) *GainWriter {
	return &GainWriter{w: w, gain: gain}
}

// SetGain changes the gain used for subsequent writes.
func (g *GainWriter) SetGain(gain float64) {
	g.mu.Lock()
	g.gain = gain
	g.mu.Unlock()
}

// Write scales every complete sample in p and forwards it.
func (g *GainWriter) Write(p []byte) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	buf := make([]byte, 0, len(g.carry)+len(p))
	buf = append(buf, g.carry...)
	buf = append(buf, p...)

	even := len(buf) &^ 1
	g.carry = append(g.carry[:0], buf[even:]...)
	if even == 0 {
		return len(p), nil
	}

	ApplyGain(buf[:even], g.gain)
	if _, err := g.w.Write(buf[:even]); err != nil {
		return 0, err
	}
	return len(p), nil
}
