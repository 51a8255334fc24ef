package tts

import (
	"fmt"
	"strconv"

	"github.com/lexiqai/wit-speaker/internal/observability"
)

// Limits and defaults for the synthesis parameters
const (
	MinSpeed     = 0
	MaxSpeed     = 200
	DefaultSpeed = 100

	MinPitch     = 0
	MaxPitch     = 200
	DefaultPitch = 100

	DefaultGain = 0.5

	// MaxTextLength is the Wit.ai limit on characters per request
	MaxTextLength = 280
)

// Supported Accept formats
const (
	FormatMPEG  = "audio/mpeg"
	FormatPCM16 = "audio/pcm16"
)

// Pins is the I2S output wiring
type Pins struct {
	BCLK uint8
	LRC  uint8
	DIN  uint8
}

func (p Pins) String() string {
	return fmt.Sprintf("BCLK=%d LRC=%d DIN=%d", p.BCLK, p.LRC, p.DIN)
}

// Settings is the speaker's configuration state
type Settings struct {
	Voice          string
	Style          string
	Speed          int
	Pitch          int
	SFXCharacter   string
	SFXEnvironment string
	Gain           float64
	AudioFormat    string
	DebugLevel     uint8
	Pins           Pins
}

// DefaultSettings returns the defaults for a player mode
func DefaultSettings(mode Mode) Settings {
	return Settings{
		Voice:          "wit$Remi",
		Style:          "default",
		Speed:          DefaultSpeed,
		Pitch:          DefaultPitch,
		SFXCharacter:   "none",
		SFXEnvironment: "none",
		Gain:           DefaultGain,
		AudioFormat:    FormatMPEG,
		DebugLevel:     observability.DebugInfo,
		Pins:           mode.DefaultPins(),
	}
}

// ClampSpeed limits speed to [MinSpeed, MaxSpeed]
func ClampSpeed(speed int) int {
	return max(MinSpeed, min(speed, MaxSpeed))
}

// ClampPitch limits pitch to [MinPitch, MaxPitch]
func ClampPitch(pitch int) int {
	return max(MinPitch, min(pitch, MaxPitch))
}

// ClampGain limits gain to [0, 1]
func ClampGain(gain float64) float64 {
	if gain != gain { // NaN
		return 0
	}
	return max(0, min(gain, 1))
}

// ClampDebugLevel limits the verbosity to [DebugOff, DebugVerbose]
func ClampDebugLevel(level uint8) uint8 {
	return min(level, observability.DebugVerbose)
}

// ValidAudioFormat reports whether format is an accepted Accept value
func ValidAudioFormat(format string) bool {
	return format == FormatMPEG || format == FormatPCM16
}

// Summary renders the compact one-line configuration
func (s Settings) Summary() string {
	return fmt.Sprintf("Voice:%s,Style:%s,Speed:%d,Pitch:%d,Gain:%s,Debug:%d",
		s.Voice, s.Style, s.Speed, s.Pitch, formatGain(s.Gain), s.DebugLevel)
}

// request snapshots the settings for one utterance
func (s Settings) request(sessionID, text string) Request {
	return Request{
		SessionID:      sessionID,
		Text:           text,
		Voice:          s.Voice,
		Style:          s.Style,
		Speed:          s.Speed,
		Pitch:          s.Pitch,
		SFXCharacter:   s.SFXCharacter,
		SFXEnvironment: s.SFXEnvironment,
		AudioFormat:    s.AudioFormat,
	}
}

func formatGain(gain float64) string {
	return strconv.FormatFloat(gain, 'f', -1, 64)
}
