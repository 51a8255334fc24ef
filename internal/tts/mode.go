package tts

import (
	"fmt"
	"strings"
)

// Mode selects the player implementation
type Mode int

const (
	// ModeBackground streams into a background mixer driven by Loop
	ModeBackground Mode = iota
	// ModeBlocking plays each utterance inside Speak over a raw socket
	ModeBlocking
)

func (m Mode) String() string {
	switch m {
	case ModeBackground:
		return "background"
	case ModeBlocking:
		return "blocking"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// DefaultPins returns the I2S wiring of the reference board for the mode
func (m Mode) DefaultPins() Pins {
	if m == ModeBlocking {
		return Pins{BCLK: 18, LRC: 19, DIN: 20}
	}
	return Pins{BCLK: 27, LRC: 26, DIN: 25}
}

// ParseMode parses "background" or "blocking"; "" yields DefaultMode
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return DefaultMode, nil
	case "background":
		return ModeBackground, nil
	case "blocking":
		return ModeBlocking, nil
	default:
		return DefaultMode, fmt.Errorf("%w: unknown player mode %q", ErrInvalidInput, s)
	}
}
