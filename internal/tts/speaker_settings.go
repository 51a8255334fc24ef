package tts

import (
	"fmt"
	"io"
)

func (s *Speaker) SetVoice(voice string) {
	s.mu.Lock()
	s.settings.Voice = voice
	s.mu.Unlock()
}

func (s *Speaker) SetStyle(style string) {
	s.mu.Lock()
	s.settings.Style = style
	s.mu.Unlock()
}

// SetSpeed sets the speaking rate, clamped to [MinSpeed, MaxSpeed]
func (s *Speaker) SetSpeed(speed int) {
	s.mu.Lock()
	s.settings.Speed = ClampSpeed(speed)
	s.mu.Unlock()
}

// SetPitch sets the pitch, clamped to [MinPitch, MaxPitch]
func (s *Speaker) SetPitch(pitch int) {
	s.mu.Lock()
	s.settings.Pitch = ClampPitch(pitch)
	s.mu.Unlock()
}

func (s *Speaker) SetSFXCharacter(character string) {
	s.mu.Lock()
	s.settings.SFXCharacter = character
	s.mu.Unlock()
}

func (s *Speaker) SetSFXEnvironment(environment string) {
	s.mu.Lock()
	s.settings.SFXEnvironment = environment
	s.mu.Unlock()
}

// SetGain sets the output volume, clamped to [0, 1]. A live player picks
// it up immediately.
func (s *Speaker) SetGain(gain float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.settings.Gain = ClampGain(gain)
	if s.player != nil {
		s.player.SetGain(s.settings.Gain)
	}
}

// SetAudioFormat sets the Accept format. Unknown formats are reported and
// leave the current value unchanged.
func (s *Speaker) SetAudioFormat(format string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !ValidAudioFormat(format) {
		err := fmt.Errorf("%w: invalid audio format %q", ErrInvalidInput, format)
		s.report(err)
		return err
	}
	s.settings.AudioFormat = format
	return nil
}

// SetDebugLevel sets the log verbosity: 0 off, 1 errors, 2 info, 3 verbose
func (s *Speaker) SetDebugLevel(level uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.settings.DebugLevel = ClampDebugLevel(level)
	s.applyLogLevel()
}

// SetPins sets the I2S wiring. It takes effect at the next Initialize.
func (s *Speaker) SetPins(pins Pins) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.settings.Pins = pins
	if s.initialized.Load() {
		s.logger.Warn().Stringer("pins", pins).Msg("Pins changed after init, re-initialize to apply")
	}
}

// Settings returns a copy of the current configuration
func (s *Speaker) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// ConfigSummary renders the compact one-line configuration
func (s *Speaker) ConfigSummary() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings.Summary()
}

// PrintConfig writes a human-readable configuration report to w
func (s *Speaker) PrintConfig(w io.Writer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := "Not Initialized"
	if s.initialized.Load() {
		status = "Initialized"
	}
	wifi := "Disconnected"
	ip := "-"
	if s.link != nil && s.link.Connected() {
		wifi = "Connected"
		ip = s.link.LocalIP()
	}

	set := s.settings
	_, err := fmt.Fprintf(w, `
=== WitAITTS Configuration ===
Mode: %s
Status: %s
WiFi: %s (%s)
IP: %s
Voice: %s
Style: %s
Speed: %d
Pitch: %d
SFX Character: %s
SFX Environment: %s
Gain: %s
Audio Format: %s
Debug Level: %d
Pins: %s
==============================
`, s.mode, status, wifi, s.ssid, ip, set.Voice, set.Style, set.Speed, set.Pitch,
		set.SFXCharacter, set.SFXEnvironment, formatGain(set.Gain), set.AudioFormat,
		set.DebugLevel, set.Pins)
	return err
}
