//go:build blocking

package tts

// DefaultMode is the player selected when none is configured.
const DefaultMode = ModeBlocking
