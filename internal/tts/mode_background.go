//go:build !blocking

package tts

// DefaultMode is the player selected when none is configured.
// Build with -tags blocking for boards without a background mixer.
const DefaultMode = ModeBackground
