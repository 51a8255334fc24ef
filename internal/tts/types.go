package tts

import (
	"context"
	"net"
	"strconv"

	"github.com/rs/zerolog"
)

// Request is one utterance plus the settings snapshot taken when Speak was called
type Request struct {
	SessionID      string
	Text           string
	Voice          string
	Style          string
	Speed          int
	Pitch          int
	SFXCharacter   string
	SFXEnvironment string
	AudioFormat    string
}

// Player streams one synthesis response at a time into an audio output
type Player interface {
	// Start issues the request for req. For the background player it returns
	// once the response is streaming; for the blocking player it returns
	// after playback.
	Start(ctx context.Context, req Request) error

	// Service moves buffered network data into the output and updates the
	// playback gate. It must be called repeatedly while busy.
	Service() error

	// Stop closes any open stream and silences output. Safe when idle.
	Stop()

	// IsPlaying reports whether output is audible
	IsPlaying() bool

	// IsBusy reports whether a response is streaming or playing
	IsBusy() bool

	// SetGain changes the output gain of the live output chain
	SetGain(gain float64)

	// SetLogger replaces the logger after a verbosity change
	SetLogger(logger zerolog.Logger)
}

// Stream is the readable side of an open synthesis response.
// Available and Read never block.
type Stream interface {
	// Available returns how many bytes can be read right now
	Available() int

	// Read copies up to len(p) available bytes
	Read(p []byte) (int, error)

	// Connected reports whether more data may still arrive
	Connected() bool

	// Err returns the error that ended the stream, nil for a clean end
	Err() error

	// Close releases the network resources
	Close() error
}

// Requester issues synthesis requests over a secure transport
type Requester interface {
	// Open posts req and returns the response body once the status is 200
	Open(ctx context.Context, req Request) (Stream, error)

	// Reset drops pooled connections so the next request starts fresh
	Reset()
}

// Mixer is a background decoder/output chain: it accepts encoded audio,
// decodes it and renders it across many scheduler turns.
type Mixer interface {
	// Write buffers encoded audio and returns how many bytes were accepted
	Write(p []byte) (int, error)

	// Available returns bytes accepted but not yet rendered
	Available() int

	Pause()
	Unpause()
	Paused() bool

	SetGain(gain float64)
}

// Dialer opens the raw secure socket used by the blocking player
type Dialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// Endpoint locates the synthesis API
type Endpoint struct {
	Host string
	Port int
	Path string
}

// DefaultEndpoint returns the Wit.ai synthesize endpoint
func DefaultEndpoint() Endpoint {
	return Endpoint{
		Host: "api.wit.ai",
		Port: 443,
		Path: "/synthesize?v=20240304",
	}
}

// Address returns host:port for dialing
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// URL returns the HTTPS URL of the endpoint
func (e Endpoint) URL() string {
	host := e.Host
	if e.Port != 0 && e.Port != 443 {
		host = e.Address()
	}
	return "https://" + host + e.Path
}
