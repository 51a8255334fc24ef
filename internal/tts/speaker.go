package tts

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/lexiqai/wit-speaker/internal/audio"
	"github.com/lexiqai/wit-speaker/internal/netlink"
	"github.com/lexiqai/wit-speaker/internal/observability"
	"github.com/lexiqai/wit-speaker/internal/resilience"
)

// Credentials are the Wi-Fi station credentials passed to Initialize
type Credentials struct {
	SSID     string
	Password string
}

// MixerFactory builds the background output chain at Initialize
type MixerFactory func(pins Pins, settings Settings) (Mixer, error)

// OutputFactory builds the blocking decoder/output chain at Initialize
type OutputFactory func(pins Pins, settings Settings) (io.Writer, error)

// Speaker is the text-to-speech client. It owns the configuration state and
// the player, and funnels every error through one reporting path.
// Its methods may be called from multiple goroutines; they are serialized.
// With the blocking player, Stop, IsBusy and IsPlaying wait until a running
// Speak returns, so they cannot interrupt or observe it. Initialized does
// not wait.
type Speaker struct {
	mu sync.Mutex

	mode     Mode
	settings Settings

	base   zerolog.Logger
	logger zerolog.Logger

	link          netlink.Link
	connectConfig *resilience.AwaitConfig
	endpoint      Endpoint
	httpClient    *http.Client
	requester     Requester
	dialer        Dialer
	tlsInsecure   bool
	mixerFactory  MixerFactory
	outputFactory OutputFactory
	background    BackgroundConfig
	blocking      BlockingConfig

	handlers []ErrorHandler

	player      Player
	output      any // mixer or writer built for the player, closed on re-init
	initialized atomic.Bool
	ssid        string
}

// Option configures a Speaker
type Option func(*Speaker)

// WithMode selects the player implementation
func WithMode(mode Mode) Option {
	return func(s *Speaker) {
		s.mode = mode
		s.settings.Pins = mode.DefaultPins()
	}
}

// WithLogger sets the base logger; the debug level filters it
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Speaker) { s.base = logger }
}

// WithLink sets the network link brought up by Initialize
func WithLink(link netlink.Link) Option {
	return func(s *Speaker) { s.link = link }
}

// WithConnectConfig sets the attempts and delay of the link connect loop
func WithConnectConfig(config *resilience.AwaitConfig) Option {
	return func(s *Speaker) { s.connectConfig = config }
}

// WithEndpoint overrides the synthesis endpoint
func WithEndpoint(endpoint Endpoint) Option {
	return func(s *Speaker) { s.endpoint = endpoint }
}

// WithHTTPClient sets the client used by the background player
func WithHTTPClient(client *http.Client) Option {
	return func(s *Speaker) { s.httpClient = client }
}

// WithRequester replaces the HTTP transport of the background player
func WithRequester(requester Requester) Option {
	return func(s *Speaker) { s.requester = requester }
}

// WithDialer sets the socket dialer used by the blocking player
func WithDialer(dialer Dialer) Option {
	return func(s *Speaker) { s.dialer = dialer }
}

// WithTLSInsecure disables certificate verification for the default transports
func WithTLSInsecure(insecure bool) Option {
	return func(s *Speaker) { s.tlsInsecure = insecure }
}

// WithMixerFactory sets how the background output chain is built
func WithMixerFactory(factory MixerFactory) Option {
	return func(s *Speaker) { s.mixerFactory = factory }
}

// WithOutputFactory sets how the blocking output chain is built
func WithOutputFactory(factory OutputFactory) Option {
	return func(s *Speaker) { s.outputFactory = factory }
}

// WithBackgroundConfig overrides the buffering policy
func WithBackgroundConfig(config BackgroundConfig) Option {
	return func(s *Speaker) { s.background = config }
}

// WithBlockingConfig overrides the blocking player timeouts
func WithBlockingConfig(config BlockingConfig) Option {
	return func(s *Speaker) { s.blocking = config }
}

// New creates an uninitialized speaker with default settings
func New(opts ...Option) *Speaker {
	s := &Speaker{
		mode:       DefaultMode,
		settings:   DefaultSettings(DefaultMode),
		base:       observability.GetLogger(),
		link:       netlink.HostLink{},
		endpoint:   DefaultEndpoint(),
		background: DefaultBackgroundConfig(),
		blocking:   DefaultBlockingConfig(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.base = s.base.With().Str("component", "speaker").Str("mode", s.mode.String()).Logger()
	s.applyLogLevel()
	return s
}

// Initialize builds the output chain and transport, then brings up the
// network link. token is the Wit.ai bearer token.
func (s *Speaker) Initialize(ctx context.Context, creds Credentials, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info().Msg("WitAITTS Initializing...")

	s.releasePlayer()
	s.initialized.Store(false)
	s.ssid = creds.SSID

	player, err := s.buildPlayer(token)
	if err != nil {
		s.report(err)
		return err
	}
	s.player = player

	if err := netlink.Connect(ctx, s.link, creds.SSID, creds.Password, s.connectConfig, s.logger); err != nil {
		err = fmt.Errorf("%w: WiFi connection failed: %v", ErrNetworkConnect, err)
		s.report(err)
		return err
	}

	s.initialized.Store(true)
	s.logger.Info().Msg("WitAITTS Ready")
	return nil
}

func (s *Speaker) buildPlayer(token string) (Player, error) {
	switch s.mode {
	case ModeBlocking:
		factory := s.outputFactory
		if factory == nil {
			factory = DiscardOutput
		}
		output, err := factory(s.settings.Pins, s.settings)
		if err != nil {
			return nil, fmt.Errorf("failed to create audio output: %w", err)
		}
		s.output = output

		dialer := s.dialer
		if dialer == nil {
			dialer = &tls.Dialer{
				NetDialer: &net.Dialer{Timeout: 10 * time.Second},
				Config:    &tls.Config{ServerName: s.endpoint.Host, InsecureSkipVerify: s.tlsInsecure},
			}
		}
		return NewBlockingPlayer(dialer, s.endpoint, token, output, s.blocking, s.logger), nil

	default:
		factory := s.mixerFactory
		if factory == nil {
			factory = DiscardMixer
		}
		mixer, err := factory(s.settings.Pins, s.settings)
		if err != nil {
			return nil, fmt.Errorf("failed to create audio mixer: %w", err)
		}
		mixer.SetGain(s.settings.Gain)
		s.output = mixer

		requester := s.requester
		if requester == nil {
			client := s.httpClient
			if client == nil {
				client = NewHTTPClient(s.tlsInsecure)
			}
			requester = NewHTTPTransport(s.endpoint, token, client)
		}
		return NewBackgroundPlayer(requester, mixer, s.background, s.logger), nil
	}
}

// releasePlayer stops the current player and closes its output chain
func (s *Speaker) releasePlayer() {
	if s.player != nil {
		s.player.Stop()
		s.player = nil
	}
	if closer, ok := s.output.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to close audio output")
		}
	}
	s.output = nil
}

// Speak validates text and hands it to the player. With the background
// player a nil error means the response is streaming; Loop must then be
// called until IsBusy is false. With the blocking player Speak returns
// after playback.
func (s *Speaker) Speak(ctx context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized.Load() {
		err := ErrNotInitialized
		s.report(err)
		return err
	}
	if text == "" {
		err := fmt.Errorf("%w: empty text", ErrInvalidInput)
		s.report(err)
		return err
	}
	if utf8.RuneCountInString(text) > MaxTextLength {
		err := fmt.Errorf("%w: text too long (max %d chars)", ErrInvalidInput, MaxTextLength)
		s.report(err)
		return err
	}

	req := s.settings.request(observability.NewSessionID(), text)
	if err := s.player.Start(ctx, req); err != nil {
		s.report(err)
		return err
	}
	return nil
}

// Loop services the player. Call it repeatedly while IsBusy.
func (s *Speaker) Loop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.player == nil {
		return
	}
	if err := s.player.Service(); err != nil {
		s.report(err)
	}
}

// Stop ends the current playback. Safe when idle. With the blocking
// player it runs after Speak returns.
func (s *Speaker) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.player == nil {
		s.logger.Info().Msg("Stopped")
		return
	}
	s.player.Stop()
}

// IsPlaying reports whether audio is audible
func (s *Speaker) IsPlaying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.player != nil && s.player.IsPlaying()
}

// Initialized reports whether the last Initialize succeeded.
// It does not wait for a blocking Speak to return.
func (s *Speaker) Initialized() bool {
	return s.initialized.Load()
}

// IsBusy reports whether a response is streaming or playing
func (s *Speaker) IsBusy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.player != nil && s.player.IsBusy()
}

// Close stops playback and releases the output chain
func (s *Speaker) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.releasePlayer()
	s.initialized.Store(false)
	return nil
}

// AddErrorHandler registers an observer for reported errors
func (s *Speaker) AddErrorHandler(handler ErrorHandler) {
	if handler == nil {
		return
	}
	s.mu.Lock()
	s.handlers = append(s.handlers, handler)
	s.mu.Unlock()
}

// report logs err and notifies every handler
func (s *Speaker) report(err error) {
	msg := err.Error()
	s.logger.Error().Msg(msg)
	observability.RecordError(errorType(err))
	for _, h := range s.handlers {
		h.OnError(msg)
	}
}

func (s *Speaker) applyLogLevel() {
	s.logger = s.base.Level(observability.LevelForDebug(s.settings.DebugLevel))
	if s.player != nil {
		s.player.SetLogger(s.logger)
	}
}

// DiscardMixer is the default MixerFactory: a host mixer rendering to io.Discard
func DiscardMixer(pins Pins, settings Settings) (Mixer, error) {
	cfg := audio.DefaultMixerConfig()
	cfg.Gain = settings.Gain
	cfg.PCM16 = settings.AudioFormat == FormatPCM16
	m := audio.NewMixer(io.Discard, cfg, zerolog.Nop())
	m.Start()
	return m, nil
}

// DiscardOutput is the default OutputFactory
func DiscardOutput(pins Pins, settings Settings) (io.Writer, error) {
	if settings.AudioFormat == FormatPCM16 {
		return audio.NewGainWriter(io.Discard, settings.Gain), nil
	}
	return io.Discard, nil
}
