package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/lexiqai/wit-speaker/internal/audio"
	"github.com/lexiqai/wit-speaker/internal/config"
	"github.com/lexiqai/wit-speaker/internal/netlink"
	"github.com/lexiqai/wit-speaker/internal/observability"
	"github.com/lexiqai/wit-speaker/internal/tts"
)

// loopInterval paces Loop calls while a response is in flight
const loopInterval = 5 * time.Millisecond

func main() {
	os.Exit(run())
}

// run returns the process exit code so deferred cleanup flushes the output
func run() int {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	mode, err := tts.ParseMode(cfg.PlayerMode)
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid PLAYER_MODE")
	}

	sink, err := openSink(cfg.OutputPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.OutputPath).Msg("Failed to open audio output")
	}
	defer sink.Close()

	logger.Info().
		Str("mode", mode.String()).
		Str("output", cfg.OutputPath).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("witspeak starting")

	link := netlink.HostLink{}
	speaker := tts.New(
		tts.WithMode(mode),
		tts.WithLogger(logger),
		tts.WithLink(link),
		tts.WithConnectConfig(cfg.ConnectConfig()),
		tts.WithTLSInsecure(cfg.WitTLSInsecure),
		tts.WithBlockingConfig(tts.BlockingConfig{IdleTimeout: cfg.IdleTimeout()}),
		tts.WithMixerFactory(mixerFactory(sink, cfg.MixerByteRate, logger)),
		tts.WithOutputFactory(outputFactory(sink)),
	)
	defer speaker.Close()

	var failed atomic.Bool
	speaker.AddErrorHandler(tts.ErrorHandlerFunc(func(string) { failed.Store(true) }))

	if err := applySettings(speaker, cfg, mode); err != nil {
		logger.Fatal().Err(err).Msg("Invalid voice settings")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.MetricsEnabled {
		server := newMetricsServer(cfg.MetricsPort, speaker, link)
		g.Go(func() error {
			logger.Info().Str("port", cfg.MetricsPort).Msg("Metrics server listening")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		// The metrics server only lives as long as the speech run
		defer cancel()

		creds := tts.Credentials{SSID: cfg.WiFiSSID, Password: cfg.WiFiPassword}
		if err := speaker.Initialize(gctx, creds, cfg.WitToken); err != nil {
			return err
		}
		if cfg.DebugLevel >= observability.DebugInfo {
			speaker.PrintConfig(os.Stderr)
		}
		return speakAll(gctx, speaker, texts(os.Args[1:], os.Stdin))
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("witspeak failed")
		return 1
	}
	if failed.Load() {
		return 1
	}
	logger.Info().Msg("witspeak finished")
	return 0
}

// speakAll plays each utterance to completion, driving Loop in between
func speakAll(ctx context.Context, speaker *tts.Speaker, utterances <-chan string) error {
	ticker := time.NewTicker(loopInterval)
	defer ticker.Stop()

	for text := range utterances {
		if err := speaker.Speak(ctx, text); err != nil {
			// Already reported; move on to the next utterance
			continue
		}
		for speaker.IsBusy() {
			select {
			case <-ctx.Done():
				speaker.Stop()
				return ctx.Err()
			case <-ticker.C:
				speaker.Loop()
			}
		}
	}
	return nil
}

// texts yields the command line as one utterance, or stdin line by line
func texts(args []string, stdin io.Reader) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		if len(args) > 0 {
			out <- strings.Join(args, " ")
			return
		}
		scanner := bufio.NewScanner(stdin)
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); line != "" {
				out <- line
			}
		}
	}()
	return out
}

func applySettings(speaker *tts.Speaker, cfg *config.Config, mode tts.Mode) error {
	speaker.SetVoice(cfg.Voice)
	speaker.SetStyle(cfg.Style)
	speaker.SetSpeed(cfg.Speed)
	speaker.SetPitch(cfg.Pitch)
	speaker.SetSFXCharacter(cfg.SFXCharacter)
	speaker.SetSFXEnvironment(cfg.SFXEnvironment)
	speaker.SetGain(cfg.Gain)
	speaker.SetDebugLevel(cfg.DebugLevel)

	pins := mode.DefaultPins()
	if cfg.BCLKPin != nil {
		pins.BCLK = *cfg.BCLKPin
	}
	if cfg.LRCPin != nil {
		pins.LRC = *cfg.LRCPin
	}
	if cfg.DINPin != nil {
		pins.DIN = *cfg.DINPin
	}
	speaker.SetPins(pins)

	return speaker.SetAudioFormat(cfg.AudioFormat)
}

// openSink opens the decoded audio destination
func openSink(path string) (io.WriteCloser, error) {
	if path == "" {
		return nopCloser{io.Discard}, nil
	}
	return os.Create(path)
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func mixerFactory(sink io.Writer, byteRate int, logger zerolog.Logger) tts.MixerFactory {
	return func(pins tts.Pins, settings tts.Settings) (tts.Mixer, error) {
		mc := audio.DefaultMixerConfig()
		mc.ByteRate = byteRate
		mc.Gain = settings.Gain
		mc.PCM16 = settings.AudioFormat == tts.FormatPCM16

		logger.Debug().Stringer("pins", pins).Int("byte_rate", byteRate).Msg("Starting mixer")
		m := audio.NewMixer(sink, mc, logger)
		m.Start()
		return m, nil
	}
}

func outputFactory(sink io.Writer) tts.OutputFactory {
	return func(pins tts.Pins, settings tts.Settings) (io.Writer, error) {
		if settings.AudioFormat == tts.FormatPCM16 {
			return audio.NewGainWriter(sink, settings.Gain), nil
		}
		return sink, nil
	}
}

func newMetricsServer(port string, speaker *tts.Speaker, link netlink.Link) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", observability.HealthCheckHandler())
	mux.HandleFunc("/ready", observability.ReadinessHandler(map[string]observability.HealthCheckFunc{
		"network": func(ctx context.Context) (bool, error) {
			if !link.Connected() {
				return false, fmt.Errorf("no network address")
			}
			return true, nil
		},
		"speaker": func(ctx context.Context) (bool, error) {
			if !speaker.Initialized() {
				return false, fmt.Errorf("not initialized")
			}
			return true, nil
		},
	}))

	return &http.Server{
		Addr:         fmt.Sprintf(":%s", port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}
