package tts

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexiqai/wit-speaker/internal/observability"
	"github.com/lexiqai/wit-speaker/internal/resilience"
)

type speakerFixture struct {
	speaker   *Speaker
	requester *fakeRequester
	mixer     *fakeMixer
	link      *fakeLink
	errors    *messages
}

func newSpeakerFixture(t *testing.T, streams ...Stream) *speakerFixture {
	t.Helper()
	f := &speakerFixture{
		requester: &fakeRequester{streams: streams},
		mixer:     newFakeMixer(32 * 1024),
		link:      &fakeLink{},
		errors:    &messages{},
	}
	f.speaker = New(
		WithMode(ModeBackground),
		WithLogger(zerolog.Nop()),
		WithLink(f.link),
		WithConnectConfig(&resilience.AwaitConfig{MaxAttempts: 3, Delay: time.Millisecond}),
		WithRequester(f.requester),
		WithMixerFactory(func(Pins, Settings) (Mixer, error) { return f.mixer, nil }),
	)
	f.speaker.AddErrorHandler(f.errors)
	return f
}

func (f *speakerFixture) initialize(t *testing.T) {
	t.Helper()
	require.NoError(t, f.speaker.Initialize(context.Background(), Credentials{SSID: "home", Password: "pw"}, "token"))
}

func TestSpeaker_SpeakBeforeInitialize(t *testing.T) {
	f := newSpeakerFixture(t)

	err := f.speaker.Speak(context.Background(), "hello")
	assert.True(t, errors.Is(err, ErrNotInitialized))
	assert.Equal(t, 0, f.requester.opens)
	assert.Equal(t, []string{"not initialized"}, f.errors.all())
}

func TestSpeaker_RejectsEmptyAndLongText(t *testing.T) {
	f := newSpeakerFixture(t)
	f.initialize(t)

	err := f.speaker.Speak(context.Background(), "")
	assert.True(t, errors.Is(err, ErrInvalidInput))

	err = f.speaker.Speak(context.Background(), strings.Repeat("a", MaxTextLength+1))
	assert.True(t, errors.Is(err, ErrInvalidInput))
	assert.Contains(t, err.Error(), "max 280")

	assert.Equal(t, 0, f.requester.opens, "rejected text must not reach the network")
	assert.Len(t, f.errors.all(), 2)
}

func TestSpeaker_TextLimitCountsCharacters(t *testing.T) {
	f := newSpeakerFixture(t)
	f.initialize(t)

	// 280 multi-byte characters is within the limit
	require.NoError(t, f.speaker.Speak(context.Background(), strings.Repeat("é", MaxTextLength)))
	assert.Equal(t, 1, f.requester.opens)
}

func TestSpeaker_SpeakSnapshotsSettings(t *testing.T) {
	f := newSpeakerFixture(t)
	f.initialize(t)

	f.speaker.SetVoice("wit$Rebecca")
	f.speaker.SetStyle("soft")
	f.speaker.SetSpeed(150)
	f.speaker.SetPitch(90)
	f.speaker.SetSFXCharacter("robot")
	f.speaker.SetSFXEnvironment("cathedral")
	require.NoError(t, f.speaker.SetAudioFormat(FormatPCM16))

	require.NoError(t, f.speaker.Speak(context.Background(), "Hello"))

	req := f.requester.last
	assert.Equal(t, "Hello", req.Text)
	assert.Equal(t, "wit$Rebecca", req.Voice)
	assert.Equal(t, "soft", req.Style)
	assert.Equal(t, 150, req.Speed)
	assert.Equal(t, 90, req.Pitch)
	assert.Equal(t, "robot", req.SFXCharacter)
	assert.Equal(t, "cathedral", req.SFXEnvironment)
	assert.Equal(t, FormatPCM16, req.AudioFormat)
	assert.NotEmpty(t, req.SessionID)
}

func TestSpeaker_SettersClamp(t *testing.T) {
	f := newSpeakerFixture(t)

	f.speaker.SetSpeed(250)
	f.speaker.SetPitch(-5)
	f.speaker.SetGain(1.5)
	f.speaker.SetDebugLevel(7)
	s := f.speaker.Settings()
	assert.Equal(t, 200, s.Speed)
	assert.Equal(t, 0, s.Pitch)
	assert.Equal(t, 1.0, s.Gain)
	assert.Equal(t, uint8(3), s.DebugLevel)

	f.speaker.SetSpeed(-1)
	f.speaker.SetPitch(300)
	f.speaker.SetGain(-0.2)
	s = f.speaker.Settings()
	assert.Equal(t, 0, s.Speed)
	assert.Equal(t, 200, s.Pitch)
	assert.Equal(t, 0.0, s.Gain)
}

func TestSpeaker_InvalidAudioFormat(t *testing.T) {
	f := newSpeakerFixture(t)

	err := f.speaker.SetAudioFormat("audio/wav")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidInput))
	assert.Equal(t, FormatMPEG, f.speaker.Settings().AudioFormat)
	require.Len(t, f.errors.all(), 1)
	assert.Contains(t, f.errors.all()[0], "audio/wav")
}

func TestSpeaker_ConfigSummaryRoundTrip(t *testing.T) {
	f := newSpeakerFixture(t)
	assert.Equal(t, "Voice:wit$Remi,Style:default,Speed:100,Pitch:100,Gain:0.5,Debug:2", f.speaker.ConfigSummary())

	f.speaker.SetVoice("wit$Cooper")
	f.speaker.SetStyle("formal")
	f.speaker.SetSpeed(120)
	f.speaker.SetPitch(80)
	f.speaker.SetGain(0.8)
	f.speaker.SetDebugLevel(1)

	fields := map[string]string{}
	for _, part := range strings.Split(f.speaker.ConfigSummary(), ",") {
		key, value, ok := strings.Cut(part, ":")
		require.True(t, ok, part)
		fields[key] = value
	}
	assert.Equal(t, map[string]string{
		"Voice": "wit$Cooper",
		"Style": "formal",
		"Speed": "120",
		"Pitch": "80",
		"Gain":  "0.8",
		"Debug": "1",
	}, fields)
}

func TestSpeaker_GainReachesLivePlayer(t *testing.T) {
	f := newSpeakerFixture(t)
	f.speaker.SetGain(0.3)
	f.initialize(t)
	assert.Equal(t, 0.3, f.mixer.gain)

	f.speaker.SetGain(0.9)
	assert.Equal(t, 0.9, f.mixer.gain)
}

func TestSpeaker_LinkFailure(t *testing.T) {
	f := newSpeakerFixture(t)
	f.link.never = true

	err := f.speaker.Initialize(context.Background(), Credentials{SSID: "home"}, "token")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNetworkConnect))
	assert.Contains(t, err.Error(), "WiFi connection failed")

	err = f.speaker.Speak(context.Background(), "hello")
	assert.True(t, errors.Is(err, ErrNotInitialized))
}

func TestSpeaker_PlaysShortClipThroughLoop(t *testing.T) {
	data := payloadOf(600)
	f := newSpeakerFixture(t, newFakeStream(data, false))
	f.initialize(t)

	require.NoError(t, f.speaker.Speak(context.Background(), "Hi"))
	assert.True(t, f.speaker.IsBusy())
	assert.False(t, f.speaker.IsPlaying())

	f.speaker.Loop()
	assert.True(t, f.speaker.IsPlaying())

	f.mixer.drain()
	f.speaker.Loop()
	assert.False(t, f.speaker.IsBusy())
	assert.Equal(t, data, f.mixer.rendered)
	assert.Empty(t, f.errors.all())
}

func TestSpeaker_DebugLevelControlsVerbosity(t *testing.T) {
	for _, tc := range []struct {
		level     uint8
		wantDebug bool
	}{
		{level: 2, wantDebug: false},
		{level: 3, wantDebug: true},
	} {
		logs := &lockedBuffer{}
		speaker := New(
			WithMode(ModeBackground),
			WithLogger(observability.GetLogger().Output(logs)),
			WithLink(&fakeLink{}),
			WithConnectConfig(&resilience.AwaitConfig{MaxAttempts: 3, Delay: time.Millisecond}),
			WithRequester(&fakeRequester{streams: []Stream{newFakeStream(payloadOf(600), false)}}),
			WithMixerFactory(func(Pins, Settings) (Mixer, error) { return newFakeMixer(32 * 1024), nil }),
		)
		speaker.SetDebugLevel(tc.level)
		require.NoError(t, speaker.Initialize(context.Background(), Credentials{}, "token"))
		require.NoError(t, speaker.Speak(context.Background(), "Hi"))
		speaker.Loop()

		out := string(logs.Bytes())
		assert.Contains(t, out, "Stream opened")
		assert.Equal(t, tc.wantDebug, strings.Contains(out, `"level":"debug"`), "debug level %d", tc.level)
	}
}

func TestSpeaker_HTTPErrorIsReported(t *testing.T) {
	f := newSpeakerFixture(t)
	f.initialize(t)
	f.requester.err = &HTTPError{StatusCode: 400, Status: "400 Bad Request"}

	err := f.speaker.Speak(context.Background(), "hello")
	assert.True(t, errors.Is(err, ErrHTTP))
	assert.Equal(t, []string{"HTTP Error: 400 Bad Request"}, f.errors.all())
	assert.False(t, f.speaker.IsBusy())
}

func TestSpeaker_LoopReportsStreamErrors(t *testing.T) {
	stream := newFakeStream(nil, true)
	f := newSpeakerFixture(t, stream)
	f.initialize(t)
	require.NoError(t, f.speaker.Speak(context.Background(), "hello"))

	stream.finish(errors.New("reset"))
	f.speaker.Loop()

	require.Len(t, f.errors.all(), 1)
	assert.Contains(t, f.errors.all()[0], "stream interrupted")
}

func TestSpeaker_EveryHandlerIsNotified(t *testing.T) {
	f := newSpeakerFixture(t)
	var second []string
	f.speaker.AddErrorHandler(ErrorHandlerFunc(func(msg string) { second = append(second, msg) }))
	f.speaker.AddErrorHandler(nil)

	f.speaker.Speak(context.Background(), "hello")
	assert.Len(t, f.errors.all(), 1)
	assert.Equal(t, f.errors.all(), second)
}

func TestSpeaker_StopWhenIdle(t *testing.T) {
	f := newSpeakerFixture(t)
	f.speaker.Stop()
	assert.False(t, f.speaker.IsBusy())

	f.initialize(t)
	f.speaker.Stop()
	f.speaker.Stop()
	assert.False(t, f.speaker.IsBusy())
}

func TestSpeaker_BlockingSpeakHoldsOtherCalls(t *testing.T) {
	written := make(chan struct{})
	release := make(chan struct{})
	dialer := newPipeDialer(func(conn net.Conn) {
		if _, err := http.ReadRequest(bufio.NewReader(conn)); err != nil {
			return
		}
		io.WriteString(conn, "HTTP/1.1 200 OK\r\n\r\n")
		close(written)
		<-release
	})

	speaker := New(
		WithMode(ModeBlocking),
		WithLogger(zerolog.Nop()),
		WithLink(&fakeLink{}),
		WithConnectConfig(&resilience.AwaitConfig{MaxAttempts: 3, Delay: time.Millisecond}),
		WithDialer(dialer),
		WithBlockingConfig(BlockingConfig{IdleTimeout: time.Second}),
	)
	require.NoError(t, speaker.Initialize(context.Background(), Credentials{}, "token"))

	spoke := make(chan error, 1)
	go func() { spoke <- speaker.Speak(context.Background(), "Hi") }()
	<-written

	busy := make(chan bool, 1)
	go func() { busy <- speaker.IsBusy() }()
	select {
	case <-busy:
		t.Fatal("IsBusy returned while Speak was playing")
	case <-time.After(50 * time.Millisecond):
	}
	assert.True(t, speaker.Initialized())

	close(release)
	require.NoError(t, <-spoke)
	assert.False(t, <-busy)
	<-dialer.done
}

func TestSpeaker_PrintConfig(t *testing.T) {
	f := newSpeakerFixture(t)
	f.initialize(t)

	var buf bytes.Buffer
	require.NoError(t, f.speaker.PrintConfig(&buf))
	out := buf.String()
	assert.Contains(t, out, "Status: Initialized")
	assert.Contains(t, out, "WiFi: Connected (home)")
	assert.Contains(t, out, "IP: 192.168.1.50")
	assert.Contains(t, out, "Voice: wit$Remi")
	assert.Contains(t, out, "Pins: BCLK=27 LRC=26 DIN=25")
}

func TestSpeaker_SetPinsAppliesAtInitialize(t *testing.T) {
	f := newSpeakerFixture(t)
	var seen Pins
	f.speaker.mixerFactory = func(p Pins, _ Settings) (Mixer, error) {
		seen = p
		return f.mixer, nil
	}

	f.speaker.SetPins(Pins{BCLK: 5, LRC: 6, DIN: 7})
	f.initialize(t)
	assert.Equal(t, Pins{BCLK: 5, LRC: 6, DIN: 7}, seen)
}

func TestSpeaker_CloseReleasesPlayer(t *testing.T) {
	f := newSpeakerFixture(t, newFakeStream(payloadOf(10), true))
	f.initialize(t)
	require.NoError(t, f.speaker.Speak(context.Background(), "hello"))

	require.NoError(t, f.speaker.Close())
	assert.False(t, f.speaker.IsBusy())
	assert.True(t, errors.Is(f.speaker.Speak(context.Background(), "again"), ErrNotInitialized))
}
