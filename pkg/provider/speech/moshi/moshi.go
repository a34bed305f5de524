// Package moshi implements the speech.Provider interface for Moshi-style
// real-time voice servers.
//
// It establishes a WebSocket connection to the backend and exchanges binary
// frames whose first byte is a kind tag (0 handshake, 1 opus audio, 2 UTF-8
// text). Audio is opus-encoded mono PCM at the backend's native rate;
// decoding and encoding use layeh.com/gopus. Text frames carry the tokens of
// the model's own spoken response as it generates them.
package moshi

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"layeh.com/gopus"

	"github.com/tandemvoice/tandem/pkg/audio"
	"github.com/tandemvoice/tandem/pkg/provider/speech"
)

// Compile-time assertions that Provider and session satisfy the speech interfaces.
var _ speech.Provider = (*Provider)(nil)
var _ speech.SessionHandle = (*session)(nil)

const (
	defaultURL        = "ws://localhost:8998/api/chat"
	defaultSampleRate = 24000
	// defaultFrameSize is 20 ms at 24 kHz — a valid opus frame length.
	defaultFrameSize = 480

	// handshakeTimeout bounds the wait for the backend's kind-0 frame after
	// the WebSocket opens.
	handshakeTimeout = 10 * time.Second
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithURL overrides the backend WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithURL(url string) Option {
	return func(p *Provider) { p.url = url }
}

// WithSampleRate overrides the backend's native sample rate.
func WithSampleRate(rate int) Option {
	return func(p *Provider) { p.sampleRate = rate }
}

// WithFrameSize overrides the samples-per-chunk requirement. The value must
// be a valid opus frame length at the configured sample rate.
func WithFrameSize(size int) Option {
	return func(p *Provider) { p.frameSize = size }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements speech.Provider for Moshi-style backends.
type Provider struct {
	url        string
	sampleRate int
	frameSize  int
}

// New creates a new Moshi provider with the given options applied over the
// defaults.
func New(opts ...Option) *Provider {
	p := &Provider{
		url:        defaultURL,
		sampleRate: defaultSampleRate,
		frameSize:  defaultFrameSize,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Capabilities returns static metadata about the backend.
func (p *Provider) Capabilities() speech.Capabilities {
	return speech.Capabilities{
		SampleRate: p.sampleRate,
		FrameSize:  p.frameSize,
	}
}

// Connect dials the backend, waits for its handshake frame, and returns a
// session ready to accept audio.
func (p *Provider) Connect(ctx context.Context, cfg speech.SessionConfig) (speech.SessionHandle, error) {
	rate := cfg.SampleRate
	if rate == 0 {
		rate = p.sampleRate
	}
	frameSize := cfg.FrameSize
	if frameSize == 0 {
		frameSize = p.frameSize
	}

	conn, _, err := websocket.Dial(ctx, p.url, nil)
	if err != nil {
		return nil, fmt.Errorf("moshi: dial %s: %w", p.url, err)
	}
	// Audio frames are small; raise the limit for safety on text payloads.
	conn.SetReadLimit(1 << 20)

	enc, err := gopus.NewEncoder(rate, 1, gopus.Audio)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "encoder init failed")
		return nil, fmt.Errorf("moshi: create opus encoder: %w", err)
	}
	dec, err := gopus.NewDecoder(rate, 1)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "decoder init failed")
		return nil, fmt.Errorf("moshi: create opus decoder: %w", err)
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:      conn,
		enc:       enc,
		dec:       dec,
		frameSize: frameSize,
		audioCh:   make(chan []byte, 64),
		textCh:    make(chan string, 32),
		ctx:       sessCtx,
		cancel:    sessCancel,
	}

	if err := sess.awaitHandshake(ctx); err != nil {
		sessCancel()
		conn.Close(websocket.StatusProtocolError, "handshake failed")
		return nil, fmt.Errorf("moshi: handshake: %w", err)
	}

	go sess.receiveLoop()

	return sess, nil
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn      *websocket.Conn
	frameSize int

	audioCh chan []byte
	textCh  chan string

	mu     sync.Mutex
	enc    *gopus.Encoder
	dec    *gopus.Decoder
	errVal error
	closed bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// awaitHandshake blocks until the backend sends its kind-0 frame or the
// timeout elapses. Non-handshake frames received early are discarded.
func (s *session) awaitHandshake(ctx context.Context) error {
	hsCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	for {
		_, data, err := s.conn.Read(hsCtx)
		if err != nil {
			return err
		}
		kind, _, ok := frame(data)
		if ok && kind == kindHandshake {
			return nil
		}
	}
}

// receiveLoop reads frames from the WebSocket and dispatches them by kind.
// It owns audioCh and textCh: it closes both when it exits. Undecodable audio
// payloads and unknown frame kinds are dropped; forwarding continues.
func (s *session) receiveLoop() {
	defer s.closeChannels()

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.setErr(err)
			return
		}

		kind, payload, ok := frame(data)
		if !ok {
			continue
		}

		switch kind {
		case kindAudio:
			if len(payload) == 0 {
				continue
			}
			s.mu.Lock()
			pcm, decErr := s.dec.Decode(payload, s.frameSize, false)
			s.mu.Unlock()
			if decErr != nil {
				slog.Debug("moshi: dropping undecodable audio frame", "bytes", len(payload), "err", decErr)
				continue
			}
			select {
			case s.audioCh <- audio.Int16sToBytes(pcm):
			case <-s.ctx.Done():
				return
			}

		case kindText:
			text := string(payload)
			if text == "" || text == "\x00" {
				continue
			}
			select {
			case s.textCh <- text:
			case <-s.ctx.Done():
				return
			}

		default:
			// Handshake repeats and extension kinds are ignored.
		}
	}
}

func (s *session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

func (s *session) closeChannels() {
	s.closeOnce.Do(func() {
		close(s.audioCh)
		close(s.textCh)
	})
}

// ── SessionHandle methods ──────────────────────────────────────────────────────

// SendAudio opus-encodes one PCM frame and writes it as a kind-1 binary
// message. The chunk must contain exactly FrameSize int16 samples.
func (s *session) SendAudio(pcm []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("moshi: session closed")
	}
	samples := audio.BytesToInt16s(pcm)
	if len(samples) != s.frameSize {
		s.mu.Unlock()
		return fmt.Errorf("moshi: expected %d samples, got %d", s.frameSize, len(samples))
	}
	opus, err := s.enc.Encode(samples, s.frameSize, len(pcm))
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("moshi: opus encode: %w", err)
	}
	if len(opus) == 0 {
		return nil
	}
	return s.conn.Write(s.ctx, websocket.MessageBinary, tagged(kindAudio, opus))
}

// Audio returns the channel on which decoded backend audio arrives.
func (s *session) Audio() <-chan []byte { return s.audioCh }

// Text returns the channel on which backend text tokens arrive.
func (s *session) Text() <-chan string { return s.textCh }

// Err returns the first non-nil error that caused the session to terminate.
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Interrupt is accepted but ignored: the framed protocol has no cancel
// message, and Moshi naturally yields when the user speaks over it.
func (s *session) Interrupt() error {
	slog.Debug("moshi: interrupt requested (protocol has no cancel; ignored)")
	return nil
}

// Close terminates the session and releases all resources. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
