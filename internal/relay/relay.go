// Package relay is the heart of the proxy: it moves duplex audio and text
// between one client WebSocket and the speech backend, watches the inbound
// stream for voice activity, aggregates the backend's spoken text into
// sentences, and hands complex sentences to the reasoning dispatcher while
// the voice conversation keeps flowing.
//
// Each client connection gets one session running three goroutines: an
// inbound loop (client → speech backend), an outbound loop (speech backend →
// client), and a writer that serialises everything going back to the client
// so audio frames and JSON events arrive in a single total order.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tandemvoice/tandem/internal/dispatch"
	"github.com/tandemvoice/tandem/internal/observe"
	"github.com/tandemvoice/tandem/internal/resilience"
	"github.com/tandemvoice/tandem/internal/router"
	"github.com/tandemvoice/tandem/pkg/audio"
	"github.com/tandemvoice/tandem/pkg/provider/reasoning"
	"github.com/tandemvoice/tandem/pkg/provider/speech"
	"github.com/tandemvoice/tandem/pkg/provider/vad"
	"github.com/tandemvoice/tandem/pkg/provider/vad/energy"
)

const (
	// defaultClientRate is the PCM rate the client app records and plays at.
	defaultClientRate = 16000

	// defaultStateInterval throttles user_speaking state events.
	defaultStateInterval = 500 * time.Millisecond

	// defaultAssistantHold is the audio gap after which the assistant is
	// considered done speaking.
	defaultAssistantHold = 300 * time.Millisecond

	// defaultProbeTimeout bounds the reasoning-backend liveness probe at
	// session start.
	defaultProbeTimeout = 2 * time.Second

	// outboundBuffer is the writer queue depth. Audio frames are ~20 ms
	// each, so this absorbs several seconds of client backpressure.
	outboundBuffer = 256
)

// Option is a functional option for configuring a Relay.
type Option func(*Relay)

// WithVAD sets the voice activity detection engine. Defaults to the
// RMS-energy engine.
func WithVAD(engine vad.Engine) Option {
	return func(r *Relay) { r.vad = engine }
}

// WithVADThreshold overrides the RMS speech threshold. Zero keeps the
// engine's default.
func WithVADThreshold(threshold float64) Option {
	return func(r *Relay) { r.vadThreshold = threshold }
}

// WithVADSilenceHold overrides the end-of-speech hysteresis window. Zero
// keeps the engine's default.
func WithVADSilenceHold(d time.Duration) Option {
	return func(r *Relay) { r.vadSilenceHold = d }
}

// WithVerifier enables LLM verification of Uncertain classifications.
func WithVerifier(v *router.Verifier) Option {
	return func(r *Relay) { r.verifier = v }
}

// WithCircuitBreaker guards reasoning dispatches with the given breaker. The
// breaker is shared across sessions: backend health is global.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) Option {
	return func(r *Relay) { r.breaker = cb }
}

// WithClientSampleRate overrides the client-side PCM rate.
func WithClientSampleRate(rate int) Option {
	return func(r *Relay) { r.clientRate = rate }
}

// WithStateInterval overrides the user_speaking event throttle.
func WithStateInterval(d time.Duration) Option {
	return func(r *Relay) { r.stateInterval = d }
}

// WithAssistantHold overrides the assistant speech decay window.
func WithAssistantHold(d time.Duration) Option {
	return func(r *Relay) { r.assistantHold = d }
}

// WithSystemPrompt overrides the system prompt sent with dispatched queries.
func WithSystemPrompt(prompt string) Option {
	return func(r *Relay) { r.systemPrompt = prompt }
}

// WithMetrics sets the metrics instance. Defaults to observe.DefaultMetrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Relay) { r.metrics = m }
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(r *Relay) { r.log = log }
}

// Relay builds sessions that bridge clients to the speech backend. It is
// safe for concurrent use; one Relay serves all connections.
type Relay struct {
	speech    speech.Provider
	secondary reasoning.Provider
	vad       vad.Engine
	verifier  *router.Verifier
	breaker   *resilience.CircuitBreaker

	classifier   *router.Classifier
	systemPrompt string
	metrics      *observe.Metrics
	log          *slog.Logger

	clientRate     int
	vadThreshold   float64
	vadSilenceHold time.Duration

	stateInterval time.Duration
	assistantHold time.Duration
	probeTimeout  time.Duration
}

// New creates a Relay bridging clients to speechProvider, dispatching complex
// utterances to secondary. secondary may be nil, in which case every
// utterance stays on the speech backend.
func New(speechProvider speech.Provider, secondary reasoning.Provider, opts ...Option) *Relay {
	r := &Relay{
		speech:        speechProvider,
		secondary:     secondary,
		vad:           energy.New(),
		classifier:    router.NewClassifier(),
		metrics:       observe.DefaultMetrics(),
		log:           slog.Default(),
		clientRate:    defaultClientRate,
		stateInterval: defaultStateInterval,
		assistantHold: defaultAssistantHold,
		probeTimeout:  defaultProbeTimeout,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// HandleSession runs one client connection to completion. It returns when
// the client disconnects, the speech backend session ends, or ctx is
// cancelled. The returned error describes why the session ended; a clean
// client disconnect surfaces as the underlying read error.
func (r *Relay) HandleSession(ctx context.Context, conn ClientConn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.metrics.ActiveSessions.Add(ctx, 1)
	defer r.metrics.ActiveSessions.Add(ctx, -1)

	secondaryAvailable := r.probeSecondary(ctx)

	caps := r.speech.Capabilities()
	speechSess, err := r.speech.Connect(ctx, speech.SessionConfig{
		SampleRate: caps.SampleRate,
		FrameSize:  caps.FrameSize,
	})
	if err != nil {
		werr := conn.WriteJSON(ctx, errorEvent("cannot connect to speech backend: %v", err))
		if werr != nil {
			r.log.Debug("failed to report connect error to client", "error", werr)
		}
		return fmt.Errorf("relay: connect speech backend: %w", err)
	}
	defer speechSess.Close()

	var vadSess vad.SessionHandle
	if r.vad != nil {
		vadSess, err = r.vad.NewSession(vad.Config{
			SampleRate:      r.clientRate,
			Format:          vad.FormatFloat32LE,
			SpeechThreshold: r.vadThreshold,
			SilenceHold:     r.vadSilenceHold,
		})
		if err != nil {
			return fmt.Errorf("relay: create vad session: %w", err)
		}
		defer vadSess.Close()
	}

	sess := &session{
		relay:              r,
		conn:               conn,
		speech:             speechSess,
		vad:                vadSess,
		backendRate:        caps.SampleRate,
		frameSize:          caps.FrameSize,
		chunker:            audio.NewFrameChunker(caps.FrameSize),
		secondaryAvailable: secondaryAvailable,
		outCh:              make(chan outbound, outboundBuffer),
	}
	if secondaryAvailable {
		dispatchOpts := []dispatch.Option{
			dispatch.WithMetrics(r.metrics),
			dispatch.WithLogger(r.log),
		}
		if r.verifier != nil {
			dispatchOpts = append(dispatchOpts, dispatch.WithVerifier(r.verifier))
		}
		if r.breaker != nil {
			dispatchOpts = append(dispatchOpts, dispatch.WithCircuitBreaker(r.breaker))
		}
		if r.systemPrompt != "" {
			dispatchOpts = append(dispatchOpts, dispatch.WithSystemPrompt(r.systemPrompt))
		}
		sess.dispatcher = dispatch.New(r.secondary, dispatchOpts...)
	}

	if err := conn.WriteJSON(ctx, connectedEvent(secondaryAvailable)); err != nil {
		return fmt.Errorf("relay: send connected event: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sess.writerLoop(gctx) })
	g.Go(func() error { return sess.inboundLoop(gctx) })
	g.Go(func() error { return sess.outboundLoop(gctx) })

	err = g.Wait()

	// Wake the dispatcher goroutine (if any) and let it finish accounting.
	cancel()
	if sess.dispatcher != nil {
		sess.dispatcher.Wait()
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, errBackendClosed) {
		return nil
	}

	// A mid-session backend failure gets one terminal error event so the
	// client knows why the connection is about to close. Best effort: the
	// writer loop is gone and the client may be too.
	if berr := speechSess.Err(); berr != nil {
		writeCtx, writeCancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer writeCancel()
		if werr := conn.WriteJSON(writeCtx, errorEvent("speech backend failed: %v", berr)); werr != nil {
			r.log.Debug("failed to report backend failure to client", "error", werr)
		}
	}
	return err
}

// probeSecondary checks the reasoning backend once at session start. A
// failed probe disables dispatch for the whole session.
func (r *Relay) probeSecondary(ctx context.Context) bool {
	if r.secondary == nil {
		return false
	}
	probeCtx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	defer cancel()

	if err := r.secondary.Alive(probeCtx); err != nil {
		r.log.Warn("reasoning backend unavailable, dispatch disabled for session",
			"backend", r.secondary.Name(), "error", err)
		return false
	}
	return true
}

// outbound is one queued item for the writer: either a binary audio frame or
// a JSON event, never both.
type outbound struct {
	audio []byte
	event any
}

// session is the per-connection state. The inbound and outbound loops run
// concurrently; everything they share is either owned by the writer or
// atomic.
type session struct {
	relay      *Relay
	conn       ClientConn
	speech     speech.SessionHandle
	vad        vad.SessionHandle
	dispatcher *dispatch.Dispatcher

	backendRate        int
	frameSize          int
	chunker            *audio.FrameChunker
	aggregator         Aggregator
	secondaryAvailable bool

	outCh chan outbound

	// lastAssistantAudio is the unix-nano timestamp of the most recent
	// backend audio frame. Written by the outbound loop, read by the
	// inbound loop to suppress user_speaking events.
	lastAssistantAudio atomic.Int64
}

// assistantActive reports whether the assistant has produced audio within
// the decay window.
func (s *session) assistantActive() bool {
	last := s.lastAssistantAudio.Load()
	if last == 0 {
		return false
	}
	return time.Since(time.Unix(0, last)) <= s.relay.assistantHold
}

// emit queues one outbound item for the writer.
func (s *session) emit(ctx context.Context, out outbound) error {
	select {
	case s.outCh <- out:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *session) emitEvent(ctx context.Context, ev any) error {
	return s.emit(ctx, outbound{event: ev})
}

// writerLoop is the only goroutine that writes to the client connection,
// giving audio and events a single total order.
func (s *session) writerLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out := <-s.outCh:
			var err error
			if out.audio != nil {
				err = s.conn.WriteBinary(ctx, out.audio)
			} else {
				err = s.conn.WriteJSON(ctx, out.event)
			}
			if err != nil {
				return fmt.Errorf("relay: write to client: %w", err)
			}
		}
	}
}

// inboundLoop forwards client audio to the speech backend: VAD, state
// events, resample to the backend rate, and fixed-size opus framing. Text
// messages are control messages; today that is just interrupt.
func (s *session) inboundLoop(ctx context.Context) error {
	var (
		lastVadSpeech   bool
		lastStateUpdate time.Time
		chunkCount      int
	)

	for {
		mt, data, err := s.conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("relay: read from client: %w", err)
		}

		if mt == MessageText {
			s.handleControl(data)
			continue
		}

		if len(data) == 0 || len(data)%4 != 0 {
			s.relay.metrics.RecordDrop(ctx, "bad_client_frame")
			s.relay.log.Debug("dropping malformed client frame", "bytes", len(data))
			continue
		}

		if s.vad != nil {
			ev, verr := s.vad.ProcessFrame(data)
			if verr != nil {
				s.relay.metrics.RecordDrop(ctx, "vad_error")
				continue
			}
			speechNow := ev.Type == vad.VADSpeechStart || ev.Type == vad.VADSpeechContinue

			if speechNow != lastVadSpeech || time.Since(lastStateUpdate) > s.relay.stateInterval {
				if s.vad.Speaking() && !s.assistantActive() {
					if err := s.emitEvent(ctx, stateEvent(StateUserSpeaking, "Listening to you...")); err != nil {
						return err
					}
				}
				lastVadSpeech = speechNow
				lastStateUpdate = time.Now()
			}
		}

		samples := audio.BytesToFloat32(data)
		resampled := audio.ResampleFloat32(samples, s.relay.clientRate, s.backendRate)

		for _, frame := range s.chunker.Push(resampled) {
			pcm := audio.Float32ToInt16(frame)
			if err := s.speech.SendAudio(audio.Int16sToBytes(pcm)); err != nil {
				return fmt.Errorf("relay: forward audio: %w", err)
			}
			s.relay.metrics.RecordFrame(ctx, "inbound")
		}

		chunkCount++
		if chunkCount%100 == 0 {
			s.relay.log.Debug("inbound audio progress",
				"chunks", chunkCount, "speaking", s.vad != nil && s.vad.Speaking())
		}
	}
}

// handleControl processes one inbound JSON control message.
func (s *session) handleControl(data []byte) {
	msg, ok := parseControl(data)
	if !ok {
		return
	}
	switch msg.Type {
	case "interrupt":
		s.relay.log.Info("interrupt requested by client")
		if err := s.speech.Interrupt(); err != nil {
			s.relay.log.Warn("interrupt failed", "error", err)
		}
	default:
		s.relay.log.Debug("ignoring unknown control message", "type", msg.Type)
	}
}

// outboundLoop forwards speech-backend output to the client: audio is
// resampled back to the client rate, text streams out token by token and
// feeds the sentence aggregator that drives routing.
func (s *session) outboundLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case pcm, ok := <-s.speech.Audio():
			if !ok {
				return s.sessionEnd()
			}
			if err := s.forwardAudio(ctx, pcm); err != nil {
				return err
			}

		case token, ok := <-s.speech.Text():
			if !ok {
				return s.sessionEnd()
			}
			if err := s.forwardText(ctx, token); err != nil {
				return err
			}
		}
	}
}

// errBackendClosed unwinds the session goroutines when the speech backend
// ends the session cleanly. It never escapes HandleSession.
var errBackendClosed = errors.New("speech backend closed the session")

// sessionEnd translates a closed backend channel into the session result.
func (s *session) sessionEnd() error {
	if err := s.speech.Err(); err != nil {
		return fmt.Errorf("relay: speech backend session failed: %w", err)
	}
	return errBackendClosed
}

// forwardAudio resamples one backend PCM frame to the client rate and queues
// it, announcing assistant_speaking at the start of each reply burst.
func (s *session) forwardAudio(ctx context.Context, pcm []byte) error {
	if !s.assistantActive() {
		if err := s.emitEvent(ctx, stateEvent(StateAssistantSpeaking, "Responding...")); err != nil {
			return err
		}
	}
	s.lastAssistantAudio.Store(time.Now().UnixNano())

	samples := audio.Int16ToFloat32(audio.BytesToInt16s(pcm))
	resampled := audio.ResampleFloat32(samples, s.backendRate, s.relay.clientRate)

	if err := s.emit(ctx, outbound{audio: audio.Float32ToBytes(resampled)}); err != nil {
		return err
	}
	s.relay.metrics.RecordFrame(ctx, "outbound")
	return nil
}

// forwardText streams one backend token to the client and, on sentence
// completion, classifies the utterance and possibly dispatches it.
func (s *session) forwardText(ctx context.Context, token string) error {
	if err := s.emitEvent(ctx, responseEvent(token, true, SourcePrimary)); err != nil {
		return err
	}

	sentence, done := s.aggregator.Push(token)
	if !done {
		return nil
	}

	decision := s.relay.classifier.Classify(sentence)
	s.relay.metrics.RecordDecision(ctx, decision.Complexity.String(), decision.Target)
	s.relay.log.Info("utterance classified",
		"complexity", decision.Complexity.String(),
		"confidence", decision.Confidence,
		"reason", decision.Reason)

	if s.shouldDispatch(decision) {
		if !s.dispatcher.Dispatch(ctx, sentence, decision, &dispatchSink{ctx: ctx, s: s}) {
			s.relay.log.Debug("utterance dropped, dispatch already pending")
		}
	}

	return s.emitEvent(ctx, responseEvent(sentence, false, SourcePrimary))
}

// shouldDispatch decides whether a classified sentence goes to the reasoning
// backend. Uncertain sentences only go when a verifier can settle them.
func (s *session) shouldDispatch(decision router.Decision) bool {
	if !s.secondaryAvailable || s.dispatcher == nil {
		return false
	}
	switch decision.Complexity {
	case router.Complex:
		return true
	case router.Uncertain:
		return s.relay.verifier != nil
	default:
		return false
	}
}

// dispatchSink adapts dispatcher callbacks into client events. All methods
// queue through the session writer, preserving event order.
type dispatchSink struct {
	ctx context.Context
	s   *session
}

var _ dispatch.Sink = (*dispatchSink)(nil)

func (d *dispatchSink) Thinking(query string, decision router.Decision) {
	_ = d.s.emitEvent(d.ctx, thinkingEvent())
}

func (d *dispatchSink) Partial(text string) {
	_ = d.s.emitEvent(d.ctx, responseEvent(text, true, SourceSecondary))
}

func (d *dispatchSink) Final(text string, elapsed time.Duration) {
	_ = d.s.emitEvent(d.ctx, responseEvent(text, false, SourceSecondary))
}

func (d *dispatchSink) Failed(err error) {
	_ = d.s.emitEvent(d.ctx, errorEvent("reasoning backend error: %v", err))
}
