// Package energy implements vad.Engine using RMS energy thresholding with a
// silence-hold hysteresis.
//
// The detector is deliberately simple: a frame whose root-mean-square
// amplitude exceeds the configured threshold marks the stream as speaking; the
// stream flips back to silence only after the signal stays below the
// threshold for the full SilenceHold window. Precision is not the goal — only
// monotonic, debounced transitions suitable for UI state events.
package energy

import (
	"fmt"
	"math"
	"time"

	"github.com/tandemvoice/tandem/pkg/audio"
	"github.com/tandemvoice/tandem/pkg/provider/vad"
)

// Default thresholds. These match the deployment the detector was tuned
// against; both are configuration inputs, not constants of the algorithm.
const (
	DefaultSpeechThreshold = 0.02
	DefaultSilenceHold     = 800 * time.Millisecond
)

// Engine implements vad.Engine. The zero value is ready to use.
type Engine struct{}

// New creates a new energy VAD engine.
func New() *Engine {
	return &Engine{}
}

// NewSession implements vad.Engine.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SpeechThreshold < 0 || cfg.SpeechThreshold > 1 {
		return nil, fmt.Errorf("energy: speech threshold %f out of range [0, 1]", cfg.SpeechThreshold)
	}
	if cfg.SpeechThreshold == 0 {
		cfg.SpeechThreshold = DefaultSpeechThreshold
	}
	if cfg.SilenceHold <= 0 {
		cfg.SilenceHold = DefaultSilenceHold
	}
	if cfg.Format == "" {
		cfg.Format = vad.FormatFloat32LE
	}
	switch cfg.Format {
	case vad.FormatFloat32LE, vad.FormatInt16LE:
	default:
		return nil, fmt.Errorf("energy: unsupported sample format %q", cfg.Format)
	}
	return &session{cfg: cfg, now: time.Now}, nil
}

// session holds per-stream detection state. Not safe for concurrent use; the
// owning forwarding loop is the only caller.
type session struct {
	cfg vad.Config
	now func() time.Time // injectable for tests

	speaking   bool
	lastSpeech time.Time
	closed     bool
}

var _ vad.SessionHandle = (*session)(nil)

// ProcessFrame implements vad.SessionHandle. It is a pure function of
// (frame, previous state, timestamps): an above-threshold frame starts or
// continues speech and refreshes the last-speech timestamp; a below-threshold
// frame ends speech only once SilenceHold has elapsed since the last
// above-threshold frame. Repeated silent frames after a transition keep the
// state at silence.
func (s *session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	if s.closed {
		return vad.VADEvent{}, fmt.Errorf("energy: session closed")
	}

	rms, err := s.frameRMS(frame)
	if err != nil {
		return vad.VADEvent{}, err
	}

	now := s.now()
	ev := vad.VADEvent{RMS: rms}

	if rms > s.cfg.SpeechThreshold {
		if s.speaking {
			ev.Type = vad.VADSpeechContinue
		} else {
			ev.Type = vad.VADSpeechStart
			s.speaking = true
		}
		s.lastSpeech = now
		return ev, nil
	}

	if s.speaking && now.Sub(s.lastSpeech) > s.cfg.SilenceHold {
		s.speaking = false
		ev.Type = vad.VADSpeechEnd
		return ev, nil
	}
	if s.speaking {
		// Below threshold but still inside the hold window.
		ev.Type = vad.VADSpeechContinue
		return ev, nil
	}
	ev.Type = vad.VADSilence
	return ev, nil
}

// frameRMS computes the normalised RMS amplitude of a PCM frame.
func (s *session) frameRMS(frame []byte) (float64, error) {
	switch s.cfg.Format {
	case vad.FormatFloat32LE:
		samples := audio.BytesToFloat32(frame)
		if len(samples) == 0 {
			return 0, fmt.Errorf("energy: frame too short: %d bytes", len(frame))
		}
		var sum float64
		for _, v := range samples {
			sum += float64(v) * float64(v)
		}
		return math.Sqrt(sum / float64(len(samples))), nil

	case vad.FormatInt16LE:
		samples := audio.BytesToInt16s(frame)
		if len(samples) == 0 {
			return 0, fmt.Errorf("energy: frame too short: %d bytes", len(frame))
		}
		var sum float64
		for _, v := range samples {
			f := float64(v) / 32768
			sum += f * f
		}
		return math.Sqrt(sum / float64(len(samples))), nil

	default:
		return 0, fmt.Errorf("energy: unsupported sample format %q", s.cfg.Format)
	}
}

// Speaking implements vad.SessionHandle.
func (s *session) Speaking() bool { return s.speaking }

// Reset implements vad.SessionHandle.
func (s *session) Reset() {
	s.speaking = false
	s.lastSpeech = time.Time{}
}

// Close implements vad.SessionHandle. Idempotent.
func (s *session) Close() error {
	s.closed = true
	return nil
}
