// Package vad defines the Engine interface for Voice Activity Detection backends.
//
// A VAD engine derives speaking/silence state from raw audio frames and
// surfaces it as a stateful, per-stream session. Each session maintains its
// own internal state (current speaking flag, last-speech timestamp) so that
// multiple concurrent audio streams can be processed independently.
//
// VAD is synchronous: ProcessFrame returns immediately with a
// detection result, making it suitable for low-latency pipeline stages that
// run inline in a forwarding loop.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle should not be shared across goroutines unless the
// implementation explicitly documents thread safety for that type.
package vad

import "time"

// SampleFormat identifies the in-memory encoding of PCM frames handed to
// ProcessFrame.
type SampleFormat string

const (
	// FormatFloat32LE is little-endian 32-bit float PCM in [-1, 1].
	FormatFloat32LE SampleFormat = "f32le"

	// FormatInt16LE is little-endian signed 16-bit PCM.
	FormatInt16LE SampleFormat = "s16le"
)

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the PCM
	// frames passed to ProcessFrame. Common values: 8000, 16000, 48000.
	SampleRate int

	// Format is the PCM sample encoding. Defaults to FormatFloat32LE.
	Format SampleFormat

	// SpeechThreshold is the RMS amplitude above which a frame counts as
	// speech, in the normalised [0, 1] scale. Typical: 0.02.
	SpeechThreshold float64

	// SilenceHold is how long the signal must stay below SpeechThreshold
	// before an active speech segment is considered ended. This hysteresis
	// prevents a single quiet frame from reading as end-of-speech.
	// Typical: 800ms for user speech, 300ms for synthesised speech.
	SilenceHold time.Duration
}

// SessionHandle represents an active VAD session for a single audio stream. It
// is an interface so that test code can supply mock implementations. Each
// session maintains its own detection state; Reset clears this state without
// closing the session.
//
// A SessionHandle should not be shared between goroutines unless the
// implementation explicitly guarantees concurrent safety.
type SessionHandle interface {
	// ProcessFrame analyses a single audio frame and returns the detection
	// result. The frame must be raw PCM in the format and sample rate
	// configured when the session was created. Returns an error if the frame
	// cannot be interpreted.
	//
	// This method is designed to be called synchronously in the forwarding
	// loop; it must not block.
	ProcessFrame(frame []byte) (VADEvent, error)

	// Speaking reports whether the stream is currently inside a speech
	// segment, i.e. the last above-threshold frame was seen less than
	// SilenceHold ago.
	Speaking() bool

	// Reset clears all accumulated detection state without closing the
	// session. Use this when the audio stream is interrupted or restarted.
	Reset()

	// Close releases all resources associated with the session. After Close,
	// ProcessFrame and Reset must return errors or be no-ops. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions. It is the top-level interface
// implemented by each VAD backend.
//
// Implementations must be safe for concurrent use: multiple goroutines may
// call NewSession simultaneously to create independent sessions.
type Engine interface {
	// NewSession creates a new VAD session with the given configuration. The
	// session is immediately ready to accept audio frames.
	//
	// Returns an error if the configuration is invalid (e.g., unsupported
	// sample format or threshold out of range).
	NewSession(cfg Config) (SessionHandle, error)
}
