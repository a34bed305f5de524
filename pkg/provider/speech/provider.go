// Package speech defines the Provider interface for real-time
// speech-to-speech backends.
//
// A speech provider wraps a low-latency voice model that accepts raw audio
// input and returns synthesised audio plus the text tokens of its own spoken
// response in a single, stateful session — the "primary" backend of the
// Tandem relay. Examples include Moshi-style servers speaking the framed
// binary WebSocket protocol.
//
// The central abstraction is SessionHandle: a bidirectional channel pair that
// carries audio and text concurrently. Sessions are long-lived (the lifetime
// of one client connection).
//
// All implementations must be safe for concurrent use.
package speech

import "context"

// SessionConfig is the initial configuration for a new speech session.
type SessionConfig struct {
	// SampleRate is the PCM rate, in Hz, of audio exchanged with the session
	// via SendAudio and Audio. Zero means the provider default.
	SampleRate int

	// FrameSize is the number of samples per SendAudio call. Callers must
	// deliver exactly this many samples per chunk; the provider's codec
	// typically requires a fixed frame length. Zero means the provider
	// default.
	FrameSize int
}

// Capabilities describes static properties of a speech provider. The values
// are assumed constant for the lifetime of the Provider instance.
type Capabilities struct {
	// SampleRate is the native PCM rate of the backend in Hz.
	SampleRate int

	// FrameSize is the required number of samples per input chunk.
	FrameSize int
}

// SessionHandle represents an open speech session. It is an interface so that
// test code can supply mock implementations without a live backend.
//
// The session is the hot path of the relay — every method must return
// quickly. Audio and text output are channel-based so a slow consumer never
// blocks the provider's receive loop further than the channel buffer. All
// methods must be safe for concurrent use.
//
// Callers must call Close when the session is no longer needed.
type SessionHandle interface {
	// SendAudio delivers one frame of little-endian int16 mono PCM at the
	// session's sample rate. The chunk must contain exactly FrameSize
	// samples. Returns an error if the session is closed or the backend
	// cannot accept the chunk.
	SendAudio(pcm []byte) error

	// Audio returns a read-only channel that emits decoded little-endian
	// int16 mono PCM at the session's sample rate as the model synthesises
	// its spoken response. The channel is closed when the session ends or a
	// mid-stream error occurs; call Err afterwards to check whether the
	// session ended cleanly.
	Audio() <-chan []byte

	// Text returns a read-only channel that emits the text tokens of the
	// model's spoken response, in generation order. The channel is closed
	// when the session ends.
	Text() <-chan string

	// Err returns the error that caused the Audio and Text channels to close
	// prematurely, or nil if the session ended cleanly.
	Err() error

	// Interrupt signals the backend to stop generating the current response.
	// Backends without interruption support may return an error or silently
	// ignore the request.
	Interrupt() error

	// Close terminates the session, releases all resources, and closes the
	// Audio and Text channels. Calling Close more than once is safe and
	// returns nil.
	Close() error
}

// Provider is the abstraction over any speech backend.
//
// Implementations must be safe for concurrent use; the server opens one
// session per client connection.
type Provider interface {
	// Connect establishes a new speech session. The returned SessionHandle is
	// ready to accept audio immediately.
	//
	// Returns an error if the session cannot be established (backend
	// unreachable, handshake failure, or ctx already cancelled). The caller
	// owns the SessionHandle and is responsible for calling Close.
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)

	// Capabilities returns static metadata about this provider's backend.
	Capabilities() Capabilities
}
