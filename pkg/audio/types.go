package audio

import "time"

// AudioFrame represents a single frame of audio data flowing through the relay.
// Frames are the atomic unit of audio transport — read off the wire on either
// side of the proxy, resampled, and forwarded. No frame is retained past
// forwarding.
type AudioFrame struct {
	// PCM audio data. Interpretation (int16 vs float32) depends on the stream.
	Data []byte

	// SampleRate in Hz (e.g., 16000 for the client, 24000 for the speech backend).
	SampleRate int

	// Channels: 1 for mono. The relay only carries mono streams.
	Channels int

	// Timestamp marks when this frame was read, relative to session start.
	Timestamp time.Duration
}
