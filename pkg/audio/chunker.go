package audio

// FrameChunker accumulates mono float32 samples and emits fixed-size frames
// matching a backend's required frame length. Inbound chunks smaller than the
// frame size are buffered, not forwarded. Create one per stream; not safe for
// concurrent use.
type FrameChunker struct {
	frameSize int
	buf       []float32
}

// NewFrameChunker creates a chunker that emits frames of frameSize samples.
// A frameSize of 0 or negative defaults to 1920.
func NewFrameChunker(frameSize int) *FrameChunker {
	if frameSize <= 0 {
		frameSize = 1920
	}
	return &FrameChunker{
		frameSize: frameSize,
		buf:       make([]float32, 0, frameSize*2),
	}
}

// Push appends samples to the accumulation buffer and returns zero or more
// complete frames. Returned frames are freshly allocated and safe to retain.
func (c *FrameChunker) Push(samples []float32) [][]float32 {
	c.buf = append(c.buf, samples...)

	var frames [][]float32
	for len(c.buf) >= c.frameSize {
		frame := make([]float32, c.frameSize)
		copy(frame, c.buf[:c.frameSize])
		frames = append(frames, frame)
		c.buf = c.buf[:copy(c.buf, c.buf[c.frameSize:])]
	}
	return frames
}

// Pending returns the number of buffered samples not yet emitted.
func (c *FrameChunker) Pending() int {
	return len(c.buf)
}

// Reset discards any buffered samples.
func (c *FrameChunker) Reset() {
	c.buf = c.buf[:0]
}
