// Package mock provides test doubles for the speech package interfaces.
//
// Use Provider to verify Connect calls and feed controlled sessions. Use
// Session to drive the audio/text output streams and inspect what the relay
// sent.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	sess.TextCh <- "Hello."
//	close(sess.AudioCh)
//	close(sess.TextCh)
package mock

import (
	"context"
	"sync"

	"github.com/tandemvoice/tandem/pkg/provider/speech"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Connect.
	Cfg speech.SessionConfig
}

// Provider is a mock implementation of speech.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by Connect. If nil, Connect
	// returns a new default Session.
	Session speech.SessionHandle

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ProviderCapabilities is returned by Capabilities. Zero fields default
	// to 24000 Hz / 480 samples.
	ProviderCapabilities speech.Capabilities

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall
}

var _ speech.Provider = (*Provider)(nil)

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg speech.SessionConfig) (speech.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return NewSession(), nil
}

// Capabilities returns ProviderCapabilities with zero fields defaulted.
func (p *Provider) Capabilities() speech.Capabilities {
	caps := p.ProviderCapabilities
	if caps.SampleRate == 0 {
		caps.SampleRate = 24000
	}
	if caps.FrameSize == 0 {
		caps.FrameSize = 480
	}
	return caps
}

// Session is a mock implementation of speech.SessionHandle. Tests pre-populate
// AudioCh and TextCh, then close both to signal end-of-session.
type Session struct {
	mu sync.Mutex

	// AudioCh backs Audio(). Owned by the test.
	AudioCh chan []byte

	// TextCh backs Text(). Owned by the test.
	TextCh chan string

	// SendAudioErr, if non-nil, is returned from SendAudio.
	SendAudioErr error

	// ErrVal is returned from Err after the channels close.
	ErrVal error

	// Sent records copies of every chunk passed to SendAudio.
	Sent [][]byte

	// InterruptCount is the number of times Interrupt was called.
	InterruptCount int

	// CloseCount is the number of times Close was called.
	CloseCount int
}

var _ speech.SessionHandle = (*Session)(nil)

// NewSession creates a Session with buffered channels.
func NewSession() *Session {
	return &Session{
		AudioCh: make(chan []byte, 64),
		TextCh:  make(chan string, 32),
	}
}

// SendAudio records the chunk and returns SendAudioErr.
func (s *Session) SendAudio(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SendAudioErr != nil {
		return s.SendAudioErr
	}
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	s.Sent = append(s.Sent, cp)
	return nil
}

// SentChunks returns a snapshot of all recorded SendAudio chunks.
func (s *Session) SentChunks() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.Sent))
	copy(out, s.Sent)
	return out
}

// Interrupts returns the number of times Interrupt was called.
func (s *Session) Interrupts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.InterruptCount
}

// Audio returns AudioCh.
func (s *Session) Audio() <-chan []byte { return s.AudioCh }

// Text returns TextCh.
func (s *Session) Text() <-chan string { return s.TextCh }

// Err returns ErrVal.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ErrVal
}

// SetErr sets the value returned by Err. Thread-safe.
func (s *Session) SetErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ErrVal = err
}

// Interrupt increments InterruptCount.
func (s *Session) Interrupt() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.InterruptCount++
	return nil
}

// Close increments CloseCount. Channels are owned and closed by the test.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCount++
	return nil
}
