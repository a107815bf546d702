package media

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pmedia "github.com/pion/webrtc/v4/pkg/media"

	"github.com/ent0n29/screener/internal/audio"
)

var (
	ErrPermissionDenied = errors.New("media permission denied")
	ErrUnavailable      = errors.New("media device unavailable")
	ErrStreamClosed     = errors.New("media stream closed")
)

// Constraints describes the media requested for an interview. Video is only
// used for the local self-view and is never negotiated with the model.
type Constraints struct {
	Audio bool
	Video bool
}

// Source hands out local capture streams.
type Source interface {
	Acquire(ctx context.Context, c Constraints) (*LocalStream, error)
}

// LocalStream is the candidate's outgoing audio. Samples are pushed by the
// caller (the browser relays PCM16) and sent to the peer as PCMU.
type LocalStream struct {
	id    string
	audio *webrtc.TrackLocalStaticSample

	mu           sync.Mutex
	audioEnabled bool
	closed       bool
	written      int
	dropped      int
}

func NewLocalStream() (*LocalStream, error) {
	id := uuid.NewString()
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypePCMU,
		ClockRate: audio.PCMUSampleRate,
		Channels:  1,
	}, "audio", "candidate-"+id)
	if err != nil {
		return nil, fmt.Errorf("create audio track: %w", err)
	}
	return &LocalStream{id: id, audio: track, audioEnabled: true}, nil
}

func (s *LocalStream) ID() string { return s.id }

// Tracks returns the tracks to attach to a peer connection.
func (s *LocalStream) Tracks() []webrtc.TrackLocal {
	if s == nil || s.audio == nil {
		return nil
	}
	return []webrtc.TrackLocal{s.audio}
}

// SetAudioEnabled mirrors toggling track.enabled in a browser: a disabled
// track stays negotiated but carries no candidate audio.
func (s *LocalStream) SetAudioEnabled(enabled bool) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.audioEnabled = enabled
	s.mu.Unlock()
}

func (s *LocalStream) AudioEnabled() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audioEnabled
}

// WritePCM16 encodes a PCM16LE chunk and writes it to the audio track. Chunks
// written while audio is disabled are discarded.
func (s *LocalStream) WritePCM16(pcm []byte, sampleRate int) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStreamClosed
	}
	if !s.audioEnabled {
		s.dropped++
		s.mu.Unlock()
		return nil
	}
	s.written++
	s.mu.Unlock()

	payload, d := audio.PCM16ToPCMU(pcm, sampleRate)
	if len(payload) == 0 {
		return nil
	}
	if err := s.audio.WriteSample(pmedia.Sample{Data: payload, Duration: d}); err != nil {
		return fmt.Errorf("write audio sample: %w", err)
	}
	return nil
}

// Counts reports how many chunks were forwarded and how many were discarded
// while muted.
func (s *LocalStream) Counts() (written, dropped int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written, s.dropped
}

// Close stops the stream. It is safe to call more than once.
func (s *LocalStream) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	s.closed = true
	s.audioEnabled = false
	s.mu.Unlock()
	return nil
}

func (s *LocalStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// PCMUSource creates relay-backed streams.
type PCMUSource struct{}

func (PCMUSource) Acquire(ctx context.Context, c Constraints) (*LocalStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !c.Audio {
		return nil, fmt.Errorf("%w: audio capture is required", ErrUnavailable)
	}
	return NewLocalStream()
}
