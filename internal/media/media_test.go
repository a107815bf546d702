package media

import (
	"context"
	"errors"
	"testing"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStreamMuteDiscardsAudio(t *testing.T) {
	s, err := NewLocalStream()
	require.NoError(t, err)
	require.Len(t, s.Tracks(), 1)

	chunk := make([]byte, 640)
	require.NoError(t, s.WritePCM16(chunk, 16000))
	s.SetAudioEnabled(false)
	require.NoError(t, s.WritePCM16(chunk, 16000))

	written, dropped := s.Counts()
	assert.Equal(t, 1, written)
	assert.Equal(t, 1, dropped)
	assert.False(t, s.AudioEnabled())
}

func TestLocalStreamCloseIsIdempotent(t *testing.T) {
	s, err := NewLocalStream()
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.True(t, s.Closed())
	assert.ErrorIs(t, s.WritePCM16([]byte{0, 0}, 8000), ErrStreamClosed)
}

func TestNilStreamIsSafe(t *testing.T) {
	var s *LocalStream
	assert.NotPanics(t, func() {
		s.SetAudioEnabled(false)
		_ = s.Close()
	})
	assert.Nil(t, s.Tracks())
}

func TestPCMUSourceRequiresAudio(t *testing.T) {
	_, err := PCMUSource{}.Acquire(context.Background(), Constraints{})
	assert.True(t, errors.Is(err, ErrUnavailable))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = PCMUSource{}.Acquire(ctx, Constraints{Audio: true})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMeterSinkCountsUntilClosed(t *testing.T) {
	s := NewMeterSink()
	require.NoError(t, s.WriteRTP(&rtp.Packet{Payload: []byte{1, 2, 3}}))
	require.NoError(t, s.Close())
	require.NoError(t, s.WriteRTP(&rtp.Packet{Payload: []byte{4}}))

	stats := s.Stats()
	assert.Equal(t, 1, stats.Packets)
	assert.Equal(t, 3, stats.Bytes)
	assert.True(t, stats.Closed)
}

func TestFuncSinkStopsAfterClose(t *testing.T) {
	var got int
	s := NewFuncSink(func(*rtp.Packet) { got++ })
	_ = s.WriteRTP(&rtp.Packet{})
	_ = s.Close()
	_ = s.WriteRTP(&rtp.Packet{})
	assert.Equal(t, 1, got)
}
