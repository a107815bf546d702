package audio

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEncodeMuLawReferenceValues(t *testing.T) {
	cases := []struct {
		in   int16
		want byte
	}{
		{0, 0xFF},
		{-1, 0x7F},
		{32767, 0x80},
		{-32768, 0x00},
	}
	for _, tc := range cases {
		assert.Equalf(t, []byte{tc.want}, EncodeMuLaw([]int16{tc.in}), "EncodeMuLaw(%d)", tc.in)
	}
}

func TestResampleLength(t *testing.T) {
	in := make([]int16, 1600)
	assert.Len(t, Resample(in, 16000, 8000), 800)
	assert.Len(t, Resample(in, 48000, 8000), 266)
	assert.Equal(t, in, Resample(in, 8000, 8000))
}

func TestPCM16ToPCMUDuration(t *testing.T) {
	pcm := make([]byte, 320*2)
	for i := 0; i < 320; i++ {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(i)))
	}
	payload, d := PCM16ToPCMU(pcm, 16000)
	assert.Len(t, payload, 160)
	assert.Equal(t, 20*time.Millisecond, d)
}

func TestDecodePCM16LEIgnoresOddByte(t *testing.T) {
	assert.Equal(t, []int16{1}, DecodePCM16LE([]byte{1, 0, 9}))
}

func TestPCM16ToPCMUAtNativeRate(t *testing.T) {
	pcm := make([]byte, 160*2)
	binary.LittleEndian.PutUint16(pcm, uint16(32767))
	payload, d := PCM16ToPCMU(pcm, PCMUSampleRate)
	assert.Len(t, payload, 160)
	assert.Equal(t, byte(0x80), payload[0])
	assert.Equal(t, byte(0xFF), payload[1])
	assert.Equal(t, 20*time.Millisecond, d)
}
