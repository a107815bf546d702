package audio

import (
	"encoding/binary"
	"time"

	"github.com/zaf/g711"
)

// PCMUSampleRate is the G.711 clock rate.
const PCMUSampleRate = 8000

// DecodePCM16LE converts little-endian PCM16 bytes into samples. A trailing
// odd byte is ignored.
func DecodePCM16LE(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// Resample converts mono samples between sample rates with linear
// interpolation.
func Resample(samples []int16, fromHz, toHz int) []int16 {
	if fromHz <= 0 || toHz <= 0 || fromHz == toHz || len(samples) == 0 {
		return samples
	}
	outLen := int(int64(len(samples)) * int64(toHz) / int64(fromHz))
	if outLen == 0 {
		return nil
	}
	out := make([]int16, outLen)
	step := float64(fromHz) / float64(toHz)
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= last {
			out[i] = samples[last]
			continue
		}
		frac := pos - float64(j)
		a := float64(samples[j])
		b := float64(samples[j+1])
		out[i] = int16(a + (b-a)*frac)
	}
	return out
}

// EncodeMuLaw encodes samples as G.711 mu-law bytes.
func EncodeMuLaw(samples []int16) []byte {
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = g711.EncodeUlawFrame(s)
	}
	return out
}

// PCM16ToPCMU converts a PCM16LE chunk at sampleRate into an 8kHz mu-law
// payload and its playback duration.
func PCM16ToPCMU(pcm []byte, sampleRate int) ([]byte, time.Duration) {
	if sampleRate == PCMUSampleRate {
		return g711.EncodeUlaw(pcm), time.Duration(len(pcm)/2) * time.Second / PCMUSampleRate
	}
	samples := Resample(DecodePCM16LE(pcm), sampleRate, PCMUSampleRate)
	d := time.Duration(len(samples)) * time.Second / PCMUSampleRate
	return EncodeMuLaw(samples), d
}
