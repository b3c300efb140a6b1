// Package resampler wraps github.com/tphakala/go-audio-resampler,
// grounded on the teacher's internal_audio_resampler.GetResampler/
// AudioResampler.Resample(pcm, fromConfig, toConfig) call shape
// (internal/channel/webrtc/streamer.go), generalised from the
// teacher's fixed 48kHz<->16kHz pair to any audio.Config pair.
package resampler

import (
	"fmt"

	goresample "github.com/tphakala/go-audio-resampler"

	"github.com/baro-gochi/counselor-assist-core/internal/audio"
)

// Resampler converts PCM between two sample rates/channel counts.
type Resampler struct{}

// New builds a Resampler. Construction never fails in practice but
// returns an error to match the teacher's GetResampler signature.
func New() (*Resampler, error) {
	return &Resampler{}, nil
}

// Resample converts 16-bit little-endian PCM bytes from one config to
// another. Mono downmix happens before rate conversion when the source
// is stereo and the target is mono (WebRTC -> internal STT path).
func (r *Resampler) Resample(pcm []byte, from, to audio.Config) ([]byte, error) {
	samples := bytesToInt16(pcm)
	if from.Channels == 2 && to.Channels == 1 {
		samples = downmix(samples)
	}
	if from.SampleRate == to.SampleRate {
		return int16ToBytes(samples), nil
	}
	out, err := goresample.Resample(samples, from.SampleRate, to.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("resample %d->%d: %w", from.SampleRate, to.SampleRate, err)
	}
	return int16ToBytes(out), nil
}

func downmix(stereo []int16) []int16 {
	mono := make([]int16, len(stereo)/2)
	for i := range mono {
		mono[i] = int16((int32(stereo[2*i]) + int32(stereo[2*i+1])) / 2)
	}
	return mono
}

func bytesToInt16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(uint16(b[2*i]) | uint16(b[2*i+1])<<8)
	}
	return out
}

func int16ToBytes(s []int16) []byte {
	out := make([]byte, len(s)*2)
	for i, v := range s {
		out[2*i] = byte(uint16(v))
		out[2*i+1] = byte(uint16(v) >> 8)
	}
	return out
}
