// Package opus wraps gopkg.in/hraban/opus.v2 behind a small interface,
// grounded on the encode/decode call shapes the pack's WebRTC audio
// clients use (gopkg.in/hraban/opus.v2 Encoder.Encode/Decoder.Decode
// over int16 PCM).
package opus

import (
	"fmt"

	hraban "gopkg.in/hraban/opus.v2"
)

// Codec encodes/decodes one peer's Opus stream. Not safe for concurrent
// use; each PeerSession owns exactly one encoder and one decoder.
type Codec struct {
	enc *hraban.Encoder
	dec *hraban.Decoder
}

// New builds a Codec for the given sample rate and channel count;
// PeerSession builds it for mono voice at OpusSampleRate (48kHz).
func New(sampleRate, channels int) (*Codec, error) {
	enc, err := hraban.NewEncoder(sampleRate, channels, hraban.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("opus encoder: %w", err)
	}
	dec, err := hraban.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("opus decoder: %w", err)
	}
	return &Codec{enc: enc, dec: dec}, nil
}

// Encode converts one frame of int16 PCM samples into an Opus packet.
func (c *Codec) Encode(pcm []int16) ([]byte, error) {
	out := make([]byte, 4000)
	n, err := c.enc.Encode(pcm, out)
	if err != nil {
		return nil, fmt.Errorf("opus encode: %w", err)
	}
	return out[:n], nil
}

// Decode converts an Opus packet back into int16 PCM, sized for the
// given frame length in samples.
func (c *Codec) Decode(packet []byte, frameSizeSamples int) ([]int16, error) {
	pcm := make([]int16, frameSizeSamples)
	n, err := c.dec.Decode(packet, pcm)
	if err != nil {
		return nil, fmt.Errorf("opus decode: %w", err)
	}
	return pcm[:n], nil
}
