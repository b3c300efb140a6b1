// Package audio holds the media-plane pieces: per-peer relay fan-out
// (AudioRelayTrack, C3) plus the opus/resampler/vad sub-wrappers it
// depends on. Frame sizing and buffer thresholds are grounded on the
// teacher's internal/channel/webrtc constants (OpusFrameBytes,
// InputBufferThreshold, OutputPaceInterval).
package audio

import "time"

// Config describes a PCM stream's sample format.
type Config struct {
	SampleRate int
	Channels   int
}

var (
	// WebRTCConfig is the wire format WebRTC/Opus always uses: 48kHz.
	WebRTCConfig = Config{SampleRate: 48000, Channels: 2}
	// InternalConfig is what the VAD expects: 16kHz mono. The STT
	// provider is fed 48kHz mono relay frames unconverted.
	InternalConfig = Config{SampleRate: 16000, Channels: 1}
)

const (
	// FrameDuration is the fixed relay cadence (I7: monotonic, evenly
	// spaced output timestamps).
	FrameDuration = 20 * time.Millisecond

	// OpusFrameBytes is one 20ms frame of 48kHz mono 16-bit PCM
	// (960 samples * 2 bytes) matching the teacher's constant.
	OpusFrameBytes = 1920

	// RelayBufferFrames bounds each subscriber's queue to ~1s of audio
	// (§4.4 "bounded buffer, oldest-drop overflow").
	RelayBufferFrames = 50

	// OpusSampleRate/Channels/PayloadType mirror RFC 7587 (opus/48000/2).
	OpusSampleRate  = 48000
	OpusChannels    = 2
	OpusPayloadType = 111
	OpusSDPFmtp     = "minptime=10;useinbandfec=1;stereo=0;sprop-stereo=0"
)
