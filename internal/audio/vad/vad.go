// Package vad wraps github.com/streamer45/silero-vad-go to decide
// whether a captured frame is speech or silence. AudioRelayTrack's
// pacing (audio.Pace) does not call it: silence frames are inserted
// without a voice-activity check. Grounded on the teacher's go.mod dependency;
// the teacher itself does not call it directly (it relies on WebRTC's
// own comfort-noise signaling), so this wrapper is new code written in
// the teacher's wrapper-struct idiom (see audio/opus.Codec).
package vad

import (
	"fmt"
	"sync"

	silero "github.com/streamer45/silero-vad-go/speech"
)

// Detector classifies 16kHz mono frames as speech or silence.
type Detector struct {
	mu  sync.Mutex
	det *silero.Detector
}

// New loads the Silero VAD ONNX model from modelPath. threshold is the
// speech-probability cutoff (spec default 0.5).
func New(modelPath string, sampleRate int, threshold float32) (*Detector, error) {
	det, err := silero.NewDetector(silero.DetectorConfig{
		ModelPath:            modelPath,
		SampleRate:           sampleRate,
		Threshold:            threshold,
		MinSilenceDurationMs: 100,
		SpeechPadMs:          30,
	})
	if err != nil {
		return nil, fmt.Errorf("vad detector: %w", err)
	}
	return &Detector{det: det}, nil
}

// IsSpeech reports whether the given frame (float32 samples, mono, the
// sample rate the Detector was built with) contains speech.
func (d *Detector) IsSpeech(frame []float32) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	segments, err := d.det.Detect(frame)
	if err != nil {
		return false, fmt.Errorf("vad detect: %w", err)
	}
	return len(segments) > 0, nil
}

// Reset clears internal state between peer sessions.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.det.Reset()
}

// Close releases the underlying ONNX runtime session.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.det.Destroy()
}
