// Package stt implements C4 (STTStream): a per-peer streaming
// transcription session. Grounded on the teacher's Cartesia STT
// transformer (internal/transformer/cartesia/stt.go) — websocket dial,
// a dedicated read-loop goroutine pushing transcript callbacks, write
// submission over the same connection — generalised from the
// teacher's single fixed session to rotate-on-duration-limit (§4.5)
// and from a raw byte Transform call to explicit ≤25KB chunking.
package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/baro-gochi/counselor-assist-core/internal/commons"
	"github.com/baro-gochi/counselor-assist-core/internal/errs"
)

// maxChunkBytes bounds one websocket submission (§4.5: "≤25 KB chunks").
const maxChunkBytes = 25 * 1024

// TranscriptCallback receives one transcript event. is_final=false
// results may be superseded; only is_final=true drives persistence and
// the analysis pipeline.
type TranscriptCallback func(text string, confidence float64, isFinal bool)

// PeerInfo configures the provider session.
type PeerInfo struct {
	LanguageCode string
	BoostPhrases []string // fixed dictionary of tariff/plan/penalty terms
}

// providerMessage is the wire shape the provider's websocket emits,
// grounded on the teacher's SpeechToTextOutput struct.
type providerMessage struct {
	Text     string  `json:"text"`
	IsFinal  bool     `json:"is_final"`
	Language string   `json:"language,omitempty"`
}

// Stream is one peer's streaming transcription session. Not safe for
// concurrent Submit calls from multiple goroutines; Room/PeerSession
// feeds it from a single consumer goroutine per D-PS3.
type Stream struct {
	mu sync.Mutex

	providerURL string
	apiKey      string
	info        PeerInfo
	logger      commons.Logger

	conn    *websocket.Conn
	onText  TranscriptCallback
	closed  bool

	rotationCount int
	ctx           context.Context
	cancel        context.CancelFunc
}

// Start opens a provider session configured for the peer's language,
// enabling automatic punctuation and boosting the fixed domain-phrase
// dictionary, and starts reading transcript events on success. Audio
// frames are sent separately through Submit.
func Start(providerURL, apiKey string, info PeerInfo, logger commons.Logger, onText TranscriptCallback) (*Stream, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Stream{
		providerURL: providerURL,
		apiKey:      apiKey,
		info:        info,
		logger:      logger,
		onText:      onText,
		ctx:         ctx,
		cancel:      cancel,
	}
	if err := s.dial(); err != nil {
		cancel()
		return nil, errs.Wrap(errs.STTFatal, "STT_FATAL", "initial provider dial failed", err)
	}
	return s, nil
}

func (s *Stream) dial() error {
	header := map[string][]string{"Authorization": {"Bearer " + s.apiKey}}
	conn, _, err := websocket.DefaultDialer.Dial(s.providerURL, header)
	if err != nil {
		return fmt.Errorf("dial stt provider: %w", err)
	}

	cfg := map[string]interface{}{
		"language":              s.info.LanguageCode,
		"punctuate":             true,
		"encoding":              "linear16",
		"sample_rate":           48000,
		"boost_phrases":         s.info.BoostPhrases,
	}
	payload, _ := json.Marshal(cfg)
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		conn.Close()
		return fmt.Errorf("send stt config: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	go s.readLoop(conn)
	return nil
}

// readLoop consumes provider messages until the connection closes or
// the provider signals its session duration limit, in which case it
// treats the closure as a scheduled rotation rather than a failure
// (§4.5: "surface: a transport-level error class matching
// 'internal'/'500'-style signals").
func (s *Stream) readLoop(conn *websocket.Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return
			}
			if isDurationLimitSignal(err) {
				s.logger.Infow("stt provider session duration limit reached, rotating", "rotation", s.rotationCount+1)
				s.rotate()
				return
			}
			s.logger.Warnw("stt provider read error, rotating defensively", "error", err)
			s.rotate()
			return
		}

		var pm providerMessage
		if err := json.Unmarshal(msg, &pm); err != nil || pm.Text == "" {
			continue
		}
		confidence := 0.9
		s.onText(pm.Text, confidence, pm.IsFinal)
	}
}

// isDurationLimitSignal detects the provider's duration-limit closure
// pattern: the error text carries an "internal"/"500"-style signal
// rather than an auth/config failure.
func isDurationLimitSignal(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "internal") || strings.Contains(msg, "500") || strings.Contains(msg, "max duration")
}

// rotate opens a successor session and swaps the connection in place;
// any frame in flight at the moment of rotation may be lost, but no
// STT_TRANSIENT is surfaced to the caller (§4.5).
func (s *Stream) rotate() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.rotationCount++
	s.mu.Unlock()

	backoff := time.Duration(0)
	for attempt := 0; attempt < 3; attempt++ {
		time.Sleep(backoff)
		if err := s.dial(); err == nil {
			return
		}
		backoff = time.Duration(1<<attempt) * 200 * time.Millisecond
	}
	s.logger.Errorw("stt rotation exhausted retries, peer is now without transcription")
}

// Submit sends one frame, which must already be 16-bit linear PCM at
// the configured 48kHz (no conversion happens here), in ≤25KB chunks.
func (s *Stream) Submit(pcm []byte) error {
	s.mu.Lock()
	conn := s.conn
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil
	}
	if conn == nil {
		return errs.New(errs.STTRotate, "STT_ROTATE", "no active provider connection, frame dropped during rotation")
	}

	for offset := 0; offset < len(pcm); offset += maxChunkBytes {
		end := offset + maxChunkBytes
		if end > len(pcm) {
			end = len(pcm)
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, pcm[offset:end]); err != nil {
			return fmt.Errorf("submit chunk: %w", err)
		}
	}
	return nil
}

// Close idempotently tears down the provider session.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn := s.conn
	s.mu.Unlock()

	s.cancel()
	if conn != nil {
		return conn.Close()
	}
	return nil
}
