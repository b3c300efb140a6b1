package stt

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baro-gochi/counselor-assist-core/internal/commons"
)

func TestIsDurationLimitSignal(t *testing.T) {
	assert.True(t, isDurationLimitSignal(fmt.Errorf("websocket: close 1011 (internal server error)")))
	assert.True(t, isDurationLimitSignal(fmt.Errorf("received 500 from provider")))
	assert.True(t, isDurationLimitSignal(fmt.Errorf("session exceeded max duration")))
	assert.False(t, isDurationLimitSignal(fmt.Errorf("websocket: close 1000 (normal)")))
}

// fakeSTTServer accepts one websocket connection, records every binary
// message it receives, and echoes back a final transcript once asked.
type fakeSTTServer struct {
	upgrader websocket.Upgrader
	mu       sync.Mutex
	received [][]byte
	connCh   chan *websocket.Conn
}

func newFakeSTTServer() *fakeSTTServer {
	return &fakeSTTServer{connCh: make(chan *websocket.Conn, 4)}
}

func (f *fakeSTTServer) handler(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	f.connCh <- conn
	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if mt == websocket.BinaryMessage {
			f.mu.Lock()
			f.received = append(f.received, append([]byte(nil), msg...))
			f.mu.Unlock()
		}
	}
}

func (f *fakeSTTServer) chunkCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.received)
}

func toWSURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestStart_DialsProvider(t *testing.T) {
	srv := newFakeSTTServer()
	ts := httptest.NewServer(http.HandlerFunc(srv.handler))
	defer ts.Close()

	logger := commons.New(commons.WithDevelopment())
	stream, err := Start(toWSURL(ts.URL), "test-key", PeerInfo{LanguageCode: "ko-KR"}, logger, func(text string, confidence float64, isFinal bool) {})
	require.NoError(t, err)
	defer stream.Close()

	select {
	case <-srv.connCh:
	case <-time.After(time.Second):
		t.Fatal("provider never accepted a connection")
	}
}

func TestSubmit_ChunksLargePayloads(t *testing.T) {
	srv := newFakeSTTServer()
	ts := httptest.NewServer(http.HandlerFunc(srv.handler))
	defer ts.Close()

	logger := commons.New(commons.WithDevelopment())
	stream, err := Start(toWSURL(ts.URL), "test-key", PeerInfo{LanguageCode: "ko-KR"}, logger, func(text string, confidence float64, isFinal bool) {})
	require.NoError(t, err)
	defer stream.Close()

	<-srv.connCh

	pcm := make([]byte, maxChunkBytes*2+100)
	require.NoError(t, stream.Submit(pcm))

	assert.Eventually(t, func() bool { return srv.chunkCount() == 3 }, time.Second, 10*time.Millisecond,
		"a payload spanning just over two chunk boundaries must be split into exactly three writes")
}

func TestSubmit_AfterCloseIsNoop(t *testing.T) {
	srv := newFakeSTTServer()
	ts := httptest.NewServer(http.HandlerFunc(srv.handler))
	defer ts.Close()

	logger := commons.New(commons.WithDevelopment())
	stream, err := Start(toWSURL(ts.URL), "test-key", PeerInfo{LanguageCode: "ko-KR"}, logger, func(text string, confidence float64, isFinal bool) {})
	require.NoError(t, err)

	<-srv.connCh
	require.NoError(t, stream.Close())
	assert.NoError(t, stream.Submit([]byte("late frame")))
}

func TestClose_IsIdempotent(t *testing.T) {
	srv := newFakeSTTServer()
	ts := httptest.NewServer(http.HandlerFunc(srv.handler))
	defer ts.Close()

	logger := commons.New(commons.WithDevelopment())
	stream, err := Start(toWSURL(ts.URL), "test-key", PeerInfo{LanguageCode: "ko-KR"}, logger, func(text string, confidence float64, isFinal bool) {})
	require.NoError(t, err)

	<-srv.connCh
	assert.NoError(t, stream.Close())
	assert.NoError(t, stream.Close())
}

func TestOnText_DeliversFinalTranscripts(t *testing.T) {
	srv := newFakeSTTServer()
	ts := httptest.NewServer(http.HandlerFunc(srv.handler))
	defer ts.Close()

	received := make(chan string, 1)
	logger := commons.New(commons.WithDevelopment())
	stream, err := Start(toWSURL(ts.URL), "test-key", PeerInfo{LanguageCode: "ko-KR"}, logger, func(text string, confidence float64, isFinal bool) {
		if isFinal {
			received <- text
		}
	})
	require.NoError(t, err)
	defer stream.Close()

	conn := <-srv.connCh
	require.NoError(t, conn.WriteJSON(providerMessage{Text: "hello there", IsFinal: true}))

	select {
	case text := <-received:
		assert.Equal(t, "hello there", text)
	case <-time.After(time.Second):
		t.Fatal("expected a final transcript callback")
	}
}
