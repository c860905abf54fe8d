package deepgram

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harunnryd/arturo/pkg/adapters/stt"
	"github.com/harunnryd/arturo/pkg/audio"
	"github.com/harunnryd/arturo/pkg/errorsx"
)

type fakeConn struct {
	mu        sync.Mutex
	connectOK bool
	stopped   bool
	streamed  chan struct{}
}

func (c *fakeConn) Connect() bool { return c.connectOK }

func (c *fakeConn) Stream(r io.Reader) error {
	close(c.streamed)
	_, _ = io.Copy(io.Discard, r)
	return nil
}

func (c *fakeConn) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
}

func (c *fakeConn) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

type fakeSession struct {
	io.Reader
	stopped bool
}

func (s *fakeSession) Close() error { return nil }
func (s *fakeSession) Stop() error {
	s.stopped = true
	return nil
}

type fakeCapture struct {
	sessions []*fakeSession
	err      error
}

func (f *fakeCapture) Start(ctx context.Context, cfg audio.CaptureConfig) (audio.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	s := &fakeSession{Reader: strings.NewReader("pcm")}
	f.sessions = append(f.sessions, s)
	return s, nil
}

type harness struct {
	rec     *Recognizer
	capture *fakeCapture
	conns   []*fakeConn
	cb      msginterfaces.LiveMessageCallback
	connect bool
}

func newHarness() *harness {
	h := &harness{capture: &fakeCapture{}, connect: true}
	h.rec = New(Config{APIKey: "k"}, Options{
		Capture: h.capture,
		Dial: func(ctx context.Context, cfg Config, cb msginterfaces.LiveMessageCallback) (Conn, error) {
			c := &fakeConn{connectOK: h.connect, streamed: make(chan struct{})}
			h.conns = append(h.conns, c)
			h.cb = cb
			return c, nil
		},
	})
	return h
}

func final(text string, speechFinal bool) *msginterfaces.MessageResponse {
	return &msginterfaces.MessageResponse{
		IsFinal:     true,
		SpeechFinal: speechFinal,
		Channel: msginterfaces.Channel{
			Alternatives: []msginterfaces.Alternative{{Transcript: text}},
		},
	}
}

func next(t *testing.T, r *Recognizer) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	text, err := r.NextUtterance(ctx)
	require.NoError(t, err)
	return text
}

func TestRecognizerJoinsFinalSegments(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.rec.Start(context.Background()))
	assert.True(t, h.rec.IsRecording())
	<-h.conns[0].streamed

	require.NoError(t, h.cb.Message(&msginterfaces.MessageResponse{
		Channel: msginterfaces.Channel{Alternatives: []msginterfaces.Alternative{{Transcript: "hey"}}},
	}))
	require.NoError(t, h.cb.Message(final("hey arturo", false)))
	require.NoError(t, h.cb.Message(final("slice the benchy", true)))
	assert.Equal(t, "hey arturo slice the benchy", next(t, h.rec))

	require.NoError(t, h.cb.Message(final("what time is it", false)))
	require.NoError(t, h.cb.UtteranceEnd(&msginterfaces.UtteranceEndResponse{}))
	assert.Equal(t, "what time is it", next(t, h.rec))
}

func TestRecognizerStopDiscardsPartialSpeech(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.rec.Start(context.Background()))
	require.NoError(t, h.cb.Message(final("half a sentence", false)))

	require.NoError(t, h.rec.Stop())
	assert.False(t, h.rec.IsRecording())
	assert.True(t, h.conns[0].isStopped())
	assert.True(t, h.capture.sessions[0].stopped)

	// events arriving after stop are ignored
	require.NoError(t, h.cb.Message(final("late", true)))

	require.NoError(t, h.rec.Start(context.Background()))
	require.Len(t, h.conns, 2)
	require.NoError(t, h.cb.Message(final("fresh", true)))
	assert.Equal(t, "fresh", next(t, h.rec))
}

func TestRecognizerStartFailures(t *testing.T) {
	h := newHarness()
	h.connect = false
	err := h.rec.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errorsx.HasReason(err, errorsx.ReasonSTTStart))
	assert.False(t, h.rec.IsRecording())

	h.connect = true
	h.capture.err = errors.New("no microphone")
	err = h.rec.Start(context.Background())
	require.Error(t, err)
	assert.True(t, h.conns[1].isStopped())
}

func TestRecognizerClose(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.rec.Start(context.Background()))
	require.NoError(t, h.rec.Close())
	_, err := h.rec.NextUtterance(context.Background())
	assert.ErrorIs(t, err, stt.ErrClosed)
	assert.ErrorIs(t, h.rec.Start(context.Background()), stt.ErrClosed)
	require.NoError(t, h.rec.Close())
}
