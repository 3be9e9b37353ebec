package sse

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExtendResponseSetsStreamingHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	e := New(0)

	require.NoError(t, e.ExtendResponse(rec, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	require.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	require.Equal(t, "timeout=60", rec.Header().Get("Keep-Alive"))
	require.Equal(t, "keep-alive", rec.Header().Get("Connection"))
	require.Equal(t, Streaming, e.State())
	require.True(t, rec.Flushed)

	require.Error(t, e.ExtendResponse(rec, nil))
}

func TestSendMultipleEvents(t *testing.T) {
	rec := httptest.NewRecorder()
	e := New(0)
	require.NoError(t, e.ExtendResponse(rec, nil))

	require.NoError(t, e.Send(Event{Comment: "this is a test stream"}))
	require.NoError(t, e.Send(Event{Data: "some text"}))
	require.NoError(t, e.Send(Event{Data: "another message\nwith two lines"}))
	require.NoError(t, e.Send(Event{
		Name: "userconnect",
		Data: map[string]string{"username": "bobby", "time": "02:33:48"},
	}))

	require.Equal(t, ": this is a test stream\n\n"+
		"data: some text\n\n"+
		"data: another message\ndata: with two lines\n\n"+
		"event: userconnect\ndata: {\"time\":\"02:33:48\",\"username\":\"bobby\"}\n\n",
		rec.Body.String())
}

func TestSendBeforeExtendResponse(t *testing.T) {
	e := New(0)
	require.ErrorIs(t, e.Send(Event{Data: "x"}), ErrNotStreaming)
}

func TestSimulateTimeoutClosesOnce(t *testing.T) {
	rec := httptest.NewRecorder()
	e := New(time.Minute)
	require.Equal(t, time.Minute, e.Timeout())
	require.NoError(t, e.ExtendResponse(rec, nil))

	e.SimulateTimeout()
	e.SimulateTimeout()
	e.Close()

	select {
	case <-e.Done():
	default:
		t.Fatal("expected emitter to be closed")
	}
	require.Equal(t, Closed, e.State())
	// 计时器已经被取消。
	require.False(t, e.timer.Stop())

	require.ErrorIs(t, e.Send(Event{Data: "late"}), ErrClosed)
	require.Empty(t, rec.Body.String())
}

func TestTimeoutElapses(t *testing.T) {
	e := New(20 * time.Millisecond)
	require.NoError(t, e.ExtendResponse(httptest.NewRecorder(), nil))

	select {
	case <-e.Done():
	case <-time.After(time.Second):
		t.Fatal("emitter did not time out")
	}
	require.Equal(t, Closed, e.State())
}

func TestTransportCloseCancelsTimer(t *testing.T) {
	closed := make(chan struct{})
	e := New(time.Hour)
	require.NoError(t, e.ExtendResponse(httptest.NewRecorder(), closed))

	close(closed)

	select {
	case <-e.Done():
	case <-time.After(time.Second):
		t.Fatal("emitter did not close on transport close")
	}
	require.False(t, e.timer.Stop())
}

type failingWriter struct {
	header http.Header
}

func (w *failingWriter) Header() http.Header       { return w.header }
func (w *failingWriter) WriteHeader(int)           {}
func (w *failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestSendWriteFailureClosesEmitter(t *testing.T) {
	e := New(0)
	require.NoError(t, e.ExtendResponse(&failingWriter{header: http.Header{}}, nil))

	require.Error(t, e.Send(Event{Data: "x"}))
	select {
	case <-e.Done():
	default:
		t.Fatal("expected emitter to close after a failed write")
	}
	require.ErrorIs(t, e.Send(Event{Data: "y"}), ErrClosed)
}
