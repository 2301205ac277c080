package faults

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/harun/memstream/pkg/framing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	var syntaxErr error = &json.SyntaxError{Offset: 1}

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"syntax error", syntaxErr, ParseError},
		{"line too long", fmt.Errorf("append: %w", framing.ErrLineTooLong), ParseError},
		{"closed pipe", io.ErrClosedPipe, TransportError},
		{"eof", fmt.Errorf("read body: %w", io.EOF), TransportError},
		{"anything else", errors.New("boom"), InternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := Classify(tt.err, OpProcessInput)
			require.NotNil(t, rec)
			assert.Equal(t, tt.want, rec.Kind)
			assert.Equal(t, OpProcessInput, rec.Context)
			assert.ErrorIs(t, rec, tt.err)
		})
	}

	t.Run("nil error", func(t *testing.T) {
		assert.Nil(t, Classify(nil, OpSend))
	})

	t.Run("records pass through", func(t *testing.T) {
		orig := New(ValidationError, "", "bad shape", nil)
		rec := Classify(fmt.Errorf("wrapped: %w", orig), OpProcessInput)

		assert.Same(t, orig, rec)
		assert.Equal(t, OpProcessInput, rec.Context)
	})
}

func TestRecord(t *testing.T) {
	cause := errors.New("broken pipe")
	rec := New(TransportError, OpSend, "write failed", cause).WithConnection("abc")

	assert.Equal(t, "TransportError during send: write failed (connection abc)", rec.Error())
	assert.ErrorIs(t, rec, cause)
	assert.True(t, Is(fmt.Errorf("x: %w", rec), TransportError))
	assert.False(t, Is(rec, ParseError))

	long := strings.Repeat("x", 500)
	rec.WithDetail(long)
	assert.Equal(t, 103, len(rec.Detail))
}

func TestClassifier_ReportSeverity(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)
	c := NewClassifier(logger)

	c.Report(New(ParseError, OpProcessInput, "invalid JSON", nil))
	c.Report(New(TransportError, OpSend, "write failed", nil).WithConnection("c1"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first, second map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))

	assert.Equal(t, "debug", first["level"])
	assert.Equal(t, "ParseError", first["kind"])
	assert.Equal(t, "error", second["level"])
	assert.Equal(t, "c1", second["clientId"])
}

func TestClassifier_Observer(t *testing.T) {
	c := NewClassifier(zerolog.Nop())

	var got []*Record
	c.SetObserver(func(rec *Record) {
		got = append(got, rec)
	})

	rec := c.ReportError(errors.New("boom"), OpDispatch)
	require.Len(t, got, 1)
	assert.Same(t, rec, got[0])
	assert.Equal(t, InternalError, rec.Kind)

	t.Run("observer panic is contained", func(t *testing.T) {
		c.SetObserver(func(*Record) { panic("observer bug") })
		assert.NotPanics(t, func() {
			c.Report(New(InternalError, OpSend, "x", nil))
		})
	})
}

func TestClassifier_Guards(t *testing.T) {
	c := NewClassifier(zerolog.Nop())

	var mu sync.Mutex
	var got []*Record
	c.SetObserver(func(rec *Record) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, rec)
	})

	t.Run("Guard recovers panics", func(t *testing.T) {
		var rec *Record
		assert.NotPanics(t, func() {
			rec = c.Guard(OpDispatch, func() { panic("handler bug") })
		})
		require.NotNil(t, rec)
		assert.Equal(t, InternalError, rec.Kind)
		assert.Contains(t, rec.Message, "handler bug")
		assert.NotEmpty(t, rec.Detail)
	})

	t.Run("Guard returns nil without panic", func(t *testing.T) {
		assert.Nil(t, c.Guard(OpDispatch, func() {}))
	})

	t.Run("Go keeps the process alive", func(t *testing.T) {
		done := make(chan struct{})
		c.Go(OpHeartbeat, func() {
			defer close(done)
			panic(errors.New("async failure"))
		})

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("goroutine did not run")
		}

		assert.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			for _, rec := range got {
				if rec.Context == OpHeartbeat {
					return true
				}
			}
			return false
		}, 2*time.Second, 10*time.Millisecond)
	})
}

func TestClassifier_HTTPGuards(t *testing.T) {
	c := NewClassifier(zerolog.Nop())

	var got []*Record
	c.SetObserver(func(rec *Record) {
		got = append(got, rec)
	})

	t.Run("Middleware answers 500 and reports the panic", func(t *testing.T) {
		handler := c.Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic("route bug")
		}))

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		assert.JSONEq(t, `{"error":"Internal Server Error"}`, w.Body.String())

		require.Len(t, got, 1)
		assert.Equal(t, InternalError, got[0].Kind)
		assert.Equal(t, OpHTTP, got[0].Context)
		assert.Equal(t, "GET /boom", got[0].Detail)
		assert.Contains(t, got[0].Message, "route bug")
	})

	t.Run("Middleware passes healthy requests through", func(t *testing.T) {
		handler := c.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("abort handler is re-raised", func(t *testing.T) {
		handler := c.Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic(http.ErrAbortHandler)
		}))

		assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
		})
	})
}
