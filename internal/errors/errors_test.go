package errors

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/gridtune/internal/logging"
)

func TestErrorFormatting(t *testing.T) {
	err := Wrap(io.EOF, "read body").WithOperation("decode").WithComponent("server")
	assert.Equal(t, "read body: operation=decode, component=server: EOF", err.Error())
	assert.NotEmpty(t, err.StackTrace())
	assert.Nil(t, Wrap(nil, "unused"))
}

func TestIsAs(t *testing.T) {
	base := New("experiment not found").WithCode(http.StatusNotFound)
	wrapped := fmt.Errorf("lookup: %w", Wrapf(base, "get %s", "abc"))

	assert.True(t, Is(wrapped, base))
	assert.False(t, Is(wrapped, io.EOF))

	var target *Error
	require.True(t, As(wrapped, &target))
	assert.Equal(t, "get abc", target.Message)
	assert.Same(t, base, Unwrap(target))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"plain", stderrors.New("x"), http.StatusInternalServerError},
		{"coded", New("bad").WithCode(http.StatusBadRequest), http.StatusBadRequest},
		{"inherited", Wrap(New("gone").WithCode(http.StatusConflict), "suggest"), http.StatusConflict},
		{"std wrapped", fmt.Errorf("outer: %w", New("nf").WithCode(http.StatusNotFound)), http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(logging.InfoLevel, &buf)

	h := RecoveryMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/rpc", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, buf.String(), "Recovered from panic")
}

func TestErrorHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(logging.InfoLevel, &buf)

	for _, code := range []int{http.StatusOK, http.StatusConflict, http.StatusBadGateway} {
		h := ErrorHandler(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
		}))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	}
	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("Request error")))
}
