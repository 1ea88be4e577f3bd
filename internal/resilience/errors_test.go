package resilience

import (
	"fmt"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"explicit transient", NewTransientError(eris.New("HTTP 503"), 503), true},
		{"wrapped transient", fmt.Errorf("call: %w", NewTransientError(eris.New("HTTP 429"), 429)), true},
		{"plain error", eris.New("HTTP 400: bad request"), false},
		{"connection reset heuristic", eris.New("read tcp: connection reset by peer"), true},
		{"io timeout heuristic", eris.New("dial tcp: i/o timeout"), true},
		{"dns heuristic", eris.New("lookup api.apify.com: no such host"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, IsTransientHTTPStatus(code), "status %d", code)
	}
	for _, code := range []int{200, 201, 301, 400, 401, 403, 404, 422} {
		assert.False(t, IsTransientHTTPStatus(code), "status %d", code)
	}
}

func TestTransientErrorUnwrap(t *testing.T) {
	inner := eris.New("HTTP 502")
	te := NewTransientError(inner, 502)
	assert.Equal(t, inner, te.Unwrap())
	assert.Equal(t, "HTTP 502", te.Error())
}
