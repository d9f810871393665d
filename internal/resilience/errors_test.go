package resilience

import (
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"syscall"
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
		{"explicit", NewTransientError(errors.New("busy"), 421), true},
		{"wrapped explicit", eris.Wrap(NewTransientError(errors.New("busy"), 421), "blob: put"), true},
		{"plain", errors.New("blob: not found"), false},
		{"connection reset", fmt.Errorf("read tcp: %w", syscall.ECONNRESET), true},
		{"connection refused", fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED), true},
		{"network timeout", &net.DNSError{IsTimeout: true, Err: "timeout"}, true},
		{"ftp service unavailable", &textproto.Error{Code: 421, Msg: "too many connections"}, true},
		{"ftp file busy", fmt.Errorf("stor: %w", &textproto.Error{Code: 450, Msg: "busy"}), true},
		{"ftp no such file", &textproto.Error{Code: 550, Msg: "no such file"}, false},
		{"broken pipe text", errors.New("write: broken pipe"), true},
		{"io timeout text", errors.New("redis: i/o timeout"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestIsTransientFTPCode(t *testing.T) {
	for _, code := range []int{421, 425, 426, 450, 451, 452} {
		assert.True(t, IsTransientFTPCode(code), "code %d", code)
	}
	for _, code := range []int{200, 226, 500, 530, 550, 553} {
		assert.False(t, IsTransientFTPCode(code), "code %d", code)
	}
}

func TestTransientError_Unwrap(t *testing.T) {
	inner := errors.New("root cause")
	te := NewTransientError(inner, 426)
	assert.ErrorIs(t, te, inner)
	assert.Equal(t, 426, te.StatusCode)
	assert.Equal(t, "root cause", te.Error())
}
