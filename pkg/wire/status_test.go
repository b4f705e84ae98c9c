package wire

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type codedErr struct{}

func (codedErr) Error() string { return "coded" }
func (codedErr) Errno() Errno  { return EBUSY }

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int32
	}{
		{"nil", nil, 0},
		{"errno", EINVAL, -22},
		{"wrapped errno", fmt.Errorf("open: %w", ENODEV), -19},
		{"coder", codedErr{}, -16},
		{"deadline", context.DeadlineExceeded, -110},
		{"canceled", context.Canceled, -4},
		{"other", errors.New("boom"), -5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeOf(tt.err))
		})
	}
}

func TestErrorOf(t *testing.T) {
	assert.NoError(t, ErrorOf(0))
	assert.NoError(t, ErrorOf(42))
	assert.ErrorIs(t, ErrorOf(-2), ENOENT)
	assert.Equal(t, "ENOENT", ENOENT.Name())
	assert.Equal(t, "no such file or directory", ENOENT.Error())
	assert.Equal(t, "E4242", Errno(4242).Name())
}
