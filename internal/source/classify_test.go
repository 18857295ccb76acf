package source

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"firestige.xyz/netdash/internal/core"
)

func TestClassifyOpenError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{
			name: "libpcap permission",
			err:  errors.New("eth0: You don't have permission to capture on that device (socket: Operation not permitted)"),
			want: core.ErrPermissionDenied,
		},
		{
			name: "libpcap no such device",
			err:  errors.New("nope0: No such device exists (SIOCGIFHWADDR: No such device)"),
			want: core.ErrInterfaceNotFound,
		},
		{
			name: "net lookup",
			err:  errors.New("route ip+net: no such network interface"),
			want: core.ErrInterfaceNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyOpenError("eth0", tt.err)
			assert.ErrorIs(t, got, tt.want)
		})
	}
}

func TestClassifyOpenErrorPassthrough(t *testing.T) {
	base := errors.New("socket buffer exhausted")
	got := classifyOpenError("eth0", base)

	assert.ErrorIs(t, got, base)
	assert.NotErrorIs(t, got, core.ErrPermissionDenied)
	assert.NotErrorIs(t, got, core.ErrInterfaceNotFound)
	assert.NoError(t, classifyOpenError("eth0", nil))
}
