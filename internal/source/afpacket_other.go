//go:build !linux

package source

import (
	"fmt"

	"firestige.xyz/netdash/internal/core"
)

func openAFPacket(Config) (Handle, error) {
	return nil, fmt.Errorf("%w: afpacket backend requires linux", core.ErrConfigInvalid)
}
