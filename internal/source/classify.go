package source

import (
	"fmt"
	"strings"

	"firestige.xyz/netdash/internal/core"
)

var (
	permissionMarkers = []string{
		"permission denied",
		"operation not permitted",
		"you don't have permission",
	}
	notFoundMarkers = []string{
		"no such device",
		"no such network interface",
		"no such interface",
		"doesn't exist",
	}
)

// classifyOpenError maps a capture open failure onto the sentinel errors.
// libpcap reports most failures as plain strings, so errno checks come
// first and message matching second.
func classifyOpenError(iface string, err error) error {
	if err == nil {
		return nil
	}
	if sentinel := errnoClass(err); sentinel != nil {
		return fmt.Errorf("%w: open %s: %v", sentinel, iface, err)
	}

	msg := strings.ToLower(err.Error())
	for _, m := range permissionMarkers {
		if strings.Contains(msg, m) {
			return fmt.Errorf("%w: open %s: %v", core.ErrPermissionDenied, iface, err)
		}
	}
	for _, m := range notFoundMarkers {
		if strings.Contains(msg, m) {
			return fmt.Errorf("%w: open %s: %v", core.ErrInterfaceNotFound, iface, err)
		}
	}
	return fmt.Errorf("open %s: %w", iface, err)
}
