package api

import (
	"errors"
	"fmt"
	"net/http"

	"firestige.xyz/netdash/internal/core"
)

// errorCodes maps sentinels to stable wire codes and HTTP statuses.
var errorCodes = []struct {
	err    error
	code   string
	status int
}{
	{core.ErrAlreadyRunning, "already_running", http.StatusConflict},
	{core.ErrAlreadyOpen, "already_open", http.StatusConflict},
	{core.ErrNotRunning, "not_running", http.StatusConflict},
	{core.ErrInterfaceNotFound, "interface_not_found", http.StatusNotFound},
	{core.ErrPermissionDenied, "permission_denied", http.StatusForbidden},
	{core.ErrConfigInvalid, "config_invalid", http.StatusBadRequest},
	{core.ErrCaptureUnavailable, "capture_unavailable", http.StatusServiceUnavailable},
}

func statusFor(err error) int {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.status
		}
	}
	return http.StatusInternalServerError
}

func codeFor(err error) string {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return "internal"
}

// decodeError rebuilds a sentinel-wrapped error from a response body.
func decodeError(resp ErrorResponse, status int) error {
	for _, e := range errorCodes {
		if e.code == resp.Code {
			return fmt.Errorf("%w (%s)", e.err, resp.Error)
		}
	}
	if resp.Error == "" {
		return fmt.Errorf("unexpected status %d", status)
	}
	return fmt.Errorf("server error %d: %s", status, resp.Error)
}
