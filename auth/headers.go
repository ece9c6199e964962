package auth

import (
	"context"
	"fmt"
)

// DeviceIDSource supplies the stable per-install identifier. Generation and
// persistence of the identifier are external concerns.
type DeviceIDSource interface {
	DeviceID() (string, error)
}

// DeviceIDFunc adapts a function to the DeviceIDSource interface.
type DeviceIDFunc func() (string, error)

// DeviceID calls the wrapped function.
func (f DeviceIDFunc) DeviceID() (string, error) { return f() }

// Headers derives outbound auth headers from the token store and the
// per-install device identifier.
type Headers struct {
	store  TokenStore
	device DeviceIDSource
}

// NewHeaders creates a header provider. device may be nil when the install
// identifier is not available.
func NewHeaders(store TokenStore, device DeviceIDSource) *Headers {
	return &Headers{store: store, device: device}
}

// AuthHeaders returns the headers to attach to an authenticated request.
func (h *Headers) AuthHeaders(ctx context.Context) (map[string]string, error) {
	headers := make(map[string]string, 2)

	access, err := h.store.AccessToken()
	if err != nil {
		return nil, fmt.Errorf("read access token: %w", err)
	}
	if access != "" {
		headers["Authorization"] = "Bearer " + access
	}

	if h.device != nil {
		id, err := h.device.DeviceID()
		if err != nil {
			return nil, fmt.Errorf("device id: %w", err)
		}
		if id != "" {
			headers["X-Device-ID"] = id
		}
	}

	return headers, nil
}
