package license

import "errors"

// Sentinel errors returned by the client.
var (
	// ErrServerUnreachable means a network-only operation (activate,
	// deactivate) could not reach the license server. Verification never
	// returns it; transport failures there degrade to the offline cache.
	ErrServerUnreachable = errors.New("license server unreachable")

	// ErrNoCachedLicense means no usable cache snapshot exists on disk.
	ErrNoCachedLicense = errors.New("no cached license")
)
