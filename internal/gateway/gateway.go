// Package gateway defines the contract every user-facing transport of the
// task service satisfies. The HTTP gateway in httpapi is the only transport
// today; cmd wiring depends on this interface rather than the concrete type.
package gateway

import "context"

// Gateway serves task execution and resource operations over a transport.
type Gateway interface {
	// Start runs the serve loop and blocks until it exits or ctx is
	// canceled. A nil return means a clean exit.
	Start(ctx context.Context) error

	// Stop drains in-flight requests and shuts the transport down. The
	// context deadline bounds the grace period.
	Stop(ctx context.Context) error
}
