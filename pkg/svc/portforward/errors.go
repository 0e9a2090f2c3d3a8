package portforward

import (
	"errors"
	"fmt"
)

// ErrUnknownService is returned when a tunnel operation names a service that
// is not in the environment's service list.
var ErrUnknownService = errors.New("unknown service")

// ErrStartupTimeout is returned when a spawned tunnel never accepted
// connections on its local port.
var ErrStartupTimeout = errors.New("tunnel did not accept connections")

// PortInUseError reports a local port held by a foreign process. The tunnel
// is not started and the supervisor does not retry; the user must free the
// port or reconfigure the service.
type PortInUseError struct {
	// Port is the contested local port.
	Port int32
	// Service is the service whose tunnel could not be bound.
	Service string
}

func (e *PortInUseError) Error() string {
	return fmt.Sprintf(
		"local port %d for service %q is already in use by another process",
		e.Port, e.Service,
	)
}
