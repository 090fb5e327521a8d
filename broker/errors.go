package broker

import "errors"

// ErrNoFactory is returned when Get is asked for a service with no
// registered client factory.
var ErrNoFactory = errors.New("broker: no factory registered for service")
