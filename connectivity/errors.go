package connectivity

import "fmt"

// ErrCircuitOpen is returned when the breaker for a service is open and the
// call was not attempted.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("connectivity: circuit open: %s", e.Service)
}
