package webhook

import "fmt"

/* Direction tells whether an attempt was a call we made to the automation engine
 * or a call the gateway made to our receiver
 */
type Direction int

const (
	Outbound Direction = iota + 1
	Inbound
)

// String returns the string representation of the direction
func (d Direction) String() string {
	switch d {
	case Outbound:
		return "outbound"
	case Inbound:
		return "inbound"
	default:
		return "unknown"
	}
}

// Validate checks if the direction is valid
func (d Direction) Validate() error {
	if d != Outbound && d != Inbound {
		return fmt.Errorf("invalid direction: %d", d)
	}
	return nil
}
