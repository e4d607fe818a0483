package bell

// Actuator drives the two physical bell outputs.
//
// Set(bell, true) asserts the output for the given bell (1 or 2);
// Set(bell, false) releases it. Implementations own the electrical
// polarity: the reference relay board is active-low, so "asserted"
// maps to driving the pin LOW there. The controller never deals in
// pin levels, only in asserted/released.
//
// Implementations must not block; a slow actuator stalls the tick loop.
type Actuator interface {
	Set(bell int, asserted bool) error
}

// Nop is an Actuator that goes nowhere. Used when no hardware driver
// is configured.
type Nop struct{}

func (Nop) Set(int, bool) error { return nil }
