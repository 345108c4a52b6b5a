// Package flowcontrol adapts the outgoing send rate to measured round
// trip time. It is a two-state hysteresis controller: good conditions
// earn the fast rate, a bad RTT sample drops back to the slow rate,
// and flapping between the two is punished with a growing penalty
// before the fast rate can be earned again.
package flowcontrol

// Mode is the controller state.
type Mode int

const (
	Bad Mode = iota
	Good
)

func (m Mode) String() string {
	if m == Good {
		return "good"
	}
	return "bad"
}

const (
	// RTTThreshold divides good conditions from bad, in milliseconds.
	RTTThreshold = 250.0

	// GoodSendRate and BadSendRate are the two output rates, in
	// packets per second.
	GoodSendRate = 30.0
	BadSendRate  = 10.0

	initialPenalty = 4.0
	minPenalty     = 1.0
	maxPenalty     = 60.0
)

// FlowControl is a per-connection rate governor. Not safe for
// concurrent use; the driving loop owns it.
type FlowControl struct {
	mode                        Mode
	penaltyTime                 float64
	goodConditionsTime          float64
	penaltyReductionAccumulator float64

	// OnModeChange, when set, is invoked after every mode
	// transition. It must not call back into the controller.
	OnModeChange func(Mode)
}

func New() *FlowControl {
	fc := &FlowControl{}
	fc.Reset()
	return fc
}

// Reset returns the controller to its initial state: Bad mode with
// the starting penalty. Called whenever the owning connection drops.
func (fc *FlowControl) Reset() {
	fc.mode = Bad
	fc.penaltyTime = initialPenalty
	fc.goodConditionsTime = 0
	fc.penaltyReductionAccumulator = 0
}

// Update advances the controller by deltaTime seconds given the
// current RTT estimate in milliseconds.
func (fc *FlowControl) Update(deltaTime, rttMillis float64) {
	if fc.mode == Good {
		if rttMillis > RTTThreshold {
			// A short-lived good streak means we promoted too
			// eagerly; demand a longer one next time.
			if fc.goodConditionsTime < 10.0 && fc.penaltyTime < maxPenalty {
				fc.penaltyTime *= 2
				if fc.penaltyTime > maxPenalty {
					fc.penaltyTime = maxPenalty
				}
			}
			fc.goodConditionsTime = 0
			fc.penaltyReductionAccumulator = 0
			fc.setMode(Bad)
			return
		}

		fc.goodConditionsTime += deltaTime
		fc.penaltyReductionAccumulator += deltaTime

		if fc.penaltyReductionAccumulator > 10.0 && fc.penaltyTime > minPenalty {
			fc.penaltyTime /= 2
			if fc.penaltyTime < minPenalty {
				fc.penaltyTime = minPenalty
			}
			fc.penaltyReductionAccumulator = 0
		}
		return
	}

	// Bad mode: a qualifying good streak longer than the penalty
	// earns promotion; any bad sample restarts the streak.
	if rttMillis <= RTTThreshold {
		fc.goodConditionsTime += deltaTime
	} else {
		fc.goodConditionsTime = 0
	}

	if fc.goodConditionsTime > fc.penaltyTime {
		fc.goodConditionsTime = 0
		fc.penaltyReductionAccumulator = 0
		fc.setMode(Good)
	}
}

// SendRate is the target outgoing rate in packets per second.
func (fc *FlowControl) SendRate() float64 {
	if fc.mode == Good {
		return GoodSendRate
	}
	return BadSendRate
}

// Mode reports the current controller state.
func (fc *FlowControl) Mode() Mode { return fc.mode }

// PenaltyTime is the good-streak duration currently required for
// promotion, in seconds.
func (fc *FlowControl) PenaltyTime() float64 { return fc.penaltyTime }

func (fc *FlowControl) setMode(m Mode) {
	fc.mode = m
	if fc.OnModeChange != nil {
		fc.OnModeChange(m)
	}
}
