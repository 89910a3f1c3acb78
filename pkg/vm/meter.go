package vm

// StepMeter bounds the number of instructions a run may execute.
type StepMeter struct {
	remaining uint64
	limit     uint64
}

// NewStepMeter creates a meter allowing limit steps.
func NewStepMeter(limit uint64) *StepMeter {
	return &StepMeter{
		remaining: limit,
		limit:     limit,
	}
}

// Consume attempts to use n steps.
func (sm *StepMeter) Consume(n uint64) error {
	if sm.remaining < n {
		sm.remaining = 0
		return ErrStepLimitExceeded
	}
	sm.remaining -= n
	return nil
}

// Remaining returns the steps left.
func (sm *StepMeter) Remaining() uint64 {
	return sm.remaining
}

// Limit returns the configured budget.
func (sm *StepMeter) Limit() uint64 {
	return sm.limit
}
