package settlement

import "time"

// DefaultMinInterval is the default minimum interval between settlements
// of the same channel. It bounds a viewer's unsettled exposure while
// throttling calls to the value-transfer rail.
const DefaultMinInterval = 120 * time.Second

// Policy decides, at each accrual, whether to flush the unpaid balance to
// the executor now or defer.
type Policy struct {
	MinInterval time.Duration
}

// DefaultPolicy returns the batching policy with the default interval.
func DefaultPolicy() Policy {
	return Policy{MinInterval: DefaultMinInterval}
}

// ShouldSettle reports whether the unpaid balance should be flushed.
// Settle when unpaid > 0 and either force is set (channel close) or the
// time since ref (last settlement, or open if never settled) exceeds the
// minimum interval.
func (p Policy) ShouldSettle(unpaid int64, ref, now time.Time, force bool) bool {
	if unpaid <= 0 {
		return false
	}
	if force {
		return true
	}
	return now.Sub(ref) > p.MinInterval
}
