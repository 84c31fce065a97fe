package store

import (
	"fmt"
	"time"
)

// TierLimit is the (daily, monthly) debit ceiling for one tier, in kobo. Zero disables
// the corresponding check.
type TierLimit struct {
	Daily   int64
	Monthly int64
}

// LimitPolicy decides whether a debit fits within the account tier's ceilings. Totals are
// sums of successful debits since local midnight and since the first of the month.
type LimitPolicy struct {
	Tiers    map[int]TierLimit
	Location *time.Location
}

// Windows returns the start of the current day and month in the policy's location.
func (p LimitPolicy) Windows(now time.Time) (dayStart, monthStart time.Time) {
	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	dayStart = time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	monthStart = time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
	return dayStart, monthStart
}

// Check returns an error wrapping ErrLimitExceeded when amount would push either total
// over the tier ceiling.
func (p LimitPolicy) Check(tier int, dailyTotal, monthlyTotal, amount int64) error {
	limit, ok := p.Tiers[tier]
	if !ok {
		return nil
	}
	if limit.Daily > 0 && dailyTotal+amount > limit.Daily {
		return fmt.Errorf("%w: daily limit %d, used %d", ErrLimitExceeded, limit.Daily, dailyTotal)
	}
	if limit.Monthly > 0 && monthlyTotal+amount > limit.Monthly {
		return fmt.Errorf("%w: monthly limit %d, used %d", ErrLimitExceeded, limit.Monthly, monthlyTotal)
	}
	return nil
}
