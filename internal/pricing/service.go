package pricing

import "errors"

// Estimator calculates provider cost for a finished call.
//
// Contract:
// - Pure calculation, no provider SDK calls.
// - Billable seconds are rounded up to the billing increment, then charged
//   pro rata against the per-minute rate (rounded up to the next micro).
type Estimator struct {
	rate MinuteRate
}

var ErrInvalidRate = errors.New("invalid minute rate")

func NewEstimator(rate MinuteRate) (*Estimator, error) {
	if rate.RatePerMinuteMicros < 0 || rate.Currency == "" {
		return nil, ErrInvalidRate
	}
	return &Estimator{rate: rate}, nil
}

// Estimate computes the cost of a call lasting durationSeconds.
// Zero or negative durations cost nothing.
func (e *Estimator) Estimate(durationSeconds int) CallCost {
	out := CallCost{
		Currency:            e.rate.Currency,
		RatePerMinuteMicros: e.rate.RatePerMinuteMicros,
	}
	if durationSeconds <= 0 {
		return out
	}

	billableSec := billableSeconds(durationSeconds, e.rate.MinimumBillableSeconds, e.rate.BillingIncrementSeconds)
	out.BillableSeconds = billableSec
	out.TotalMicros = proRata(e.rate.RatePerMinuteMicros, billableSec)
	return out
}

// EstimateMicros is Estimate reduced to the total, for callers that only
// persist the amount.
func (e *Estimator) EstimateMicros(durationSeconds int) int64 {
	return e.Estimate(durationSeconds).TotalMicros
}

func billableSeconds(actualSec int, minSec int, incrementSec int) int {
	if actualSec < 0 {
		return 0
	}
	if minSec <= 0 {
		minSec = 0
	}
	if incrementSec <= 0 {
		incrementSec = 60
	}

	sec := actualSec
	if sec < minSec {
		sec = minSec
	}

	// round up to nearest increment
	q := sec / incrementSec
	r := sec % incrementSec
	if r != 0 {
		q++
	}
	return q * incrementSec
}

func proRata(ratePerMinute int64, sec int) int64 {
	if sec <= 0 || ratePerMinute <= 0 {
		return 0
	}
	n := ratePerMinute * int64(sec)
	total := n / 60
	if n%60 != 0 {
		total++
	}
	return total
}
