package pricing

// Amounts are expressed in micro-units of Currency (1 USD = 1_000_000) using int64.

// MinuteRate defines the per-minute provider charge used to estimate what an
// inbound call cost.
type MinuteRate struct {
	Currency string `json:"currency"`

	// RatePerMinuteMicros is the price of one minute of call time.
	RatePerMinuteMicros int64 `json:"rate_per_minute_micros"`

	// BillingIncrementSeconds (e.g., 60 for per-minute, 1 for per-second billing).
	BillingIncrementSeconds int `json:"billing_increment_seconds"`

	// MinimumBillableSeconds enforces a minimum charge duration.
	MinimumBillableSeconds int `json:"minimum_billable_seconds"`
}

// CallCost is the estimated provider cost for one call.
type CallCost struct {
	Currency string

	BillableSeconds int

	RatePerMinuteMicros int64
	TotalMicros         int64
}
