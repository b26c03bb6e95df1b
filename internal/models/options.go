package models

import "time"

// OptionChain represents an option chain for one underlying and expiry.
type OptionChain struct {
	Symbol    string
	SpotPrice float64
	Expiry    time.Time
	Strikes   []OptionStrike
}

// OptionStrike represents a single strike in the option chain.
type OptionStrike struct {
	Strike float64
	Call   *OptionData
	Put    *OptionData
}

// OptionData represents option data for a single contract.
type OptionData struct {
	Symbol  string
	LTP     float64
	OI      int64
	Volume  int64
	LotSize int
}

// PCR returns the put-call ratio by open interest across all strikes.
// Returns 0 when there is no call open interest.
func (c *OptionChain) PCR() float64 {
	var putOI, callOI int64
	for _, s := range c.Strikes {
		if s.Put != nil {
			putOI += s.Put.OI
		}
		if s.Call != nil {
			callOI += s.Call.OI
		}
	}
	if callOI == 0 {
		return 0
	}
	return float64(putOI) / float64(callOI)
}

// ATMStrike returns the at-the-money strike for a spot price using the
// exchange's strike intervals: nearest 50 below 1000, nearest 100 above.
func ATMStrike(spot float64) float64 {
	interval := 100.0
	if spot < 1000 {
		interval = 50.0
	}
	steps := int(spot/interval + 0.5)
	return float64(steps) * interval
}
