package utils

import (
	"fmt"
	"time"

	"nine15-trader/internal/models"
)

// IndiaLocation is the timezone for Indian markets.
var IndiaLocation *time.Location

func init() {
	var err error
	IndiaLocation, err = time.LoadLocation("Asia/Kolkata")
	if err != nil {
		// Fallback to UTC+5:30
		IndiaLocation = time.FixedZone("IST", 5*60*60+30*60)
	}
}

// MarketStatusAt returns the market status at the given instant.
func MarketStatusAt(t time.Time) models.MarketStatus {
	now := t.In(IndiaLocation)

	if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		return models.MarketClosed
	}

	timeMinutes := now.Hour()*60 + now.Minute()

	// Pre-open: 9:00 - 9:15
	if timeMinutes >= 540 && timeMinutes < 555 {
		return models.MarketPreOpen
	}

	// Market open: 9:15 - 15:30
	if timeMinutes >= 555 && timeMinutes < 930 {
		// MIS square-off warning: 15:00 - 15:15
		if timeMinutes >= 900 && timeMinutes < 915 {
			return models.MarketMISSquareOffWarn
		}
		return models.MarketOpen
	}

	return models.MarketClosed
}

// GetMarketStatus returns the current market status.
func GetMarketStatus() models.MarketStatus {
	return MarketStatusAt(time.Now())
}

// IsMarketOpen returns true if the market is currently open.
func IsMarketOpen() bool {
	status := GetMarketStatus()
	return status == models.MarketOpen || status == models.MarketMISSquareOffWarn
}

// IsTradingDay reports whether t falls on a weekday.
func IsTradingDay(t time.Time) bool {
	wd := t.In(IndiaLocation).Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// AtClockTime resolves a "HH:MM:SS" clock string to an instant on the same
// day as ref, in the market timezone.
func AtClockTime(ref time.Time, clock string) (time.Time, error) {
	parsed, err := time.Parse("15:04:05", clock)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid clock time %q: %w", clock, err)
	}
	day := ref.In(IndiaLocation)
	return time.Date(day.Year(), day.Month(), day.Day(),
		parsed.Hour(), parsed.Minute(), parsed.Second(), 0, IndiaLocation), nil
}

// MISSquareOffAt returns the broker MIS square-off instant for ref's day.
func MISSquareOffAt(ref time.Time) time.Time {
	day := ref.In(IndiaLocation)
	return time.Date(day.Year(), day.Month(), day.Day(), 15, 15, 0, 0, IndiaLocation)
}

// MarketCloseAt returns the market close instant for ref's day.
func MarketCloseAt(ref time.Time) time.Time {
	day := ref.In(IndiaLocation)
	return time.Date(day.Year(), day.Month(), day.Day(), 15, 30, 0, 0, IndiaLocation)
}
