package clock

import (
	"context"
	"time"

	"github.com/beevik/ntp"

	apperrors "nine15-trader/internal/errors"
)

const ntpQueryTimeout = 5 * time.Second

// Sync measures the system clock offset against the NTP reference. On
// failure the offset falls back to zero so the clock degrades to the
// uncorrected system time rather than keeping a stale correction.
func (c *PrecisionClock) Sync(ctx context.Context) error {
	type result struct {
		resp *ntp.Response
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		resp, err := ntp.QueryWithOptions(c.ntpServer, ntp.QueryOptions{
			Timeout: ntpQueryTimeout,
		})
		ch <- result{resp, err}
	}()

	var res result
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res = <-ch:
	}

	if res.err != nil {
		c.mu.Lock()
		c.offset = 0
		c.mu.Unlock()
		return apperrors.Wrapf(res.err, "NTP query to %s failed", c.ntpServer)
	}
	if err := res.resp.Validate(); err != nil {
		c.mu.Lock()
		c.offset = 0
		c.mu.Unlock()
		return apperrors.Wrapf(err, "NTP response from %s invalid", c.ntpServer)
	}

	// ntp reports reference minus system; our convention is system ahead
	// of reference, so negate.
	offset := -res.resp.ClockOffset
	c.mu.Lock()
	c.offset = offset
	c.lastSync = c.nowFunc()
	c.mu.Unlock()

	c.logger.Info().
		Str("server", c.ntpServer).
		Dur("offset", offset).
		Msg("Clock synchronized")
	return nil
}
