// Package market - calendar.go handles market state awareness.
//
// Design rules (from spec):
//   - The system must know if today is a trading day without relying on
//     time checks alone — it consults exchange calendar data.
//   - One central Calendar type is the only source of truth for session
//     boundaries; the resampler's bucket alignment is derived from it.
package market

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// IST is the Indian Standard Time location, used for all session alignment.
var IST *time.Location

func init() {
	var err error
	IST, err = time.LoadLocation("Asia/Kolkata")
	if err != nil {
		panic(fmt.Sprintf("market: failed to load IST timezone: %v", err))
	}
}

// NSE equity session hours (IST).
const (
	MarketOpenHour  = 9
	MarketOpenMin   = 15
	MarketCloseHour = 15
	MarketCloseMin  = 30
)

// Calendar provides exchange calendar and market state information.
type Calendar struct {
	holidays map[string]string // YYYY-MM-DD -> reason
}

// HolidayEntry represents a single exchange holiday.
type HolidayEntry struct {
	Date   string `json:"date"`
	Reason string `json:"reason"`
}

// NewCalendar creates a Calendar from a JSON holiday file.
func NewCalendar(holidayFilePath string) (*Calendar, error) {
	data, err := os.ReadFile(holidayFilePath)
	if err != nil {
		return nil, fmt.Errorf("market calendar: read holidays file: %w", err)
	}

	var entries []HolidayEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("market calendar: parse holidays: %w", err)
	}

	holidays := make(map[string]string, len(entries))
	for _, e := range entries {
		holidays[e.Date] = e.Reason
	}

	return &Calendar{holidays: holidays}, nil
}

// NewCalendarFromHolidays creates a Calendar directly from a holiday map.
// Useful for tests.
func NewCalendarFromHolidays(holidays map[string]string) *Calendar {
	return &Calendar{holidays: holidays}
}

// IsTradingDay returns true if the given date is a valid trading day: a
// weekday that is not an exchange holiday.
func (c *Calendar) IsTradingDay(date time.Time) bool {
	d := date.In(IST)

	if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		return false
	}

	dateStr := d.Format("2006-01-02")
	if _, isHoliday := c.holidays[dateStr]; isHoliday {
		return false
	}

	return true
}

// HolidayReason returns the reason for a holiday, or empty string if not a holiday.
func (c *Calendar) HolidayReason(date time.Time) string {
	dateStr := date.In(IST).Format("2006-01-02")
	return c.holidays[dateStr]
}

// SessionOpen returns the market-open instant for the trading day containing t.
func (c *Calendar) SessionOpen(t time.Time) time.Time {
	d := t.In(IST)
	return time.Date(d.Year(), d.Month(), d.Day(), MarketOpenHour, MarketOpenMin, 0, 0, IST)
}

// SessionClose returns the market-close instant for the trading day containing t.
func (c *Calendar) SessionClose(t time.Time) time.Time {
	d := t.In(IST)
	return time.Date(d.Year(), d.Month(), d.Day(), MarketCloseHour, MarketCloseMin, 0, 0, IST)
}

// IsMarketOpen returns true if the NSE is currently in trading hours.
func (c *Calendar) IsMarketOpen(now time.Time) bool {
	t := now.In(IST)

	if !c.IsTradingDay(t) {
		return false
	}

	currentMinutes := t.Hour()*60 + t.Minute()
	openMinutes := MarketOpenHour*60 + MarketOpenMin
	closeMinutes := MarketCloseHour*60 + MarketCloseMin

	return currentMinutes >= openMinutes && currentMinutes < closeMinutes
}

// TimeUntilNextSession returns the duration until the next market open.
// If the market is currently open, returns 0.
func (c *Calendar) TimeUntilNextSession(now time.Time) time.Duration {
	t := now.In(IST)

	if c.IsMarketOpen(t) {
		return 0
	}

	candidate := t
	for i := 0; i < 10; i++ {
		if i == 0 && c.IsTradingDay(candidate) {
			todayOpen := c.SessionOpen(candidate)
			if t.Before(todayOpen) {
				return todayOpen.Sub(t)
			}
		}

		candidate = candidate.AddDate(0, 0, 1)
		if c.IsTradingDay(candidate) {
			return c.SessionOpen(candidate).Sub(t)
		}
	}

	return 24 * time.Hour
}

// NextTradingDay returns the next trading day after the given date.
func (c *Calendar) NextTradingDay(date time.Time) time.Time {
	candidate := date.In(IST).AddDate(0, 0, 1)
	for i := 0; i < 10; i++ {
		if c.IsTradingDay(candidate) {
			return candidate
		}
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}

// PreviousTradingDay returns the most recent trading day before the given date.
func (c *Calendar) PreviousTradingDay(date time.Time) time.Time {
	candidate := date.In(IST).AddDate(0, 0, -1)
	for i := 0; i < 10; i++ {
		if c.IsTradingDay(candidate) {
			return candidate
		}
		candidate = candidate.AddDate(0, 0, -1)
	}
	return candidate
}

// BucketStart returns the start of the N-minute, session-aligned bucket
// containing t. Alignment is anchored to the session open (09:15 IST for
// NSE equities), so for N=15 the boundaries fall on 09:15, 09:30, 09:45, ...
func (c *Calendar) BucketStart(t time.Time, n time.Duration) time.Time {
	open := c.SessionOpen(t)
	elapsed := t.Sub(open)
	if elapsed < 0 {
		return open
	}
	buckets := elapsed / n
	return open.Add(buckets * n)
}
