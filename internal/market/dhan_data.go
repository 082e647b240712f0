// Package market - dhan_data.go implements recovery.HistoricalBackfillPort
// using Dhan's historical data API.
//
// This is intentionally separate from the broker layer (internal/broker).
// Fetching historical candles to backfill a gap is a market-data concern,
// not an order-execution concern, even though both eventually call the
// same vendor.
//
// Dhan API details:
//   - Endpoint: POST https://api.dhan.co/v2/charts/historical (daily) and
//     /v2/charts/intraday (sub-day timeframes)
//   - Auth: access-token header (Client-Id is optional)
//   - Rate limit: 10 req/sec
//   - Max 90 days per request for daily candles (requires chunking)
//   - Response: arrays of open, high, low, close, volume, timestamp (epoch)
//   - Symbols: uses numeric securityId, mapped from ticker via an
//     instrument master file
package market

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"golang.org/x/time/rate"
)

const (
	// dhanMaxChunkDays is the maximum number of days Dhan allows per
	// historical daily-candle request.
	dhanMaxChunkDays = 90

	// dhanRatePerSec is Dhan's documented historical-data rate limit (10 req/sec).
	dhanRatePerSec = 10
)

// DhanDataConfig holds configuration for the Dhan historical-data source.
type DhanDataConfig struct {
	ClientID       string `yaml:"client_id"`
	AccessToken    string `yaml:"access_token"`
	BaseURL        string `yaml:"base_url"`
	InstrumentFile string `yaml:"instrument_file"`
}

// DhanHistoricalSource implements recovery.HistoricalBackfillPort using
// Dhan's historical data API. It is the concrete source the Recovery
// Manager calls at startup to fill a gap between the last live bar and now.
type DhanHistoricalSource struct {
	config      DhanDataConfig
	client      *http.Client
	instruments map[string]string // ticker -> securityId
	limiter     *rate.Limiter
}

// dhanChartRequest is the POST body for /v2/charts/historical and /v2/charts/intraday.
type dhanChartRequest struct {
	SecurityID      string `json:"securityId"`
	ExchangeSegment string `json:"exchangeSegment"`
	Instrument      string `json:"instrument"`
	ExpiryCode      int    `json:"expiryCode"`
	Interval        string `json:"interval,omitempty"`
	FromDate        string `json:"fromDate"`
	ToDate          string `json:"toDate"`
}

// dhanChartResponse is the JSON response from Dhan's chart endpoints.
type dhanChartResponse struct {
	Open      []float64 `json:"open"`
	High      []float64 `json:"high"`
	Low       []float64 `json:"low"`
	Close     []float64 `json:"close"`
	Volume    []int64   `json:"volume"`
	Timestamp []int64   `json:"timestamp"`
}

// NewDhanHistoricalSource creates a new Dhan historical data source.
func NewDhanHistoricalSource(cfg DhanDataConfig) (*DhanHistoricalSource, error) {
	if cfg.AccessToken == "" {
		return nil, fmt.Errorf("dhan data: access_token is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.dhan.co"
	}

	ds := &DhanHistoricalSource{
		config:  cfg,
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(dhanRatePerSec, 1),
	}

	if cfg.InstrumentFile != "" {
		if err := ds.loadInstruments(cfg.InstrumentFile); err != nil {
			return nil, fmt.Errorf("dhan data: load instruments: %w", err)
		}
	}

	return ds, nil
}

// loadInstruments reads the ticker-to-securityId mapping from a JSON file.
func (d *DhanHistoricalSource) loadInstruments(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	var file struct {
		Instruments map[string]string `json:"instruments"`
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	d.instruments = file.Instruments
	return nil
}

// resolveSecurityID maps a ticker symbol to a Dhan securityId.
func (d *DhanHistoricalSource) resolveSecurityID(symbol string) (string, error) {
	id, ok := d.instruments[symbol]
	if !ok {
		return "", fmt.Errorf("dhan data: no securityId for symbol %q", symbol)
	}
	return id, nil
}

// FetchCandles implements recovery.HistoricalBackfillPort. It chunks daily
// requests at 90 days and maps the response into timeframe-stamped bars in
// IST, matching the bar-at-interval-start convention the live buffer uses.
func (d *DhanHistoricalSource) FetchCandles(ctx context.Context, symbol string, from, to time.Time, timeframe time.Duration) ([]OHLCVBar, error) {
	secID, err := d.resolveSecurityID(symbol)
	if err != nil {
		return nil, err
	}

	instrument := "EQUITY"
	exchangeSegment := "NSE_EQ"
	if symbol == "NIFTY50" {
		instrument = "INDEX"
		exchangeSegment = "IDX_I"
	}

	intraday := timeframe < 24*time.Hour

	var allBars []OHLCVBar
	chunkStart := from

	for chunkStart.Before(to) || chunkStart.Equal(to) {
		chunkEnd := to
		if !intraday {
			chunkEnd = chunkStart.AddDate(0, 0, dhanMaxChunkDays-1)
			if chunkEnd.After(to) {
				chunkEnd = to
			}
		}

		if err := d.limiter.Wait(ctx); err != nil {
			return allBars, fmt.Errorf("rate limiter: %w", err)
		}

		resp, err := d.fetchChunk(ctx, secID, exchangeSegment, instrument, chunkStart, chunkEnd, timeframe, intraday)
		if err != nil {
			return allBars, fmt.Errorf("fetch %s chunk [%s to %s]: %w",
				symbol, chunkStart.Format("2006-01-02"), chunkEnd.Format("2006-01-02"), err)
		}

		if resp != nil && len(resp.Timestamp) > 0 {
			for i := range resp.Timestamp {
				t := time.Unix(resp.Timestamp[i], 0).In(IST)
				if !intraday {
					t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, IST)
				}
				allBars = append(allBars, OHLCVBar{
					Symbol:    symbol,
					Timestamp: t,
					Open:      resp.Open[i],
					High:      resp.High[i],
					Low:       resp.Low[i],
					Close:     resp.Close[i],
					Volume:    resp.Volume[i],
					Timeframe: timeframe,
					Synthetic: true,
				})
			}
		}

		if intraday {
			break
		}
		chunkStart = chunkEnd.AddDate(0, 0, 1)
		if chunkStart.After(to) {
			break
		}
	}

	return allBars, nil
}

// dhanIntervalCode maps a timeframe to the interval string Dhan's intraday
// endpoint expects (in minutes).
func dhanIntervalCode(timeframe time.Duration) string {
	minutes := int(timeframe / time.Minute)
	if minutes <= 0 {
		minutes = 1
	}
	return fmt.Sprintf("%d", minutes)
}

// fetchChunk makes a single API call for a bounded date range.
func (d *DhanHistoricalSource) fetchChunk(
	ctx context.Context,
	securityID, exchangeSegment, instrument string,
	from, to time.Time,
	timeframe time.Duration,
	intraday bool,
) (*dhanChartResponse, error) {
	reqBody := dhanChartRequest{
		SecurityID:      securityID,
		ExchangeSegment: exchangeSegment,
		Instrument:      instrument,
		ExpiryCode:      0,
		FromDate:        from.Format("2006-01-02 15:04:05"),
		ToDate:          to.Format("2006-01-02 15:04:05"),
	}

	path := "/v2/charts/historical"
	if intraday {
		path = "/v2/charts/intraday"
		reqBody.Interval = dhanIntervalCode(timeframe)
	}

	bodyJSON, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := d.config.BaseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyJSON))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("access-token", d.config.AccessToken)
	if d.config.ClientID != "" {
		req.Header.Set("Client-Id", d.config.ClientID)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("authentication failed (401): check client_id and access_token — token may have expired")
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("rate limited (429): slow down requests")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}

	var chartResp dhanChartResponse
	if err := json.Unmarshal(body, &chartResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	return &chartResp, nil
}
