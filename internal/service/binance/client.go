package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"CandleSync/internal/domain/models"
	domrepo "CandleSync/internal/domain/repository"
	applogger "CandleSync/pkg/logger"
)

const defaultBaseURL = "https://api.binance.com"

// Client implements a candle Source backed by the Binance REST API.
type Client struct {
	name       string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	timeout    time.Duration
	l          *applogger.Logger
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func New(name string, l *applogger.Logger, opts ...Option) *Client {
	c := &Client{
		name:       name,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(10), 5),
		timeout:    10 * time.Second,
		l:          l,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Name() string { return c.name }

var intervalFor = map[domrepo.Timeframe]string{
	domrepo.TF1m: "1m",
	domrepo.TF5m: "5m",
	domrepo.TF1h: "1h",
}

// FetchOHLCV fetches up to limit closed klines for instrument starting at
// since (zero since means "the most recent limit klines"). Rows that fail
// validation are dropped with a warning rather than failing the batch.
func (c *Client) FetchOHLCV(ctx context.Context, instrument string, tf domrepo.Timeframe, since time.Time, limit int) ([]models.Candle, error) {
	interval, ok := intervalFor[tf]
	if !ok {
		return nil, fmt.Errorf("unsupported timeframe: %s", tf)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	q := url.Values{}
	q.Set("symbol", strings.ToUpper(strings.ReplaceAll(instrument, "/", "")))
	q.Set("interval", interval)
	q.Set("limit", strconv.Itoa(limit))
	if !since.IsZero() {
		q.Set("startTime", strconv.FormatInt(since.UnixMilli(), 10))
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.baseURL+"/api/v3/klines?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("klines %s: %w: %w", instrument, models.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("klines %s: %w: %w", instrument, models.ErrSourceUnavailable, err)
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, fmt.Errorf("klines %s: status %d: %w", instrument, resp.StatusCode, models.ErrSourceUnavailable)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("klines %s: status %d: %w", instrument, resp.StatusCode, models.ErrMalformedData)
	}

	return c.parseKlines(body, instrument, tf)
}

// Binance kline rows are positional arrays of mixed number/string values:
// [openTime, open, high, low, close, volume, closeTime, quoteVolume, trades, ...].
func (c *Client) parseKlines(body []byte, instrument string, tf domrepo.Timeframe) ([]models.Candle, error) {
	var rows [][]json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("klines %s: decode: %w: %w", instrument, models.ErrMalformedData, err)
	}

	out := make([]models.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 9 {
			return nil, fmt.Errorf("klines %s: short row: %w", instrument, models.ErrMalformedData)
		}

		var openMs int64
		if err := json.Unmarshal(row[0], &openMs); err != nil {
			return nil, fmt.Errorf("klines %s: open time: %w", instrument, models.ErrMalformedData)
		}

		fields := make([]float64, 0, 5)
		for _, idx := range []int{1, 2, 3, 4, 5} {
			v, err := parseQuotedFloat(row[idx])
			if err != nil {
				return nil, fmt.Errorf("klines %s: field %d: %w", instrument, idx, models.ErrMalformedData)
			}
			fields = append(fields, v)
		}
		quoteVol, err := parseQuotedFloat(row[7])
		if err != nil {
			return nil, fmt.Errorf("klines %s: quote volume: %w", instrument, models.ErrMalformedData)
		}
		var trades uint64
		if err := json.Unmarshal(row[8], &trades); err != nil {
			return nil, fmt.Errorf("klines %s: trade count: %w", instrument, models.ErrMalformedData)
		}

		candle := models.Candle{
			Source:      c.name,
			Instrument:  instrument,
			Timeframe:   string(tf),
			Bucket:      tf.Truncate(time.UnixMilli(openMs).UTC()),
			Open:        fields[0],
			High:        fields[1],
			Low:         fields[2],
			Close:       fields[3],
			BaseVolume:  fields[4],
			QuoteVolume: quoteVol,
			TradeCount:  trades,
		}
		if err := candle.Validate(); err != nil {
			c.l.Warn("dropping malformed kline",
				applogger.String("instrument", instrument),
				applogger.Time("bucket", candle.Bucket),
				applogger.Error(err),
			)
			continue
		}
		out = append(out, candle)
	}
	return out, nil
}

func parseQuotedFloat(raw json.RawMessage) (float64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		// some mirrors return bare numbers
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return 0, err
		}
		return f, nil
	}
	return strconv.ParseFloat(s, 64)
}
