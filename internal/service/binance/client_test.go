package binance

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"CandleSync/internal/domain/models"
	domrepo "CandleSync/internal/domain/repository"
	applogger "CandleSync/pkg/logger"
)

func testLogger(t *testing.T) *applogger.Logger {
	t.Helper()
	l, err := applogger.New(&applogger.Config{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return l
}

const klinesBody = `[
  [1700000040000, "35000.5", "35010.0", "34990.0", "35005.0", "1.5", 1700000099999, "52507.5", 42, "0.7", "24503.5", "0"],
  [1700000100000, "35005.0", "35020.0", "35000.0", "35015.0", "2.0", 1700000159999, "70030.0", 55, "1.0", "35015.0", "0"]
]`

func TestFetchOHLCVParsesKlines(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(klinesBody))
	}))
	defer srv.Close()

	c := New("binance", testLogger(t), WithBaseURL(srv.URL), WithRateLimit(100, 10))
	since := time.UnixMilli(1700000040000).UTC()
	candles, err := c.FetchOHLCV(context.Background(), "BTCUSDT", domrepo.TF1m, since, 100)
	if err != nil {
		t.Fatalf("FetchOHLCV: %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("candles = %d, want 2", len(candles))
	}

	first := candles[0]
	if first.Source != "binance" || first.Instrument != "BTCUSDT" || first.Timeframe != "1m" {
		t.Fatalf("identity = %s/%s/%s", first.Source, first.Instrument, first.Timeframe)
	}
	if !first.Bucket.Equal(time.UnixMilli(1700000040000).UTC().Truncate(time.Minute)) {
		t.Fatalf("bucket = %v", first.Bucket)
	}
	if first.Open != 35000.5 || first.Close != 35005.0 {
		t.Fatalf("open/close = %v/%v", first.Open, first.Close)
	}
	if first.BaseVolume != 1.5 || first.QuoteVolume != 52507.5 || first.TradeCount != 42 {
		t.Fatalf("volumes = %v/%v/%d", first.BaseVolume, first.QuoteVolume, first.TradeCount)
	}

	for _, part := range []string{"symbol=BTCUSDT", "interval=1m", "limit=100", "startTime=1700000040000"} {
		if !containsParam(gotQuery, part) {
			t.Fatalf("query %q missing %q", gotQuery, part)
		}
	}
}

func TestFetchOHLCVOmitsStartTimeWhenZero(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte("[]"))
	}))
	defer srv.Close()

	c := New("binance", testLogger(t), WithBaseURL(srv.URL), WithRateLimit(100, 10))
	if _, err := c.FetchOHLCV(context.Background(), "ETHUSDT", domrepo.TF5m, time.Time{}, 5); err != nil {
		t.Fatalf("FetchOHLCV: %v", err)
	}
	if containsParam(gotQuery, "startTime=") {
		t.Fatalf("query %q should not carry startTime", gotQuery)
	}
}

func TestFetchOHLCVServerErrorIsSourceUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New("binance", testLogger(t), WithBaseURL(srv.URL), WithRateLimit(100, 10))
	_, err := c.FetchOHLCV(context.Background(), "BTCUSDT", domrepo.TF1m, time.Time{}, 10)
	if !errors.Is(err, models.ErrSourceUnavailable) {
		t.Fatalf("err = %v, want ErrSourceUnavailable", err)
	}
}

func TestFetchOHLCVRateLimitedIsSourceUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New("binance", testLogger(t), WithBaseURL(srv.URL), WithRateLimit(100, 10))
	_, err := c.FetchOHLCV(context.Background(), "BTCUSDT", domrepo.TF1m, time.Time{}, 10)
	if !errors.Is(err, models.ErrSourceUnavailable) {
		t.Fatalf("err = %v, want ErrSourceUnavailable", err)
	}
}

func TestFetchOHLCVBadPayloadIsMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"not":"klines"}`))
	}))
	defer srv.Close()

	c := New("binance", testLogger(t), WithBaseURL(srv.URL), WithRateLimit(100, 10))
	_, err := c.FetchOHLCV(context.Background(), "BTCUSDT", domrepo.TF1m, time.Time{}, 10)
	if !errors.Is(err, models.ErrMalformedData) {
		t.Fatalf("err = %v, want ErrMalformedData", err)
	}
}

func TestFetchOHLCVDropsInvalidRows(t *testing.T) {
	// second row has high < low and must be dropped, not fail the batch
	body := `[
      [1700000040000, "100", "110", "90", "105", "1.0", 0, "100.0", 10, "0", "0", "0"],
      [1700000100000, "100", "90", "110", "105", "1.0", 0, "100.0", 10, "0", "0", "0"]
    ]`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer srv.Close()

	c := New("binance", testLogger(t), WithBaseURL(srv.URL), WithRateLimit(100, 10))
	candles, err := c.FetchOHLCV(context.Background(), "BTCUSDT", domrepo.TF1m, time.Time{}, 10)
	if err != nil {
		t.Fatalf("FetchOHLCV: %v", err)
	}
	if len(candles) != 1 {
		t.Fatalf("candles = %d, want 1 (invalid row dropped)", len(candles))
	}
}

func containsParam(query, part string) bool {
	for _, p := range splitQuery(query) {
		if p == part || (len(part) > 0 && part[len(part)-1] == '=' && len(p) >= len(part) && p[:len(part)] == part) {
			return true
		}
	}
	return false
}

func splitQuery(query string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(query); i++ {
		if i == len(query) || query[i] == '&' {
			out = append(out, query[start:i])
			start = i + 1
		}
	}
	return out
}
