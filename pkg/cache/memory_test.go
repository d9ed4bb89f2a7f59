package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryCacheRoundTrip(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	in := map[string]float64{"SMA_20": 45000.5, "RSI_14": 61.2}
	if err := c.Set(ctx, "indicators:binance:BTCUSDT:1m", in, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}

	var out map[string]float64
	if err := c.Get(ctx, "indicators:binance:BTCUSDT:1m", &out); err != nil {
		t.Fatalf("get: %v", err)
	}
	if out["SMA_20"] != in["SMA_20"] || out["RSI_14"] != in["RSI_14"] {
		t.Fatalf("round trip mismatch: %v", out)
	}
}

func TestMemoryCacheMiss(t *testing.T) {
	c := NewMemoryCache()
	var out string
	if err := c.Get(context.Background(), "absent", &out); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected ErrCacheMiss, got %v", err)
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	if err := c.Set(ctx, "k", "v", time.Millisecond); err != nil {
		t.Fatalf("set: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	var out string
	if err := c.Get(ctx, "k", &out); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected expiry, got %v", err)
	}
}
