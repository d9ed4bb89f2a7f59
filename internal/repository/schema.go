package repository

import "fmt"

// Schema returns the DDL for the candle and indicator tables.
//
// All tables are ReplacingMergeTree: overlapping writes for the same key
// collapse to the newest row, so producers can re-write recent windows
// without coordination.
func Schema(database string, retentionDays int) []string {
	candleTable := func(name string) string {
		return fmt.Sprintf(`
            CREATE TABLE IF NOT EXISTS %s.%s
            (
                bucket       DateTime('UTC'),
                source       LowCardinality(String),
                instrument   LowCardinality(String),
                open         Float64,
                high         Float64,
                low          Float64,
                close        Float64,
                base_volume  Float64,
                quote_volume Float64,
                trade_count  UInt64,
                is_synthetic UInt8 DEFAULT 0,
                inserted_at  DateTime DEFAULT now()
            )
            ENGINE = ReplacingMergeTree(inserted_at)
            PARTITION BY toYYYYMM(bucket)
            ORDER BY (source, instrument, bucket)
            TTL bucket + INTERVAL %d DAY`, database, name, retentionDays)
	}

	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database),
		candleTable("candles_1m"),
		candleTable("candles_5m"),
		candleTable("candles_1h"),
		fmt.Sprintf(`
            CREATE TABLE IF NOT EXISTS %s.indicators
            (
                bucket      DateTime('UTC'),
                source      LowCardinality(String),
                instrument  LowCardinality(String),
                timeframe   LowCardinality(String),
                name        LowCardinality(String),
                value       Float64,
                computed_at DateTime('UTC')
            )
            ENGINE = ReplacingMergeTree(computed_at)
            PARTITION BY toYYYYMM(bucket)
            ORDER BY (source, instrument, timeframe, name, bucket)
            TTL bucket + INTERVAL %d DAY`, database, retentionDays),
	}
}
