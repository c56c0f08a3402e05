package feed

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"arb-radar/internal/market"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestNormalizer() *Normalizer {
	return NewNormalizer(NormalizerOptions{Now: func() time.Time { return fixedNow }}, noopLogger())
}

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestNormalizeSpot(t *testing.T) {
	n := newTestNormalizer()
	snap, err := n.Normalize(Event{
		Venue:     " Binance",
		Symbol:    "BTCUSDT",
		Price:     38000,
		Volume24h: 1500000,
		High24h:   38500,
		Low24h:    37000,
		Timestamp: RawTimestamp("1772366400000"),
	})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if snap.Venue != "binance" || snap.Pair.String() != "BTC/USDT" || snap.Kind != market.Spot {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if !snap.LastUpdated.Equal(time.UnixMilli(1772366400000)) {
		t.Fatalf("unexpected timestamp %v", snap.LastUpdated)
	}

	stats := n.Stats()
	if len(stats) != 1 || stats[0].Accepted != 1 || !stats[0].LastSeen.Equal(fixedNow) {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestNormalizeFuturesDefaults(t *testing.T) {
	n := newTestNormalizer()
	snap, err := n.Normalize(Event{Venue: "bybit", Symbol: "ETHUSDT-PERP", Kind: "perp", Price: 2010, FundingRate: 0.0001})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if snap.Kind != market.Futures || snap.FundingInterval != 8*time.Hour {
		t.Fatalf("unexpected futures snapshot %+v", snap)
	}
	if !snap.LastUpdated.Equal(fixedNow) {
		t.Fatalf("missing timestamp should default to receipt time, got %v", snap.LastUpdated)
	}

	snap, err = n.Normalize(Event{Venue: "bybit", Symbol: "ETH/USDT", Kind: "futures", Price: 2010, FundingInterval: "4h"})
	if err != nil || snap.FundingInterval != 4*time.Hour {
		t.Fatalf("explicit funding interval ignored: %+v %v", snap, err)
	}
}

func TestNormalizeRejectsMalformed(t *testing.T) {
	n := newTestNormalizer()
	cases := []Event{
		{Venue: "kraken", Symbol: "BTC/USDT", Price: 0, Volume24h: 1},
		{Venue: "kraken", Symbol: "BTC/USDT", Price: -1, Volume24h: 1},
		{Venue: "kraken", Symbol: "BTC/USDT", Price: math.NaN()},
		{Venue: "kraken", Symbol: "BTC/USDT", Price: 1, Volume24h: -5},
		{Venue: "kraken", Symbol: "BTCXYZ", Price: 1},
		{Venue: "kraken", Symbol: "BTC/USDT", Price: 1, Timestamp: RawTimestamp("yesterday")},
		{Venue: "kraken", Symbol: "BTC/USDT", Price: 1, Kind: "options"},
		{Venue: "", Symbol: "BTC/USDT", Price: 1},
	}
	for i, ev := range cases {
		if _, err := n.Normalize(ev); !errors.Is(err, market.ErrMalformedFeedEvent) {
			t.Fatalf("case %d: expected ErrMalformedFeedEvent, got %v", i, err)
		}
	}
	if n.Dropped() != uint64(len(cases)) {
		t.Fatalf("expected %d dropped, got %d", len(cases), n.Dropped())
	}
	for _, s := range n.Stats() {
		if !s.LastSeen.IsZero() {
			t.Fatalf("malformed events must not refresh last seen: %+v", s)
		}
	}
}

func TestNormalizeRejectsFutureTimestamps(t *testing.T) {
	n := newTestNormalizer()

	snap, err := n.Normalize(Event{Venue: "kraken", Symbol: "BTC/USDT", Price: 38000, Timestamp: At(fixedNow.Add(4 * time.Second))})
	if err != nil {
		t.Fatalf("timestamp within skew rejected: %v", err)
	}
	if !snap.LastUpdated.Equal(fixedNow.Add(4 * time.Second)) {
		t.Fatalf("unexpected timestamp %v", snap.LastUpdated)
	}

	cases := []Event{
		{Venue: "kraken", Symbol: "BTC/USDT", Price: 38000, Timestamp: At(fixedNow.Add(24 * time.Hour))},
		{Venue: "kraken", Symbol: "BTC/USDT", Price: 38000, Timestamp: At(fixedNow.Add(6 * time.Second))},
		// seconds misread from a truncated millisecond stamp land centuries ahead
		{Venue: "kraken", Symbol: "BTC/USDT", Price: 38000, Timestamp: RawTimestamp("99999999999")},
	}
	for i, ev := range cases {
		if _, err := n.Normalize(ev); !errors.Is(err, market.ErrMalformedFeedEvent) {
			t.Fatalf("case %d: expected ErrMalformedFeedEvent, got %v", i, err)
		}
	}
	if n.Dropped() != uint64(len(cases)) {
		t.Fatalf("expected %d dropped, got %d", len(cases), n.Dropped())
	}

	wide := NewNormalizer(NormalizerOptions{
		MaxClockSkew: time.Minute,
		Now:          func() time.Time { return fixedNow },
	}, noopLogger())
	if _, err := wide.Normalize(cases[1]); err != nil {
		t.Fatalf("configured skew ignored: %v", err)
	}
}

func TestTimestampFormats(t *testing.T) {
	want := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cases := []string{
		`1772366400`,
		`1772366400000`,
		`"1772366400000000"`,
		`1772366400000000000`,
		`"2026-03-01T12:00:00Z"`,
		`"2026-03-01T14:00:00+02:00"`,
		`"2026-03-01 12:00:00"`,
	}
	for _, raw := range cases {
		var ts Timestamp
		if err := json.Unmarshal([]byte(raw), &ts); err != nil {
			t.Fatalf("unmarshal %s: %v", raw, err)
		}
		got, err := ts.Time()
		if err != nil {
			t.Fatalf("parse %s: %v", raw, err)
		}
		if !got.Equal(want) {
			t.Fatalf("parse %s = %v, want %v", raw, got, want)
		}
	}
}

func TestDecodeEvents(t *testing.T) {
	events, err := DecodeEvents([]byte(`[{"venue":"okx","pair":"BTC-USDT","price":38000,"volume24h":10,"timestamp":1772366400000},{"venue":"okx","pair":"ETH-USDT","price":2000}]`))
	if err != nil || len(events) != 2 {
		t.Fatalf("decode array: %v %d", err, len(events))
	}
	single, err := DecodeEvents([]byte(`{"venue":"okx","pair":"BTC-USDT","price":38000}`))
	if err != nil || len(single) != 1 || single[0].Symbol != "BTC-USDT" {
		t.Fatalf("decode single: %v %+v", err, single)
	}
}
