package feed

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Event is a raw ticker as delivered by a venue connection.
type Event struct {
	Venue                 string    `json:"venue"`
	Symbol                string    `json:"pair"`
	Kind                  string    `json:"kind,omitempty"`
	Price                 float64   `json:"price"`
	Volume24h             float64   `json:"volume24h"`
	High24h               float64   `json:"high24h,omitempty"`
	Low24h                float64   `json:"low24h,omitempty"`
	PriceChange24h        float64   `json:"priceChange24h,omitempty"`
	PriceChangePercent24h float64   `json:"priceChangePercent24h,omitempty"`
	FundingRate           float64   `json:"fundingRate,omitempty"`
	FundingInterval       string    `json:"fundingInterval,omitempty"`
	Timestamp             Timestamp `json:"timestamp"`
}

// DecodeEvents accepts a single JSON event or an array of events.
func DecodeEvents(payload []byte) ([]Event, error) {
	trimmed := strings.TrimSpace(string(payload))
	if strings.HasPrefix(trimmed, "[") {
		var events []Event
		if err := json.Unmarshal(payload, &events); err != nil {
			return nil, fmt.Errorf("decode events: %w", err)
		}
		return events, nil
	}
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	return []Event{ev}, nil
}

// Timestamp carries a venue-local time representation until normalisation.
type Timestamp struct {
	raw string
	at  time.Time
}

// At wraps an already parsed time.
func At(t time.Time) Timestamp {
	return Timestamp{at: t}
}

// RawTimestamp wraps an unparsed value such as "1700000000123" or an RFC3339 string.
func RawTimestamp(s string) Timestamp {
	return Timestamp{raw: strings.TrimSpace(s)}
}

// IsZero reports whether no timestamp was supplied.
func (ts Timestamp) IsZero() bool {
	return ts.raw == "" && ts.at.IsZero()
}

// UnmarshalJSON accepts numbers and strings.
func (ts *Timestamp) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*ts = Timestamp{}
		return nil
	}
	if unquoted, err := strconv.Unquote(s); err == nil {
		s = unquoted
	}
	*ts = RawTimestamp(s)
	return nil
}

// MarshalJSON renders the timestamp as RFC3339Nano when parseable.
func (ts Timestamp) MarshalJSON() ([]byte, error) {
	t, err := ts.Time()
	if err != nil || t.IsZero() {
		return json.Marshal(ts.raw)
	}
	return json.Marshal(t.Format(time.RFC3339Nano))
}

var layouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	time.RFC1123Z,
	time.RFC1123,
}

// Time parses the timestamp into UTC. Numeric values are interpreted as unix
// seconds, milliseconds, microseconds or nanoseconds by magnitude. A zero
// timestamp yields the zero time and no error.
func (ts Timestamp) Time() (time.Time, error) {
	if !ts.at.IsZero() {
		return ts.at.UTC(), nil
	}
	if ts.raw == "" {
		return time.Time{}, nil
	}

	if v, err := strconv.ParseFloat(ts.raw, 64); err == nil {
		return fromUnix(v)
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, ts.raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", ts.raw)
}

func fromUnix(v float64) (time.Time, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return time.Time{}, fmt.Errorf("invalid unix timestamp %v", v)
	}
	switch {
	case v < 1e11:
		sec, frac := math.Modf(v)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC(), nil
	case v < 1e14:
		return time.UnixMilli(int64(v)).UTC(), nil
	case v < 1e17:
		return time.UnixMicro(int64(v)).UTC(), nil
	default:
		return time.Unix(0, int64(v)).UTC(), nil
	}
}
