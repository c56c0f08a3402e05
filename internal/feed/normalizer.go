// Package feed turns venue ticker streams into canonical price snapshots.
package feed

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"arb-radar/internal/market"
)

// DefaultQuotes are the quote currencies tried when splitting concatenated symbols.
var DefaultQuotes = []string{"USDT", "USDC", "BUSD", "FDUSD", "TUSD", "USD", "EUR", "BTC", "ETH", "BNB"}

// DefaultMaxClockSkew is the tolerance for venue clocks running ahead of ours.
const DefaultMaxClockSkew = 5 * time.Second

// NormalizerOptions tune symbol parsing and defaults.
type NormalizerOptions struct {
	Quotes                 []string
	DefaultFundingInterval time.Duration
	// MaxClockSkew bounds how far ahead of receipt time an event timestamp may be.
	MaxClockSkew time.Duration
	Now          func() time.Time
}

// VenueStats summarises ingestion per venue.
type VenueStats struct {
	Venue    string    `json:"venue"`
	LastSeen time.Time `json:"lastSeen"`
	Accepted uint64    `json:"accepted"`
	Dropped  uint64    `json:"dropped"`
}

// Normalizer validates raw events and converts them into snapshots. It is
// safe for concurrent use by every venue connection.
type Normalizer struct {
	opts   NormalizerOptions
	logger zerolog.Logger

	mu     sync.Mutex
	venues map[string]*VenueStats
}

// NewNormalizer constructs a Normalizer.
func NewNormalizer(opts NormalizerOptions, logger zerolog.Logger) *Normalizer {
	if len(opts.Quotes) == 0 {
		opts.Quotes = DefaultQuotes
	}
	if opts.DefaultFundingInterval <= 0 {
		opts.DefaultFundingInterval = 8 * time.Hour
	}
	if opts.MaxClockSkew <= 0 {
		opts.MaxClockSkew = DefaultMaxClockSkew
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Normalizer{
		opts:   opts,
		logger: logger.With().Str("component", "normalizer").Logger(),
		venues: make(map[string]*VenueStats),
	}
}

// Normalize converts ev into a snapshot. Malformed events return an error
// wrapping market.ErrMalformedFeedEvent and are counted against their venue.
func (n *Normalizer) Normalize(ev Event) (market.PriceSnapshot, error) {
	now := n.opts.Now().UTC()
	snap, err := n.convert(ev, now)

	venue := market.NormalizeVenue(ev.Venue)
	if venue == "" {
		venue = "unknown"
	}
	n.record(venue, err == nil, now)

	if err != nil {
		n.logger.Debug().Err(err).Str("venue", venue).Str("symbol", ev.Symbol).Msg("dropping feed event")
		return market.PriceSnapshot{}, err
	}
	return snap, nil
}

func (n *Normalizer) convert(ev Event, now time.Time) (market.PriceSnapshot, error) {
	venue := market.NormalizeVenue(ev.Venue)
	if venue == "" {
		return market.PriceSnapshot{}, malformed("missing venue")
	}
	if !finite(ev.Price) || ev.Price <= 0 {
		return market.PriceSnapshot{}, malformed("price %v must be positive", ev.Price)
	}
	if !finite(ev.Volume24h) || ev.Volume24h < 0 {
		return market.PriceSnapshot{}, malformed("volume %v must not be negative", ev.Volume24h)
	}
	for _, v := range []float64{ev.High24h, ev.Low24h, ev.PriceChange24h, ev.PriceChangePercent24h, ev.FundingRate} {
		if !finite(v) {
			return market.PriceSnapshot{}, malformed("non-finite ticker field")
		}
	}

	kind, err := market.ParseKind(ev.Kind)
	if err != nil {
		return market.PriceSnapshot{}, malformed("%v", err)
	}
	pair, err := market.ParsePair(ev.Symbol, n.opts.Quotes)
	if err != nil {
		return market.PriceSnapshot{}, malformed("%v", err)
	}

	at, err := ev.Timestamp.Time()
	if err != nil {
		return market.PriceSnapshot{}, malformed("%v", err)
	}
	if at.IsZero() {
		at = now
	}
	// A future stamp would outrank every later update and never age out.
	if ahead := at.Sub(now); ahead > n.opts.MaxClockSkew {
		return market.PriceSnapshot{}, malformed("timestamp %s is %s ahead of receipt time", at.Format(time.RFC3339Nano), ahead)
	}

	snap := market.PriceSnapshot{
		Venue:                 venue,
		Pair:                  pair,
		Kind:                  kind,
		Price:                 ev.Price,
		Volume24h:             ev.Volume24h,
		PriceChange24h:        ev.PriceChange24h,
		PriceChangePercent24h: ev.PriceChangePercent24h,
		High24h:               ev.High24h,
		Low24h:                ev.Low24h,
		LastUpdated:           at,
	}
	if kind == market.Futures {
		snap.FundingRate = ev.FundingRate
		snap.FundingInterval = n.opts.DefaultFundingInterval
		if ev.FundingInterval != "" {
			interval, err := time.ParseDuration(ev.FundingInterval)
			if err != nil || interval <= 0 {
				return market.PriceSnapshot{}, malformed("funding interval %q", ev.FundingInterval)
			}
			snap.FundingInterval = interval
		}
	}
	return snap, nil
}

func (n *Normalizer) record(venue string, ok bool, now time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()

	stats, exists := n.venues[venue]
	if !exists {
		stats = &VenueStats{Venue: venue}
		n.venues[venue] = stats
	}
	if !ok {
		stats.Dropped++
		return
	}
	stats.Accepted++
	if now.After(stats.LastSeen) {
		stats.LastSeen = now
	}
}

// Stats returns a copy of the per-venue counters ordered by venue.
func (n *Normalizer) Stats() []VenueStats {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := make([]VenueStats, 0, len(n.venues))
	for _, stats := range n.venues {
		out = append(out, *stats)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Venue < out[j].Venue })
	return out
}

// Dropped returns the total number of malformed events seen.
func (n *Normalizer) Dropped() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	var total uint64
	for _, stats := range n.venues {
		total += stats.Dropped
	}
	return total
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", market.ErrMalformedFeedEvent, fmt.Sprintf(format, args...))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
