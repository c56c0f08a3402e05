package market

import "time"

// Key addresses one live price in the snapshot store.
type Key struct {
	Venue string
	Pair  Pair
	Kind  Kind
}

func (k Key) String() string {
	return k.Venue + "|" + k.Pair.String() + "|" + string(k.Kind)
}

// SpotKey builds the key of a spot market.
func SpotKey(venue string, pair Pair) Key {
	return Key{Venue: venue, Pair: pair, Kind: Spot}
}

// PriceSnapshot is the canonical per-venue ticker.
type PriceSnapshot struct {
	Venue                 string        `json:"venue"`
	Pair                  Pair          `json:"pair"`
	Kind                  Kind          `json:"kind"`
	Price                 float64       `json:"price"`
	Volume24h             float64       `json:"volume24h"`
	PriceChange24h        float64       `json:"priceChange24h"`
	PriceChangePercent24h float64       `json:"priceChangePercent24h"`
	High24h               float64       `json:"high24h"`
	Low24h                float64       `json:"low24h"`
	FundingRate           float64       `json:"fundingRate,omitempty"`
	FundingInterval       time.Duration `json:"fundingInterval,omitempty"`
	LastUpdated           time.Time     `json:"lastUpdated"`
}

// Key returns the store key of the snapshot.
func (s PriceSnapshot) Key() Key {
	return Key{Venue: s.Venue, Pair: s.Pair, Kind: s.Kind}
}
