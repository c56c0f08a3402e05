// Package ranking filters, orders and diffs published opportunity lists.
// Every function is pure: inputs are never modified and results are new slices.
package ranking

import (
	"fmt"
	"strings"
)

// Key selects the value opportunities are ordered by.
type Key string

const (
	KeyMetric  Key = "metric"
	KeyVolume  Key = "volume"
	KeyRecency Key = "recency"
	KeyProfit  Key = "profit"
	KeyFunding Key = "funding"
)

// Direction of a sort.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// Sort is a key and a direction. Ties are always broken by ascending id.
type Sort struct {
	Key       Key       `json:"key"`
	Direction Direction `json:"direction"`
}

// DefaultSort orders by the primary metric, best first.
func DefaultSort() Sort {
	return Sort{Key: KeyMetric, Direction: Desc}
}

func (s Sort) String() string {
	return string(s.Key) + " " + string(s.Direction)
}

// ParseKey validates a sort key. Empty selects the metric.
func ParseKey(raw string) (Key, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "metric", "spread", "spreadpercent", "profitpercent":
		return KeyMetric, nil
	case "volume", "volume24h":
		return KeyVolume, nil
	case "recency", "time", "observedat", "timestamp":
		return KeyRecency, nil
	case "profit", "netprofit":
		return KeyProfit, nil
	case "funding", "fundingrate":
		return KeyFunding, nil
	default:
		return "", fmt.Errorf("unknown sort key %q", raw)
	}
}

// ParseDirection validates a sort direction. Empty selects descending.
func ParseDirection(raw string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "desc", "descending":
		return Desc, nil
	case "asc", "ascending":
		return Asc, nil
	default:
		return "", fmt.Errorf("unknown sort direction %q", raw)
	}
}

// ParseSort validates a key and a direction together.
func ParseSort(key, direction string) (Sort, error) {
	k, err := ParseKey(key)
	if err != nil {
		return Sort{}, err
	}
	d, err := ParseDirection(direction)
	if err != nil {
		return Sort{}, err
	}
	return Sort{Key: k, Direction: d}, nil
}
