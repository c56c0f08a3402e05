package market

import (
	"fmt"
	"sort"
	"strings"
)

// Kind distinguishes spot markets from perpetual futures.
type Kind string

const (
	Spot    Kind = "spot"
	Futures Kind = "futures"
)

// ParseKind accepts spot, futures, perp or perpetual; empty means spot.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "spot":
		return Spot, nil
	case "futures", "future", "perp", "perpetual", "swap":
		return Futures, nil
	default:
		return "", fmt.Errorf("unknown instrument kind %q", s)
	}
}

// Pair is a tradable instrument expressed as base/quote.
type Pair struct {
	Base  string
	Quote string
}

func (p Pair) String() string {
	return p.Base + "/" + p.Quote
}

// IsZero reports whether the pair is unset.
func (p Pair) IsZero() bool {
	return p.Base == "" && p.Quote == ""
}

// Inverse swaps base and quote.
func (p Pair) Inverse() Pair {
	return Pair{Base: p.Quote, Quote: p.Base}
}

// MarshalText renders BASE/QUOTE.
func (p Pair) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText parses BASE/QUOTE.
func (p *Pair) UnmarshalText(b []byte) error {
	parsed, err := ParsePair(string(b), nil)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

var separators = []string{"/", "-", "_", ":"}

var perpSuffixes = []string{"-PERP", "_PERP", "PERP", "-SWAP", "_SWAP"}

// ParsePair decomposes a venue symbol into base and quote. Separated forms
// (BTC/USDT, BTC-USDT, BTC_USDT, BTC:USDT) are split directly; concatenated
// forms (BTCUSDT) are split on the longest matching quote currency.
func ParsePair(symbol string, quotes []string) (Pair, error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if s == "" {
		return Pair{}, fmt.Errorf("empty symbol")
	}
	for _, suffix := range perpSuffixes {
		if len(s) > len(suffix) && strings.HasSuffix(s, suffix) {
			s = strings.TrimSuffix(s, suffix)
			break
		}
	}

	for _, sep := range separators {
		if !strings.Contains(s, sep) {
			continue
		}
		parts := strings.Split(s, sep)
		if len(parts) != 2 {
			return Pair{}, fmt.Errorf("symbol %q has %d parts", symbol, len(parts))
		}
		return newPair(parts[0], parts[1], symbol)
	}

	candidates := append([]string(nil), quotes...)
	sort.SliceStable(candidates, func(i, j int) bool { return len(candidates[i]) > len(candidates[j]) })
	for _, q := range candidates {
		q = strings.ToUpper(q)
		if q != "" && len(s) > len(q) && strings.HasSuffix(s, q) {
			return newPair(strings.TrimSuffix(s, q), q, symbol)
		}
	}
	return Pair{}, fmt.Errorf("cannot split symbol %q into base and quote", symbol)
}

func newPair(base, quote, symbol string) (Pair, error) {
	base = strings.TrimSpace(base)
	quote = strings.TrimSpace(quote)
	if base == "" || quote == "" {
		return Pair{}, fmt.Errorf("symbol %q has an empty leg", symbol)
	}
	if base == quote {
		return Pair{}, fmt.Errorf("symbol %q has identical base and quote", symbol)
	}
	if !isAlnum(base) || !isAlnum(quote) {
		return Pair{}, fmt.Errorf("symbol %q contains invalid characters", symbol)
	}
	return Pair{Base: base, Quote: quote}, nil
}

func isAlnum(s string) bool {
	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

// NormalizeVenue lower-cases and trims a venue id.
func NormalizeVenue(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}
