package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"arb-radar/internal/market"
)

// REST payload formats.
const (
	FormatCanonical      = "canonical"
	FormatBinanceSpot    = "binance_spot"
	FormatBinanceFutures = "binance_futures"
)

const (
	binanceSpotTickerPath   = "/api/v3/ticker/24hr"
	binancePremiumIndexPath = "/fapi/v1/premiumIndex"
	defaultRESTPollInterval = 2 * time.Second
	defaultRESTTimeout      = 10 * time.Second
)

// RESTOptions parameterise a polling venue source.
type RESTOptions struct {
	Name      string
	Venue     string
	BaseURL   string
	Format    string
	Symbols   []string
	Interval  time.Duration
	Timeout   time.Duration
	UserAgent string
}

// REST polls a venue ticker endpoint.
type REST struct {
	opts    RESTOptions
	symbols map[string]struct{}
	client  *http.Client
	logger  zerolog.Logger
}

// NewREST constructs a polling source.
func NewREST(opts RESTOptions, logger zerolog.Logger) *REST {
	if opts.Interval <= 0 {
		opts.Interval = defaultRESTPollInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultRESTTimeout
	}
	if opts.Format == "" {
		opts.Format = FormatCanonical
	}
	if opts.Name == "" {
		opts.Name = opts.Venue
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")

	var symbols map[string]struct{}
	if len(opts.Symbols) > 0 {
		symbols = make(map[string]struct{}, len(opts.Symbols))
		for _, s := range opts.Symbols {
			symbols[strings.ToUpper(strings.TrimSpace(s))] = struct{}{}
		}
	}

	return &REST{
		opts:    opts,
		symbols: symbols,
		client:  &http.Client{Timeout: opts.Timeout},
		logger:  logger.With().Str("component", "rest_source").Str("venue", opts.Venue).Logger(),
	}
}

// Name identifies the source.
func (r *REST) Name() string {
	return r.opts.Name
}

// Run polls until ctx is cancelled. Individual poll failures are logged and retried on the next interval.
func (r *REST) Run(ctx context.Context, out chan<- Event) error {
	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	for {
		events, err := r.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Warn().Err(err).Msg("poll failed")
		}
		for _, ev := range events {
			select {
			case out <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Poll performs one request and decodes it into events.
func (r *REST) Poll(ctx context.Context) ([]Event, error) {
	if r.opts.BaseURL == "" {
		return nil, fmt.Errorf("rest source %s: base url not configured", r.opts.Name)
	}

	var endpoint string
	switch r.opts.Format {
	case FormatBinanceSpot:
		endpoint = r.opts.BaseURL + binanceSpotTickerPath
	case FormatBinanceFutures:
		endpoint = r.opts.BaseURL + binancePremiumIndexPath
	case FormatCanonical:
		endpoint = r.opts.BaseURL
	default:
		return nil, fmt.Errorf("rest source %s: unsupported format %q", r.opts.Name, r.opts.Format)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(r.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "arbradar/1.0")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError(r.opts.Venue, resp.StatusCode, payload)
	}

	var events []Event
	switch r.opts.Format {
	case FormatBinanceSpot:
		events, err = decodeBinanceSpot(payload)
	case FormatBinanceFutures:
		events, err = decodeBinanceFutures(payload)
	default:
		events, err = DecodeEvents(payload)
	}
	if err != nil {
		return nil, err
	}
	return r.filter(events), nil
}

func (r *REST) filter(events []Event) []Event {
	out := events[:0]
	for _, ev := range events {
		if r.symbols != nil {
			if _, ok := r.symbols[strings.ToUpper(ev.Symbol)]; !ok {
				continue
			}
		}
		if ev.Venue == "" {
			ev.Venue = r.opts.Venue
		}
		out = append(out, ev)
	}
	return out
}

type binanceTicker struct {
	Symbol             string `json:"symbol"`
	LastPrice          string `json:"lastPrice"`
	PriceChange        string `json:"priceChange"`
	PriceChangePercent string `json:"priceChangePercent"`
	HighPrice          string `json:"highPrice"`
	LowPrice           string `json:"lowPrice"`
	QuoteVolume        string `json:"quoteVolume"`
	CloseTime          int64  `json:"closeTime"`
}

func decodeBinanceSpot(payload []byte) ([]Event, error) {
	var raw []binanceTicker
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("decode binance tickers: %w", err)
	}
	events := make([]Event, 0, len(raw))
	for _, t := range raw {
		events = append(events, Event{
			Symbol:                t.Symbol,
			Kind:                  string(market.Spot),
			Price:                 parseFloat(t.LastPrice),
			Volume24h:             parseFloat(t.QuoteVolume),
			High24h:               parseFloat(t.HighPrice),
			Low24h:                parseFloat(t.LowPrice),
			PriceChange24h:        parseFloat(t.PriceChange),
			PriceChangePercent24h: parseFloat(t.PriceChangePercent),
			Timestamp:             RawTimestamp(strconv.FormatInt(t.CloseTime, 10)),
		})
	}
	return events, nil
}

type binancePremiumIndex struct {
	Symbol          string `json:"symbol"`
	MarkPrice       string `json:"markPrice"`
	LastFundingRate string `json:"lastFundingRate"`
	Time            int64  `json:"time"`
}

func decodeBinanceFutures(payload []byte) ([]Event, error) {
	var raw []binancePremiumIndex
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("decode binance premium index: %w", err)
	}
	events := make([]Event, 0, len(raw))
	for _, p := range raw {
		events = append(events, Event{
			Symbol:          p.Symbol,
			Kind:            string(market.Futures),
			Price:           parseFloat(p.MarkPrice),
			FundingRate:     parseFloat(p.LastFundingRate),
			FundingInterval: "8h",
			Timestamp:       RawTimestamp(strconv.FormatInt(p.Time, 10)),
		})
	}
	return events, nil
}

// parseFloat maps unparseable numbers to zero, which the normalizer rejects as a price.
func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

type errorResponse struct {
	Code    int    `json:"code"`
	Msg     string `json:"msg"`
	Message string `json:"message"`
}

func parseHTTPError(venue string, status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Msg != "" {
			return fmt.Errorf("%s api error (%d): %s", venue, status, apiErr.Msg)
		}
		if apiErr.Message != "" {
			return fmt.Errorf("%s api error (%d): %s", venue, status, apiErr.Message)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("%s api error (%d): %s", venue, status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("%s api error (%d)", venue, status)
}

var _ Source = (*REST)(nil)
