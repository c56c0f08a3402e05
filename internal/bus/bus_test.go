package bus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"arb-radar/internal/engine"
	"arb-radar/internal/market"
	"arb-radar/internal/opportunity"
)

type fakeRedis struct {
	published map[string][]byte
	keys      map[string][]byte
	ttls      map[string]time.Duration
	failSet   bool
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{
		published: map[string][]byte{},
		keys:      map[string][]byte{},
		ttls:      map[string]time.Duration{},
	}
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	f.published[channel] = message.([]byte)
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(1)
	return cmd
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx)
	if f.failSet {
		cmd.SetErr(errors.New("READONLY"))
		return cmd
	}
	f.keys[key] = value.([]byte)
	f.ttls[key] = expiration
	cmd.SetVal("OK")
	return cmd
}

func TestPublisherMirrorsUpdate(t *testing.T) {
	client := newFakeRedis()
	p := NewPublisher(client, "arbradar", time.Minute, zerolog.Nop())

	update := engine.Update{
		Kind:       opportunity.KindDirect,
		Generation: 4,
		Items: []opportunity.Opportunity{opportunity.Direct{
			ID:        "direct-1",
			FromVenue: "binance",
			ToVenue:   "kraken",
			Pair:      market.Pair{Base: "BTC", Quote: "USDT"},
		}},
	}
	if err := p.Publish(context.Background(), update); err != nil {
		t.Fatalf("publish: %v", err)
	}

	payload, ok := client.published["arbradar:direct"]
	if !ok {
		t.Fatalf("expected a message on arbradar:direct, got %v", client.published)
	}
	if string(client.keys["arbradar:direct:latest"]) != string(payload) || client.ttls["arbradar:direct:latest"] != time.Minute {
		t.Fatalf("latest key should hold the same payload with the ttl")
	}

	var decoded struct {
		Generation uint64 `json:"generation"`
		Items      []struct {
			ID   string `json:"id"`
			Pair string `json:"pair"`
		} `json:"items"`
	}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded.Generation != 4 || len(decoded.Items) != 1 || decoded.Items[0].Pair != "BTC/USDT" {
		t.Fatalf("unexpected payload %s", payload)
	}
}

func TestPublisherReportsErrors(t *testing.T) {
	client := newFakeRedis()
	client.failSet = true
	p := NewPublisher(client, "", time.Minute, zerolog.Nop())
	if err := p.Publish(context.Background(), engine.Update{Kind: opportunity.KindFutures}); err == nil {
		t.Fatalf("expected set failure to surface")
	}
	if _, ok := client.published["arbradar:futures"]; !ok {
		t.Fatalf("default prefix should be used")
	}
}

func TestSourceDecode(t *testing.T) {
	s := NewSource(nil, "", "", zerolog.Nop())
	if s.Name() != "redis" {
		t.Fatalf("unexpected default name %q", s.Name())
	}

	events := s.decode("arbradar:ticks:bybit", `[{"pair":"BTCUSDT","price":38000},{"venue":"okx","pair":"ETH/USDT","price":2000},{"type":"heartbeat"}]`)
	if len(events) != 2 {
		t.Fatalf("expected two events, got %d", len(events))
	}
	if events[0].Venue != "bybit" || events[1].Venue != "okx" {
		t.Fatalf("venue should default to the channel suffix, got %q and %q", events[0].Venue, events[1].Venue)
	}

	if got := s.decode("arbradar:ticks:bybit", "not json"); got != nil {
		t.Fatalf("undecodable payloads should be dropped")
	}
}
