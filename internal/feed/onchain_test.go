package feed

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

type fakeChain struct {
	reserves map[common.Address][2]*big.Int
	time     uint64
}

func (f *fakeChain) CallContract(ctx context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	r, ok := f.reserves[*msg.To]
	if !ok {
		return nil, errors.New("execution reverted")
	}
	return uniswapV2PairABI.Methods["getReserves"].Outputs.Pack(r[0], r[1], uint32(f.time))
}

func (f *fakeChain) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return &types.Header{Number: big.NewInt(100), Time: f.time}, nil
}

func pow10(n int64) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(n), nil)
}

func TestOnchainPollPrices(t *testing.T) {
	usdcWeth := "0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc"
	missing := "0x0000000000000000000000000000000000000001"
	chain := &fakeChain{
		time: 1772366400,
		reserves: map[common.Address][2]*big.Int{
			// token0 USDC (6 decimals), token1 WETH (18 decimals)
			common.HexToAddress(usdcWeth): {new(big.Int).Mul(big.NewInt(20_000_000), pow10(6)), new(big.Int).Mul(big.NewInt(10_000), pow10(18))},
		},
	}

	src := NewOnchain(OnchainOptions{
		Venue: "uniswap",
		Pools: []Pool{
			{Address: usdcWeth, Symbol: "WETH/USDC", Token0Decimals: 6, Token1Decimals: 18, BaseIsToken1: true},
			{Address: missing, Symbol: "WBTC/USDC", Token0Decimals: 8, Token1Decimals: 6},
		},
	}, chain, noopLogger())

	events, err := src.Poll(context.Background())
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("failing pool should be skipped, got %d events", len(events))
	}
	if events[0].Price != 2000 {
		t.Fatalf("expected 2000 USDC per WETH, got %v", events[0].Price)
	}

	snap, err := newTestNormalizer().Normalize(events[0])
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if snap.Venue != "uniswap" || snap.LastUpdated.Unix() != 1772366400 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestOnchainMissingConfig(t *testing.T) {
	src := NewOnchain(OnchainOptions{}, nil, noopLogger())
	if _, err := src.Poll(context.Background()); err == nil {
		t.Fatal("missing rpc url should fail")
	}

	src = NewOnchain(OnchainOptions{RPCURL: "http://localhost"}, nil, noopLogger())
	if _, err := src.Poll(context.Background()); err == nil {
		t.Fatal("missing pools should fail")
	}
}
