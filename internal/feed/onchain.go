package feed

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	uniswapV2PairABIJSON = `[{"constant":true,"inputs":[],"name":"getReserves","outputs":[{"internalType":"uint112","name":"_reserve0","type":"uint112"},{"internalType":"uint112","name":"_reserve1","type":"uint112"},{"internalType":"uint32","name":"_blockTimestampLast","type":"uint32"}],"payable":false,"stateMutability":"view","type":"function"}]`
)

var (
	uniswapV2PairABI abi.ABI
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(uniswapV2PairABIJSON))
	if err != nil {
		panic("failed to parse Uniswap V2 pair ABI: " + err.Error())
	}
	uniswapV2PairABI = parsed
}

// ChainReader is the subset of ethclient.Client the pool poller needs.
type ChainReader interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// Pool describes a constant-product pool quoted as a spot market.
type Pool struct {
	Address        string `mapstructure:"address"`
	Symbol         string `mapstructure:"symbol"`
	Token0Decimals int32  `mapstructure:"token0_decimals"`
	Token1Decimals int32  `mapstructure:"token1_decimals"`
	// BaseIsToken1 flips the quote direction when the pool orders the pair quote-first.
	BaseIsToken1 bool `mapstructure:"base_is_token1"`
}

// OnchainOptions parameterise the pool poller.
type OnchainOptions struct {
	Name     string
	Venue    string
	RPCURL   string
	Pools    []Pool
	Interval time.Duration
	Timeout  time.Duration
}

// Onchain polls pool reserves over Ethereum RPC and reports the implied mid price.
type Onchain struct {
	opts      OnchainOptions
	logger    zerolog.Logger
	client    ChainReader
	clientMux sync.Mutex
}

// NewOnchain builds a pool poller. client may be nil, in which case it is dialled lazily.
func NewOnchain(opts OnchainOptions, client ChainReader, logger zerolog.Logger) *Onchain {
	if opts.Name == "" {
		opts.Name = opts.Venue
	}
	if opts.Interval <= 0 {
		opts.Interval = 12 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Onchain{
		opts:   opts,
		client: client,
		logger: logger.With().Str("component", "onchain_source").Str("venue", opts.Venue).Logger(),
	}
}

// Name identifies the source.
func (o *Onchain) Name() string {
	return o.opts.Name
}

// Run polls every interval until ctx is cancelled.
func (o *Onchain) Run(ctx context.Context, out chan<- Event) error {
	ticker := time.NewTicker(o.opts.Interval)
	defer ticker.Stop()

	for {
		events, err := o.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			o.logger.Warn().Err(err).Msg("pool poll failed")
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

// Poll reads every configured pool once. A failing pool is skipped.
func (o *Onchain) Poll(ctx context.Context) ([]Event, error) {
	if o.opts.RPCURL == "" && o.client == nil {
		return nil, errors.New("ethereum rpc url not configured")
	}
	if len(o.opts.Pools) == 0 {
		return nil, errors.New("no pools configured")
	}

	ctx, cancel := context.WithTimeout(ctx, o.opts.Timeout)
	defer cancel()

	client, err := o.getClient(ctx)
	if err != nil {
		return nil, err
	}

	header, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("latest header: %w", err)
	}
	blockTime := strconv.FormatUint(header.Time, 10)

	events := make([]Event, 0, len(o.opts.Pools))
	for _, pool := range o.opts.Pools {
		price, err := o.poolPrice(ctx, client, pool, header.Number)
		if err != nil {
			o.logger.Warn().Err(err).Str("pool", pool.Address).Msg("skipping pool")
			continue
		}
		events = append(events, Event{
			Venue:     o.opts.Venue,
			Symbol:    pool.Symbol,
			Price:     price.InexactFloat64(),
			Timestamp: RawTimestamp(blockTime),
		})
	}
	return events, nil
}

func (o *Onchain) poolPrice(ctx context.Context, client ChainReader, pool Pool, block *big.Int) (decimal.Decimal, error) {
	if pool.Address == "" {
		return decimal.Decimal{}, errors.New("pool address not configured")
	}
	addr := common.HexToAddress(pool.Address)

	payload, err := uniswapV2PairABI.Pack("getReserves")
	if err != nil {
		return decimal.Decimal{}, err
	}
	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, block)
	if err != nil {
		return decimal.Decimal{}, err
	}
	outputs, err := uniswapV2PairABI.Unpack("getReserves", res)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if len(outputs) != 3 {
		return decimal.Decimal{}, errors.New("unexpected getReserves response")
	}
	r0, ok0 := outputs[0].(*big.Int)
	r1, ok1 := outputs[1].(*big.Int)
	if !ok0 || !ok1 {
		return decimal.Decimal{}, errors.New("failed to decode getReserves output")
	}

	reserve0 := decimal.NewFromBigInt(r0, -pool.Token0Decimals)
	reserve1 := decimal.NewFromBigInt(r1, -pool.Token1Decimals)
	if reserve0.IsZero() || reserve1.IsZero() {
		return decimal.Decimal{}, errors.New("empty pool reserves")
	}
	if pool.BaseIsToken1 {
		return reserve0.Div(reserve1), nil
	}
	return reserve1.Div(reserve0), nil
}

func (o *Onchain) getClient(ctx context.Context) (ChainReader, error) {
	o.clientMux.Lock()
	defer o.clientMux.Unlock()

	if o.client != nil {
		return o.client, nil
	}

	client, err := ethclient.DialContext(ctx, o.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	o.client = client
	return client, nil
}

var _ Source = (*Onchain)(nil)
