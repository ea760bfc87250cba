package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/modelgate/backend/internal/metrics"
	"github.com/modelgate/backend/internal/retry"
	"go.uber.org/zap"
)

type Options struct {
	RPCURL      string
	Contract    Address
	PriceMethod string
	Timeout     time.Duration
	Retry       retry.Policy
}

// Client reads transactions, receipts, the chain head and the contract's
// required price from a single EVM node.
type Client struct {
	eth         *ethclient.Client
	contract    Address
	priceABI    abi.ABI
	priceMethod string
	timeout     time.Duration
	retry       retry.Policy
	rec         metrics.Recorder
	log         *zap.Logger
}

func Dial(ctx context.Context, opts Options, rec metrics.Recorder, log *zap.Logger) (*Client, error) {
	if opts.RPCURL == "" {
		return nil, errors.New("evm: rpc url is required")
	}
	if opts.PriceMethod == "" {
		opts.PriceMethod = "price"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}

	parsed, err := priceABI(opts.PriceMethod)
	if err != nil {
		return nil, err
	}

	eth, err := ethclient.DialContext(ctx, opts.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("evm: dial %s: %w", opts.RPCURL, err)
	}

	return &Client{
		eth:         eth,
		contract:    opts.Contract,
		priceABI:    parsed,
		priceMethod: opts.PriceMethod,
		timeout:     opts.Timeout,
		retry:       opts.Retry,
		rec:         rec,
		log:         log,
	}, nil
}

func priceABI(method string) (abi.ABI, error) {
	def := fmt.Sprintf(`[{"type":"function","name":%q,"stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]}]`, method)
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("evm: price abi: %w", err)
	}
	return parsed, nil
}

func (c *Client) Close() {
	c.eth.Close()
}

func (c *Client) GetTransaction(ctx context.Context, hash string) (*Transaction, error) {
	h, err := ParseTxHash(hash)
	if err != nil {
		return nil, err
	}

	var tx *types.Transaction
	err = c.call(ctx, "eth_getTransactionByHash", func(ctx context.Context) error {
		var err error
		tx, _, err = c.eth.TransactionByHash(ctx, common.HexToHash(h))
		return err
	})
	if err != nil {
		return nil, err
	}

	from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
	if err != nil {
		return nil, fmt.Errorf("evm: recover sender of %s: %w", h, err)
	}

	out := &Transaction{
		Hash:  h,
		From:  FromCommon(from),
		Value: new(big.Int).Set(tx.Value()),
	}
	if to := tx.To(); to != nil {
		addr := FromCommon(*to)
		out.To = &addr
	}
	return out, nil
}

func (c *Client) GetReceipt(ctx context.Context, hash string) (*Receipt, error) {
	h, err := ParseTxHash(hash)
	if err != nil {
		return nil, err
	}

	var rcpt *types.Receipt
	err = c.call(ctx, "eth_getTransactionReceipt", func(ctx context.Context) error {
		var err error
		rcpt, err = c.eth.TransactionReceipt(ctx, common.HexToHash(h))
		return err
	})
	if err != nil {
		return nil, err
	}

	out := &Receipt{Success: rcpt.Status == types.ReceiptStatusSuccessful}
	if rcpt.BlockNumber != nil {
		out.BlockNumber = rcpt.BlockNumber.Uint64()
	}
	return out, nil
}

func (c *Client) CurrentBlockNumber(ctx context.Context) (uint64, error) {
	var n uint64
	err := c.call(ctx, "eth_blockNumber", func(ctx context.Context) error {
		var err error
		n, err = c.eth.BlockNumber(ctx)
		return err
	})
	return n, err
}

// RequiredPrice calls the contract's price view method. The value is read
// live on every call.
func (c *Client) RequiredPrice(ctx context.Context) (*big.Int, error) {
	data, err := c.priceABI.Pack(c.priceMethod)
	if err != nil {
		return nil, fmt.Errorf("evm: pack %s: %w", c.priceMethod, err)
	}
	to := c.contract.Common()

	var raw []byte
	err = c.call(ctx, "eth_call", func(ctx context.Context) error {
		var err error
		raw, err = c.eth.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	vals, err := c.priceABI.Unpack(c.priceMethod, raw)
	if err != nil || len(vals) != 1 {
		return nil, fmt.Errorf("%w: decode %s result: %v", ErrUnavailable, c.priceMethod, err)
	}
	price, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: %s returned %T", ErrUnavailable, c.priceMethod, vals[0])
	}
	return price, nil
}

// call runs op under the retry policy with a per-attempt timeout. A missing
// transaction or receipt is returned as ErrNotFound without retrying; any
// other failure becomes ErrUnavailable once the attempts are used up.
func (c *Client) call(ctx context.Context, method string, op func(ctx context.Context) error) error {
	start := time.Now()
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		err := op(attemptCtx)
		if errors.Is(err, ethereum.NotFound) {
			return retry.Permanent(ErrNotFound)
		}
		if err != nil {
			c.log.Debug("rpc attempt failed", zap.String("method", method), zap.Error(err))
		}
		return err
	})
	c.rec.ObserveLatency(metrics.ChainRPC, time.Since(start), map[string]string{"method": method})

	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	c.log.Warn("rpc call unavailable", zap.String("method", method), zap.Error(err))
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, method, err)
}
