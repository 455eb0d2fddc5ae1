package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/nfa-labs/autopilot/pkg/models"
)

// Config carries everything needed to talk to one chain. Validator and
// OperatorKey are optional: without a validator the hard policy layer is a
// no-op, without a key the client is read-only.
type Config struct {
	RPCURL         string
	ChainID        int64
	Registry       common.Address
	Validator      common.Address
	OperatorKey    string
	RPCTimeout     time.Duration
	ReceiptTimeout time.Duration
	GasCap         uint64
}

// Client implements Chain over a JSON-RPC backend.
type Client struct {
	backend        Backend
	chainID        int64
	registry       common.Address
	validator      common.Address
	signer         *Signer
	rpcTimeout     time.Duration
	receiptTimeout time.Duration
	receiptPoll    time.Duration
}

var _ Chain = (*Client)(nil)

// Dial connects to the configured RPC endpoint and verifies the node is
// serving the chain id we expect.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, errors.New("chain rpc url is required")
	}
	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dialing chain rpc: %w", err)
	}
	reported, err := eth.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading chain id: %w", err)
	}
	if reported.Int64() != cfg.ChainID {
		return nil, fmt.Errorf("chain id mismatch: rpc reports %s, configured %d", reported, cfg.ChainID)
	}
	return NewClient(eth, cfg)
}

// NewClient wraps an existing backend. Dial uses it after connecting; tests
// pass a fake backend directly.
func NewClient(backend Backend, cfg Config) (*Client, error) {
	if cfg.ChainID == 0 {
		return nil, errors.New("chain id is required")
	}
	if cfg.Registry == (common.Address{}) {
		return nil, errors.New("registry address is required")
	}
	c := &Client{
		backend:        backend,
		chainID:        cfg.ChainID,
		registry:       cfg.Registry,
		validator:      cfg.Validator,
		rpcTimeout:     cfg.RPCTimeout,
		receiptTimeout: cfg.ReceiptTimeout,
		receiptPoll:    2 * time.Second,
	}
	if c.rpcTimeout <= 0 {
		c.rpcTimeout = 10 * time.Second
	}
	if c.receiptTimeout <= 0 {
		c.receiptTimeout = 90 * time.Second
	}
	if cfg.OperatorKey != "" {
		signer, err := NewSigner(cfg.OperatorKey, cfg.ChainID, cfg.GasCap)
		if err != nil {
			return nil, err
		}
		c.signer = signer
	}
	return c, nil
}

func (c *Client) ChainID() int64 { return c.chainID }

func (c *Client) Operator() common.Address {
	if c.signer == nil {
		return common.Address{}
	}
	return c.signer.Address()
}

// call packs, executes, and unpacks one contract view call.
func (c *Client) call(ctx context.Context, to common.Address, contract abi.ABI, method string, args ...any) ([]any, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("packing %s: %w", method, err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.rpcTimeout)
	defer cancel()
	raw, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		if rev := asRevert(err); rev != nil {
			return nil, rev
		}
		return nil, fmt.Errorf("calling %s: %w", method, err)
	}
	out, err := contract.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("decoding %s result: %w", method, err)
	}
	return out, nil
}

func (c *Client) AgentData(ctx context.Context, tokenID int64) (*models.ChainAgentData, error) {
	out, err := c.call(ctx, c.registry, registryABI, "getAgentData", big.NewInt(tokenID))
	if err != nil {
		return nil, fmt.Errorf("reading agent %d: %w", tokenID, err)
	}
	data := &models.ChainAgentData{
		TokenID:   tokenID,
		AgentType: out[0].(string),
		Owner:     out[1].(common.Address),
		Renter:    out[2].(common.Address),
		Vault:     out[3].(common.Address),
	}
	if raw := out[4].(string); raw != "" {
		if err := json.Unmarshal([]byte(raw), &data.StrategyParams); err != nil {
			return nil, fmt.Errorf("parsing strategy params for agent %d: %w", tokenID, err)
		}
	}
	return data, nil
}

func (c *Client) Paused(ctx context.Context, tokenID int64) (bool, error) {
	out, err := c.call(ctx, c.registry, registryABI, "isPaused", big.NewInt(tokenID))
	if err != nil {
		return false, fmt.Errorf("reading paused flag for agent %d: %w", tokenID, err)
	}
	return out[0].(bool), nil
}

func (c *Client) NativeBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.rpcTimeout)
	defer cancel()
	balance, err := c.backend.BalanceAt(ctx, account, nil)
	if err != nil {
		return nil, fmt.Errorf("reading native balance of %s: %w", account.Hex(), err)
	}
	return balance, nil
}

func (c *Client) TokenBalance(ctx context.Context, token, account common.Address) (*big.Int, error) {
	out, err := c.call(ctx, token, erc20ABI, "balanceOf", account)
	if err != nil {
		return nil, fmt.Errorf("reading balance of %s on %s: %w", account.Hex(), token.Hex(), err)
	}
	return out[0].(*big.Int), nil
}

func (c *Client) TokenMetadata(ctx context.Context, token common.Address) (string, uint8, error) {
	symOut, err := c.call(ctx, token, erc20ABI, "symbol")
	if err != nil {
		return "", 0, fmt.Errorf("reading symbol of %s: %w", token.Hex(), err)
	}
	decOut, err := c.call(ctx, token, erc20ABI, "decimals")
	if err != nil {
		return "", 0, fmt.Errorf("reading decimals of %s: %w", token.Hex(), err)
	}
	return symOut[0].(string), decOut[0].(uint8), nil
}

func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.rpcTimeout)
	defer cancel()
	price, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading gas price: %w", err)
	}
	return price, nil
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.rpcTimeout)
	defer cancel()
	block, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading block number: %w", err)
	}
	return block, nil
}

func (c *Client) Simulate(ctx context.Context, payload *models.TxPayload) error {
	msg := ethereum.CallMsg{
		To:    &payload.To,
		Value: payload.Value,
		Data:  payload.Data,
		Gas:   payload.GasLimit,
	}
	if c.signer != nil {
		msg.From = c.signer.Address()
	}
	ctx, cancel := context.WithTimeout(ctx, c.rpcTimeout)
	defer cancel()
	if _, err := c.backend.CallContract(ctx, msg, nil); err != nil {
		if rev := asRevert(err); rev != nil {
			return rev
		}
		return fmt.Errorf("simulating transaction: %w", err)
	}
	return nil
}

func (c *Client) Submit(ctx context.Context, payload *models.TxPayload) (common.Hash, error) {
	if c.signer == nil {
		return common.Hash{}, errors.New("operator key not configured")
	}
	return c.signer.SignAndSend(ctx, c.backend, payload)
}

func (c *Client) WaitReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.receiptTimeout)
	defer cancel()
	ticker := time.NewTicker(c.receiptPoll)
	defer ticker.Stop()
	for {
		receipt, err := c.backend.TransactionReceipt(ctx, txHash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("fetching receipt for %s: %w", txHash.Hex(), err)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for receipt of %s: %w", txHash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *Client) ValidateAction(ctx context.Context, ec *models.ExecutionContext) (bool, string, error) {
	if c.validator == (common.Address{}) {
		return true, "", nil
	}
	out, err := c.call(ctx, c.validator, validatorABI, "validateAction",
		big.NewInt(ec.TokenID), ec.Vault, ec.Target,
		bigOrZero(ec.Value), bigOrZero(ec.SpendAmount), ec.Data)
	if err != nil {
		// May be a *RevertError; the hard policy layer tells them apart.
		return false, "", err
	}
	return out[0].(bool), out[1].(string), nil
}

func (c *Client) EnableWithPermit(ctx context.Context, permit *models.EnablePermit, sig []byte) (common.Hash, error) {
	if c.signer == nil {
		return common.Hash{}, errors.New("operator key not configured")
	}
	data, err := registryABI.Pack("enableWithPermit", permitArg{
		TokenId:  big.NewInt(permit.TokenID),
		Renter:   permit.Renter,
		Operator: permit.Operator,
		Expires:  big.NewInt(permit.Expires),
		Nonce:    new(big.Int).SetUint64(permit.Nonce),
		Deadline: big.NewInt(permit.Deadline),
	}, sig)
	if err != nil {
		return common.Hash{}, fmt.Errorf("packing enableWithPermit: %w", err)
	}
	return c.signer.SignAndSend(ctx, c.backend, &models.TxPayload{To: c.registry, Data: data})
}

func (c *Client) Disable(ctx context.Context, tokenID int64) (common.Hash, error) {
	if c.signer == nil {
		return common.Hash{}, errors.New("operator key not configured")
	}
	data, err := registryABI.Pack("disableAgent", big.NewInt(tokenID))
	if err != nil {
		return common.Hash{}, fmt.Errorf("packing disableAgent: %w", err)
	}
	return c.signer.SignAndSend(ctx, c.backend, &models.TxPayload{To: c.registry, Data: data})
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
