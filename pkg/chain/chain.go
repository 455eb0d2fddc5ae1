// Package chain is the single gateway to the EVM chain: agent registry
// reads, vault balances, pre-flight simulation, the hard-policy validator
// call, and operator transaction submission.
package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/nfa-labs/autopilot/pkg/models"
)

// Chain is the full on-chain surface the runner depends on. Everything the
// cycle, perception, and control plane need from the chain goes through
// here so tests can swap in a fake.
type Chain interface {
	// ChainID returns the EVM chain id this client is bound to.
	ChainID() int64

	// Operator returns the operator wallet address, or the zero address
	// when no signing key is configured.
	Operator() common.Address

	// AgentData reads an agent's identity from the NFA registry.
	AgentData(ctx context.Context, tokenID int64) (*models.ChainAgentData, error)

	// Paused reports whether the agent is paused on-chain.
	Paused(ctx context.Context, tokenID int64) (bool, error)

	NativeBalance(ctx context.Context, account common.Address) (*big.Int, error)
	TokenBalance(ctx context.Context, token, account common.Address) (*big.Int, error)
	TokenMetadata(ctx context.Context, token common.Address) (symbol string, decimals uint8, err error)
	GasPrice(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)

	// Simulate dry-runs the payload as an eth_call from the operator.
	// A contract revert comes back as a *RevertError.
	Simulate(ctx context.Context, payload *models.TxPayload) error

	// Submit signs the payload with the operator key and broadcasts it.
	Submit(ctx context.Context, payload *models.TxPayload) (common.Hash, error)

	// WaitReceipt polls until the transaction is mined or ctx expires.
	WaitReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)

	// ValidateAction asks the on-chain validator to judge the action. When
	// no validator address is configured it returns (true, "", nil): the
	// hard layer is a no-op. A validator revert comes back as a
	// *RevertError so callers can distinguish denial from transport
	// failure.
	ValidateAction(ctx context.Context, ec *models.ExecutionContext) (ok bool, reason string, err error)

	// EnableWithPermit submits the renter's signed permit to the registry,
	// handing the agent to the operator.
	EnableWithPermit(ctx context.Context, permit *models.EnablePermit, sig []byte) (common.Hash, error)

	// Disable revokes the operator's control of the agent on-chain.
	Disable(ctx context.Context, tokenID int64) (common.Hash, error)
}

// Backend is the subset of ethclient.Client the chain service uses.
// Narrowed to an interface so unit tests can run without an RPC node.
type Backend interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}
