package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/nfa-labs/autopilot/pkg/models"
)

// DefaultGasCap bounds the gas limit when estimation fails or returns
// something absurd. Roughly ten simple swaps.
const DefaultGasCap = 1_500_000

// Signer holds the operator key and serializes outbound transactions.
// Nonce tracking is local: fetched once, incremented per send, and
// re-synced from the node after any send failure.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
	gasCap  uint64

	mu         sync.Mutex
	nonce      uint64
	nonceKnown bool
}

// NewSigner parses a hex-encoded secp256k1 private key. The leading 0x is
// optional.
func NewSigner(hexKey string, chainID int64, gasCap uint64) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parsing operator key: %w", err)
	}
	if gasCap == 0 {
		gasCap = DefaultGasCap
	}
	return &Signer{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		chainID: big.NewInt(chainID),
		gasCap:  gasCap,
	}, nil
}

// Address returns the operator wallet address.
func (s *Signer) Address() common.Address { return s.address }

// SignAndSend builds, signs (EIP-155), and broadcasts the payload. At most
// one transaction is in flight at a time: the mutex keeps the local nonce
// consistent under concurrent cycles.
func (s *Signer) SignAndSend(ctx context.Context, backend Backend, payload *models.TxPayload) (common.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.nonceKnown {
		nonce, err := backend.PendingNonceAt(ctx, s.address)
		if err != nil {
			return common.Hash{}, fmt.Errorf("reading operator nonce: %w", err)
		}
		s.nonce = nonce
		s.nonceKnown = true
	}

	gasPrice, err := backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("suggesting gas price: %w", err)
	}

	value := payload.Value
	if value == nil {
		value = new(big.Int)
	}

	gasLimit := payload.GasLimit
	if gasLimit == 0 {
		msg := ethereum.CallMsg{
			From:     s.address,
			To:       &payload.To,
			Value:    value,
			Data:     payload.Data,
			GasPrice: gasPrice,
		}
		estimated, err := backend.EstimateGas(ctx, msg)
		if err != nil {
			if rev := asRevert(err); rev != nil {
				return common.Hash{}, rev
			}
			slog.Warn("Gas estimation failed, falling back to cap",
				"to", payload.To.Hex(),
				"cap", s.gasCap,
				"error", err)
			estimated = s.gasCap
		} else {
			// 20% headroom over the estimate.
			estimated += estimated / 5
		}
		gasLimit = min(estimated, s.gasCap)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    s.nonce,
		To:       &payload.To,
		Value:    value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     payload.Data,
	})
	signed, err := types.SignTx(tx, types.NewEIP155Signer(s.chainID), s.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("signing transaction: %w", err)
	}

	if err := backend.SendTransaction(ctx, signed); err != nil {
		// The nonce may or may not have been consumed; re-sync before the
		// next send rather than guessing.
		s.nonceKnown = false
		if rev := asRevert(err); rev != nil {
			return common.Hash{}, rev
		}
		return common.Hash{}, fmt.Errorf("sending transaction: %w", err)
	}
	s.nonce++
	return signed.Hash(), nil
}
