package chain

import (
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// RevertError is a contract revert surfaced by eth_call, gas estimation, or
// the validator. It is a denial by contract logic, not a transport failure,
// and the failure classifier treats it as business_rejected.
type RevertError struct {
	Reason string
	Data   []byte
	Err    error
}

func (e *RevertError) Error() string {
	if e.Reason == "" {
		return "execution reverted"
	}
	return "execution reverted: " + e.Reason
}

// Revert returns the decoded revert reason. Guardrails detect reverts
// through this method without importing the chain package.
func (e *RevertError) Revert() string { return e.Reason }

func (e *RevertError) Unwrap() error { return e.Err }

// asRevert extracts a RevertError from an RPC error, or returns nil when
// the error is not a revert. Geth-style nodes attach ABI-encoded revert
// data via rpc.DataError; others only put the reason in the message.
func asRevert(err error) *RevertError {
	if err == nil {
		return nil
	}

	var de rpc.DataError
	if errors.As(err, &de) {
		if hexData, ok := de.ErrorData().(string); ok && hexData != "" {
			data, decodeErr := hexutil.Decode(hexData)
			if decodeErr == nil && len(data) > 0 {
				reason, unpackErr := abi.UnpackRevert(data)
				if unpackErr != nil {
					// Custom error selector we can't decode.
					reason = hexutil.Encode(data)
				}
				return &RevertError{Reason: reason, Data: data, Err: err}
			}
		}
	}

	msg := err.Error()
	if !strings.Contains(msg, "execution reverted") {
		return nil
	}
	reason := ""
	if i := strings.Index(msg, "execution reverted:"); i >= 0 {
		reason = strings.TrimSpace(msg[i+len("execution reverted:"):])
	}
	return &RevertError{Reason: reason, Err: err}
}
