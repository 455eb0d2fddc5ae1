package chain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dataErr mimics the rpc.DataError a geth node returns for reverted calls.
type dataErr struct {
	msg  string
	data any
}

func (e *dataErr) Error() string  { return e.msg }
func (e *dataErr) ErrorData() any { return e.data }

// revertData ABI-encodes a solidity Error(string) revert payload.
func revertData(t *testing.T, reason string) []byte {
	t.Helper()
	strType, err := abi.NewType("string", "", nil)
	require.NoError(t, err)
	packed, err := abi.Arguments{{Type: strType}}.Pack(reason)
	require.NoError(t, err)
	return append([]byte{0x08, 0xc3, 0x79, 0xa0}, packed...)
}

func TestAsRevert_NilAndPlainErrors(t *testing.T) {
	assert.Nil(t, asRevert(nil))
	assert.Nil(t, asRevert(errors.New("connection refused")))
}

func TestAsRevert_MessageOnly(t *testing.T) {
	rev := asRevert(errors.New("execution reverted: insufficient output amount"))
	require.NotNil(t, rev)
	assert.Equal(t, "insufficient output amount", rev.Revert())

	rev = asRevert(errors.New("execution reverted"))
	require.NotNil(t, rev)
	assert.Equal(t, "", rev.Revert())
	assert.Equal(t, "execution reverted", rev.Error())
}

func TestAsRevert_DecodesErrorString(t *testing.T) {
	data := revertData(t, "vault paused")
	err := &dataErr{msg: "execution reverted", data: hexutil.Encode(data)}

	rev := asRevert(err)
	require.NotNil(t, rev)
	assert.Equal(t, "vault paused", rev.Revert())
	assert.Equal(t, data, rev.Data)
}

func TestAsRevert_CustomErrorKeepsRawData(t *testing.T) {
	// Unknown 4-byte selector: the reason falls back to the raw hex.
	data := []byte{0xde, 0xad, 0xbe, 0xef}
	err := &dataErr{msg: "execution reverted", data: hexutil.Encode(data)}

	rev := asRevert(err)
	require.NotNil(t, rev)
	assert.Equal(t, hexutil.Encode(data), rev.Revert())
}

func TestAsRevert_SeesThroughWrapping(t *testing.T) {
	inner := &dataErr{msg: "execution reverted", data: hexutil.Encode(revertData(t, "not allowed"))}
	wrapped := fmt.Errorf("calling validateAction: %w", inner)

	rev := asRevert(wrapped)
	require.NotNil(t, rev)
	assert.Equal(t, "not allowed", rev.Revert())
}

func TestRevertError_MatchesGuardrailInterface(t *testing.T) {
	var err error = fmt.Errorf("simulate: %w", &RevertError{Reason: "slippage"})

	var rev interface{ Revert() string }
	require.True(t, errors.As(err, &rev))
	assert.Equal(t, "slippage", rev.Revert())
}
