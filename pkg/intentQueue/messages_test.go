package intentQueue

import (
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/Layr-Labs/txmgr-go/pkg/txManager"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_IntentMessage_ToIntent(t *testing.T) {
	to := "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"

	tests := []struct {
		name      string
		msg       IntentMessage
		wantValue *big.Int
		wantErr   bool
	}{
		{name: "wei by default", msg: IntentMessage{To: to, Value: "42"}, wantValue: big.NewInt(42)},
		{name: "gwei", msg: IntentMessage{To: to, Value: "1.5", ValueUnit: "gwei"}, wantValue: big.NewInt(1_500_000_000)},
		{name: "ether", msg: IntentMessage{To: to, Value: "0.25", ValueUnit: "ETHER"}, wantValue: big.NewInt(250_000_000_000_000_000)},
		{name: "no value", msg: IntentMessage{To: to, Data: "0x01"}},
		{name: "fractional wei", msg: IntentMessage{To: to, Value: "0.5"}, wantErr: true},
		{name: "negative", msg: IntentMessage{To: to, Value: "-1", ValueUnit: "gwei"}, wantErr: true},
		{name: "unknown unit", msg: IntentMessage{To: to, Value: "1", ValueUnit: "finney"}, wantErr: true},
		{name: "bad number", msg: IntentMessage{To: to, Value: "one"}, wantErr: true},
		{name: "bad recipient", msg: IntentMessage{To: "0x1234", Value: "1"}, wantErr: true},
		{name: "bad data", msg: IntentMessage{To: to, Data: "a9059cbb"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			intent, err := tt.msg.ToIntent()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidMessage)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, intent.To)
			assert.Equal(t, common.HexToAddress(to), *intent.To)
			if tt.wantValue == nil {
				assert.Nil(t, intent.Value)
			} else {
				assert.Equal(t, 0, tt.wantValue.Cmp(intent.Value), "got %s", intent.Value)
			}
		})
	}
}

func Test_DecodeIntentMessage(t *testing.T) {
	msg, err := DecodeIntentMessage([]byte(`{"id":"w-1","data":"0x6080","gas_limit":90000}`))
	require.NoError(t, err)

	intent, err := msg.ToIntent()
	require.NoError(t, err)
	assert.Nil(t, intent.To, "empty recipient is a contract creation")
	assert.Equal(t, []byte{0x60, 0x80}, intent.Data)
	assert.Equal(t, uint64(90000), intent.GasLimit)
	assert.Equal(t, "w-1", intent.IdempotencyKey)

	_, err = DecodeIntentMessage([]byte(`{not json`))
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

func Test_NewOutcomeMessage(t *testing.T) {
	hash := common.HexToHash("0xabc")
	receipt := &types.Receipt{TxHash: hash, Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(12)}

	out := NewOutcomeMessage("a", receipt, nil)
	assert.Equal(t, &OutcomeMessage{ID: "a", TxHash: hash.Hex(), Status: StatusConfirmed, Block: 12}, out)

	reverted := *receipt
	reverted.Status = types.ReceiptStatusFailed
	assert.Equal(t, StatusReverted, NewOutcomeMessage("a", &reverted, nil).Status)

	stuck := &txManager.TxManagerError{Kind: txManager.ErrTransactionStuck, TxHash: hash, Nonce: 3}
	out = NewOutcomeMessage("b", nil, stuck)
	assert.Equal(t, StatusStuck, out.Status)
	assert.Equal(t, hash.Hex(), out.TxHash)
	assert.NotEmpty(t, out.Error)

	assert.Equal(t, StatusCancelled, NewOutcomeMessage("c", nil, &txManager.TxManagerError{Kind: txManager.ErrReceiptWaitCancelled}).Status)
	assert.Equal(t, StatusInvalid, NewOutcomeMessage("d", nil, fmt.Errorf("%w: bad", ErrInvalidMessage)).Status)
	assert.Equal(t, StatusFailed, NewOutcomeMessage("e", nil, errors.New("boom")).Status)
}
