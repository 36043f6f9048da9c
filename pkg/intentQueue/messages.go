package intentQueue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Layr-Labs/txmgr-go/pkg/gasEstimator"
	"github.com/Layr-Labs/txmgr-go/pkg/txManager"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
)

// Value units accepted in IntentMessage.ValueUnit.
const (
	UnitWei   = "wei"
	UnitGwei  = "gwei"
	UnitEther = "ether"
)

var unitExponents = map[string]int32{
	"":        0,
	UnitWei:   0,
	UnitGwei:  9,
	UnitEther: 18,
}

// IntentMessage is the JSON payload of an intent on the queue.
type IntentMessage struct {
	// ID is the idempotency key. Defaults to the queue message ID.
	ID string `json:"id,omitempty"`
	// To is the recipient. Empty means contract creation.
	To string `json:"to,omitempty"`
	// Value is a decimal amount in ValueUnit, e.g. "0.5" with "ether".
	Value     string `json:"value,omitempty"`
	ValueUnit string `json:"value_unit,omitempty"`
	// Data is 0x-prefixed hex calldata.
	Data     string `json:"data,omitempty"`
	GasLimit uint64 `json:"gas_limit,omitempty"`
}

// DecodeIntentMessage parses a JSON payload.
func DecodeIntentMessage(payload []byte) (*IntentMessage, error) {
	var msg IntentMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	return &msg, nil
}

// ToIntent converts the message into a transaction intent keyed by its ID.
func (m *IntentMessage) ToIntent() (*gasEstimator.TransactionIntent, error) {
	intent := &gasEstimator.TransactionIntent{
		GasLimit:       m.GasLimit,
		IdempotencyKey: m.ID,
	}

	if m.To != "" {
		if !common.IsHexAddress(m.To) {
			return nil, fmt.Errorf("%w: invalid recipient %q", ErrInvalidMessage, m.To)
		}
		to := common.HexToAddress(m.To)
		intent.To = &to
	}

	if m.Data != "" {
		data, err := hexutil.Decode(m.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid data: %w", ErrInvalidMessage, err)
		}
		intent.Data = data
	}

	if m.Value != "" {
		exp, ok := unitExponents[strings.ToLower(m.ValueUnit)]
		if !ok {
			return nil, fmt.Errorf("%w: unknown value unit %q", ErrInvalidMessage, m.ValueUnit)
		}
		amount, err := decimal.NewFromString(m.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid value %q: %w", ErrInvalidMessage, m.Value, err)
		}
		wei := amount.Shift(exp)
		if wei.IsNegative() {
			return nil, fmt.Errorf("%w: negative value %s", ErrInvalidMessage, m.Value)
		}
		if !wei.IsInteger() {
			return nil, fmt.Errorf("%w: value %s %s is not a whole number of wei", ErrInvalidMessage, m.Value, m.ValueUnit)
		}
		intent.Value = wei.BigInt()
	}

	return intent, nil
}

// Outcome statuses published in OutcomeMessage.Status.
const (
	StatusConfirmed = "confirmed"
	StatusReverted  = "reverted"
	StatusStuck     = "stuck"
	StatusCancelled = "cancelled"
	StatusInvalid   = "invalid"
	StatusFailed    = "failed"
)

// OutcomeMessage reports what happened to one intent.
type OutcomeMessage struct {
	ID     string `json:"id"`
	TxHash string `json:"tx_hash,omitempty"`
	Status string `json:"status"`
	Block  uint64 `json:"block,omitempty"`
	Error  string `json:"error,omitempty"`
}

// NewOutcomeMessage describes the result of submitting the intent with the given ID.
func NewOutcomeMessage(id string, receipt *types.Receipt, err error) *OutcomeMessage {
	out := &OutcomeMessage{ID: id}
	if receipt != nil {
		out.TxHash = receipt.TxHash.Hex()
		if receipt.BlockNumber != nil {
			out.Block = receipt.BlockNumber.Uint64()
		}
		out.Status = StatusConfirmed
		if receipt.Status == types.ReceiptStatusFailed {
			out.Status = StatusReverted
		}
	}
	if err == nil {
		return out
	}

	out.Error = err.Error()
	var txErr *txManager.TxManagerError
	if errors.As(err, &txErr) && txErr.TxHash != (common.Hash{}) {
		out.TxHash = txErr.TxHash.Hex()
	}
	switch {
	case errors.Is(err, ErrInvalidMessage), errors.Is(err, txManager.ErrInvalidIntent):
		out.Status = StatusInvalid
	case errors.Is(err, txManager.ErrTransactionStuck):
		out.Status = StatusStuck
	case errors.Is(err, txManager.ErrReceiptWaitCancelled):
		out.Status = StatusCancelled
	default:
		out.Status = StatusFailed
	}
	return out
}

// Encode returns the JSON form of the outcome.
func (o *OutcomeMessage) Encode() ([]byte, error) {
	return json.Marshal(o)
}
