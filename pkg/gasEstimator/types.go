package gasEstimator

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// TransactionIntent is an unsigned description of a desired on-chain action.
// A nil To means contract creation. A zero GasLimit means the limit is estimated.
type TransactionIntent struct {
	To       *common.Address
	Value    *big.Int
	Data     []byte
	GasLimit uint64

	// IdempotencyKey deduplicates repeated submissions of the same intent. Optional.
	IdempotencyKey string
}

// Fees holds either a legacy GasPrice or the EIP-1559 GasFeeCap/GasTipCap pair.
type Fees struct {
	GasPrice  *big.Int
	GasFeeCap *big.Int
	GasTipCap *big.Int
}

// IsDynamic reports whether the fees describe an EIP-1559 transaction.
func (f *Fees) IsDynamic() bool {
	return f.GasFeeCap != nil
}

// Copy returns a deep copy of f.
func (f *Fees) Copy() *Fees {
	return &Fees{
		GasPrice:  copyBig(f.GasPrice),
		GasFeeCap: copyBig(f.GasFeeCap),
		GasTipCap: copyBig(f.GasTipCap),
	}
}

// PreparedTransaction is an intent with nonce, gas limit, fees and chain ID assigned.
type PreparedTransaction struct {
	Intent   *TransactionIntent
	Sender   common.Address
	Nonce    uint64
	GasLimit uint64
	ChainID  *big.Int
	Fees     *Fees
}

// ToTransaction builds the unsigned transaction. Dynamic fees produce a DynamicFeeTx,
// otherwise a LegacyTx.
func (p *PreparedTransaction) ToTransaction() *types.Transaction {
	value := new(big.Int)
	if p.Intent.Value != nil {
		value.Set(p.Intent.Value)
	}
	data := common.CopyBytes(p.Intent.Data)

	if p.Fees.IsDynamic() {
		return types.NewTx(&types.DynamicFeeTx{
			ChainID:   copyBig(p.ChainID),
			Nonce:     p.Nonce,
			GasTipCap: copyBig(p.Fees.GasTipCap),
			GasFeeCap: copyBig(p.Fees.GasFeeCap),
			Gas:       p.GasLimit,
			To:        p.Intent.To,
			Value:     value,
			Data:      data,
		})
	}
	return types.NewTx(&types.LegacyTx{
		Nonce:    p.Nonce,
		GasPrice: copyBig(p.Fees.GasPrice),
		Gas:      p.GasLimit,
		To:       p.Intent.To,
		Value:    value,
		Data:     data,
	})
}

// WithFees returns a copy of p carrying different fees. Nonce, gas limit and payload are kept.
func (p *PreparedTransaction) WithFees(fees *Fees) *PreparedTransaction {
	cp := *p
	cp.Fees = fees.Copy()
	return &cp
}

func copyBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
