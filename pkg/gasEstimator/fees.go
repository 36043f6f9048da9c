package gasEstimator

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// ErrFeeCeilingReached is returned by BumpFees when the configured maximum fee prevents
// the replacement from paying strictly more than the transaction it replaces.
var ErrFeeCeilingReached = errors.New("gasEstimator: fee ceiling reached")

// MinFeeBumpPercent is the smallest bump go-ethereum's txpool accepts for a replacement.
const MinFeeBumpPercent = 10

// applyMultiplier returns ceil(v * m), never less than v.
func applyMultiplier(v *big.Int, m float64) *big.Int {
	if v == nil {
		return nil
	}
	scaled := decimal.NewFromBigInt(v, 0).Mul(decimal.NewFromFloat(m)).Ceil().BigInt()
	if scaled.Cmp(v) < 0 {
		return new(big.Int).Set(v)
	}
	return scaled
}

// ApplyGasBuffer returns ceil(gas * m), never less than gas.
func ApplyGasBuffer(gas uint64, m float64) uint64 {
	buffered := applyMultiplier(new(big.Int).SetUint64(gas), m)
	if !buffered.IsUint64() {
		return gas
	}
	return buffered.Uint64()
}

// bumpByPercent returns ceil(v * (100+percent) / 100), and at least v+1.
func bumpByPercent(v *big.Int, percent uint64) *big.Int {
	out := new(big.Int).Mul(v, new(big.Int).SetUint64(100+percent))
	out.Add(out, big.NewInt(99))
	out.Div(out, big.NewInt(100))
	if out.Cmp(v) <= 0 {
		out = new(big.Int).Add(v, big.NewInt(1))
	}
	return out
}

func maxBig(a, b *big.Int) *big.Int {
	if b == nil || (a != nil && a.Cmp(b) >= 0) {
		return a
	}
	return b
}

func minBig(a, b *big.Int) *big.Int {
	if b == nil || (a != nil && a.Cmp(b) <= 0) {
		return a
	}
	return b
}

// BumpFees computes the fees for a same-nonce replacement of a transaction that paid prev.
//
// Each fee component is raised by percent (at least MinFeeBumpPercent), then raised further to the
// fresh network suggestion if that is higher, then clamped to maxFeePerGas when set. The fee
// model of prev is kept; a nil fresh only skips the suggestion step.
//
// Returns ErrFeeCeilingReached if the clamp leaves any component not strictly above prev.
func BumpFees(prev, fresh *Fees, percent uint64, maxFeePerGas *big.Int) (*Fees, error) {
	if percent < MinFeeBumpPercent {
		percent = MinFeeBumpPercent
	}
	if fresh == nil {
		fresh = &Fees{}
	}

	if prev.IsDynamic() {
		feeCap := maxBig(bumpByPercent(prev.GasFeeCap, percent), fresh.GasFeeCap)
		tip := maxBig(bumpByPercent(prev.GasTipCap, percent), fresh.GasTipCap)
		feeCap = minBig(feeCap, maxFeePerGas)
		tip = minBig(tip, feeCap)
		if feeCap.Cmp(prev.GasFeeCap) <= 0 || tip.Cmp(prev.GasTipCap) <= 0 {
			return nil, fmt.Errorf("%w: fee cap %s tip %s cannot exceed %s/%s", ErrFeeCeilingReached,
				feeCap, tip, prev.GasFeeCap, prev.GasTipCap)
		}
		return &Fees{GasFeeCap: feeCap, GasTipCap: tip}, nil
	}

	// a legacy price and a fresh dynamic suggestion are compared by fee cap
	suggested := fresh.GasPrice
	if suggested == nil {
		suggested = fresh.GasFeeCap
	}
	price := maxBig(bumpByPercent(prev.GasPrice, percent), suggested)
	price = minBig(price, maxFeePerGas)
	if price.Cmp(prev.GasPrice) <= 0 {
		return nil, fmt.Errorf("%w: gas price %s cannot exceed %s", ErrFeeCeilingReached, price, prev.GasPrice)
	}
	return &Fees{GasPrice: price}, nil
}
