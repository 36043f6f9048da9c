package txManager

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// fakeNode is an in-memory node for a single sender. Transactions are mined in nonce order as soon
// as they are sent, unless withhold says otherwise. Same-nonce replacements must raise fees by 10%.
type fakeNode struct {
	mu sync.Mutex

	chainID  *big.Int
	baseFee  *big.Int
	tip      *big.Int
	gasPrice *big.Int

	estimate      uint64
	estimateErr   error
	estimateCalls int

	// onChainNonce is the next nonce to be mined.
	onChainNonce uint64
	pool         map[uint64]*types.Transaction
	receipts     map[common.Hash]*types.Receipt
	sent         []*types.Transaction
	block        uint64

	withhold     func(tx *types.Transaction, sendIndex int) bool
	sendErr      func(tx *types.Transaction, sendIndex int) error
	// afterAccept fails a send the node has already taken, like a response lost in transit.
	afterAccept  func(tx *types.Transaction, sendIndex int) error
	revert       bool
	receiptErr   error
	nonceQueries int

	// stalePending makes PendingNonceAt ignore the pool, like a node whose pending view lags.
	stalePending bool
}

func newFakeNode(onChainNonce uint64) *fakeNode {
	return &fakeNode{
		chainID:      big.NewInt(31337),
		baseFee:      big.NewInt(10_000_000_000),
		tip:          big.NewInt(1_000_000_000),
		gasPrice:     big.NewInt(10_000_000_000),
		estimate:     21000,
		onChainNonce: onChainNonce,
		pool:         make(map[uint64]*types.Transaction),
		receipts:     make(map[common.Hash]*types.Receipt),
		block:        100,
	}
}

func (f *fakeNode) ChainID(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(f.chainID), nil
}

func (f *fakeNode) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	header := &types.Header{Number: new(big.Int).SetUint64(f.block)}
	if f.baseFee != nil {
		header.BaseFee = new(big.Int).Set(f.baseFee)
	}
	return header, nil
}

func (f *fakeNode) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nonceQueries++
	n := f.onChainNonce
	if f.stalePending {
		return n, nil
	}
	for {
		if _, ok := f.pool[n]; !ok {
			return n, nil
		}
		n++
	}
}

func (f *fakeNode) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.estimateCalls++
	return f.estimate, f.estimateErr
}

func (f *fakeNode) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(f.gasPrice), nil
}

func (f *fakeNode) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(f.tip), nil
}

func (f *fakeNode) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	index := len(f.sent)
	if f.sendErr != nil {
		if err := f.sendErr(tx, index); err != nil {
			return err
		}
	}
	if tx.Nonce() < f.onChainNonce {
		return errors.New("nonce too low")
	}
	if existing, ok := f.pool[tx.Nonce()]; ok {
		if existing.Hash() == tx.Hash() {
			return errors.New("already known")
		}
		if !bumpedEnough(existing, tx) {
			return errors.New("replacement transaction underpriced")
		}
	}
	f.pool[tx.Nonce()] = tx
	f.sent = append(f.sent, tx)

	withheld := f.withhold != nil && f.withhold(tx, index)
	if !withheld {
		f.mineLocked()
	}
	if f.afterAccept != nil {
		return f.afterAccept(tx, index)
	}
	return nil
}

func bumpedEnough(old, replacement *types.Transaction) bool {
	threshold := func(v *big.Int) *big.Int {
		return new(big.Int).Div(new(big.Int).Mul(v, big.NewInt(110)), big.NewInt(100))
	}
	return replacement.GasFeeCapIntCmp(threshold(old.GasFeeCap())) >= 0 &&
		replacement.GasTipCapIntCmp(threshold(old.GasTipCap())) >= 0
}

// mineLocked mines pool transactions in nonce order until a gap or a withheld transaction.
func (f *fakeNode) mineLocked() {
	for {
		tx, ok := f.pool[f.onChainNonce]
		if !ok {
			return
		}
		if f.withhold != nil && f.isWithheldLocked(tx) {
			return
		}
		f.block++
		status := types.ReceiptStatusSuccessful
		if f.revert {
			status = types.ReceiptStatusFailed
		}
		f.receipts[tx.Hash()] = &types.Receipt{
			Type:        tx.Type(),
			Status:      status,
			TxHash:      tx.Hash(),
			GasUsed:     tx.Gas(),
			BlockNumber: new(big.Int).SetUint64(f.block),
		}
		delete(f.pool, f.onChainNonce)
		f.onChainNonce++
	}
}

func (f *fakeNode) isWithheldLocked(tx *types.Transaction) bool {
	for i, sent := range f.sent {
		if sent.Hash() == tx.Hash() {
			return f.withhold(tx, i)
		}
	}
	return false
}

func (f *fakeNode) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.receiptErr != nil {
		return nil, f.receiptErr
	}
	if r, ok := f.receipts[txHash]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

func (f *fakeNode) sentTransactions() []*types.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*types.Transaction(nil), f.sent...)
}

// mineWithheld mines whatever is in the pool, ignoring withhold.
func (f *fakeNode) mineWithheld() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.withhold = nil
	f.mineLocked()
}

func (f *fakeNode) minedCount() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.onChainNonce
}

func (f *fakeNode) setReceiptErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receiptErr = err
}
