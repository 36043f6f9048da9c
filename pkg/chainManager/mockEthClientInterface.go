package chainManager

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/mock"
)

// MockEthClientInterface is a testify mock of EthClientInterface.
type MockEthClientInterface struct {
	mock.Mock
}

// NewMockEthClientInterface creates a mock whose expectations are asserted when the test ends.
func NewMockEthClientInterface(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockEthClientInterface {
	m := &MockEthClientInterface{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func bigOrNil(v interface{}) *big.Int {
	if v == nil {
		return nil
	}
	return v.(*big.Int)
}

func (m *MockEthClientInterface) ChainID(ctx context.Context) (*big.Int, error) {
	ret := m.Called(ctx)
	return bigOrNil(ret.Get(0)), ret.Error(1)
}

func (m *MockEthClientInterface) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	ret := m.Called(ctx, number)
	var header *types.Header
	if v := ret.Get(0); v != nil {
		header = v.(*types.Header)
	}
	return header, ret.Error(1)
}

func (m *MockEthClientInterface) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	ret := m.Called(ctx, account)
	return ret.Get(0).(uint64), ret.Error(1)
}

func (m *MockEthClientInterface) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	ret := m.Called(ctx, msg)
	return ret.Get(0).(uint64), ret.Error(1)
}

func (m *MockEthClientInterface) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	ret := m.Called(ctx)
	return bigOrNil(ret.Get(0)), ret.Error(1)
}

func (m *MockEthClientInterface) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	ret := m.Called(ctx)
	return bigOrNil(ret.Get(0)), ret.Error(1)
}

func (m *MockEthClientInterface) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	ret := m.Called(ctx, tx)
	return ret.Error(0)
}

func (m *MockEthClientInterface) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ret := m.Called(ctx, txHash)
	var receipt *types.Receipt
	if v := ret.Get(0); v != nil {
		receipt = v.(*types.Receipt)
	}
	return receipt, ret.Error(1)
}
