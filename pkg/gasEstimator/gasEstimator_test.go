package gasEstimator

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/Layr-Labs/txmgr-go/pkg/chainManager"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	testSender    = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	testRecipient = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
)

func gwei(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000))
}

func setupTestEstimator(t *testing.T, cfg *Config) (*Estimator, *chainManager.MockEthClientInterface) {
	client := chainManager.NewMockEthClientInterface(t)
	logger, _ := zap.NewDevelopment()
	if cfg == nil {
		cfg = DefaultConfig()
		cfg.ChainID = big.NewInt(31337)
	}
	estimator, err := NewEstimator(client, cfg, logger)
	require.NoError(t, err)
	return estimator, client
}

func Test_ApplyGasBuffer(t *testing.T) {
	tests := []struct {
		name       string
		gas        uint64
		multiplier float64
		expected   uint64
	}{
		{"default buffer", 21000, 1.2, 25200},
		{"rounds up", 100001, 1.2, 120002},
		{"odd estimate rounds up", 7, 1.5, 11},
		{"identity", 50000, 1.0, 50000},
		{"never below raw", 1, 1.0000001, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ApplyGasBuffer(tt.gas, tt.multiplier)
			assert.Equal(t, tt.expected, got)
			assert.GreaterOrEqual(t, got, tt.gas)
		})
	}
}

func Test_Prepare_DynamicFees(t *testing.T) {
	estimator, client := setupTestEstimator(t, nil)
	intent := &TransactionIntent{To: &testRecipient, Value: big.NewInt(1), Data: []byte{0x01}}

	client.On("PendingNonceAt", mock.Anything, testSender).Return(uint64(5), nil).Once()
	client.On("HeaderByNumber", mock.Anything, (*big.Int)(nil)).
		Return(&types.Header{BaseFee: gwei(10)}, nil).Once()
	client.On("SuggestGasTipCap", mock.Anything).Return(gwei(2), nil).Once()
	client.On("EstimateGas", mock.Anything, mock.MatchedBy(func(msg ethereum.CallMsg) bool {
		return msg.From == testSender && *msg.To == testRecipient && msg.GasFeeCap != nil
	})).Return(uint64(100000), nil).Once()

	prepared, err := estimator.Prepare(context.Background(), intent, testSender)
	require.NoError(t, err)

	assert.Equal(t, uint64(5), prepared.Nonce)
	assert.Equal(t, uint64(120000), prepared.GasLimit)
	assert.Equal(t, int64(31337), prepared.ChainID.Int64())
	assert.True(t, prepared.Fees.IsDynamic())
	assert.Equal(t, gwei(2), prepared.Fees.GasTipCap)
	// 10 gwei * 1.5 + 2 gwei
	assert.Equal(t, gwei(17), prepared.Fees.GasFeeCap)

	tx := prepared.ToTransaction()
	assert.Equal(t, uint8(types.DynamicFeeTxType), tx.Type())
	assert.Equal(t, uint64(5), tx.Nonce())
	assert.Equal(t, uint64(120000), tx.Gas())
}

func Test_Prepare_ExplicitGasLimitSkipsEstimate(t *testing.T) {
	estimator, client := setupTestEstimator(t, nil)
	intent := &TransactionIntent{To: &testRecipient, GasLimit: 42000}

	client.On("PendingNonceAt", mock.Anything, testSender).Return(uint64(0), nil).Once()
	client.On("HeaderByNumber", mock.Anything, (*big.Int)(nil)).
		Return(&types.Header{BaseFee: gwei(1)}, nil).Once()
	client.On("SuggestGasTipCap", mock.Anything).Return(gwei(1), nil).Once()

	prepared, err := estimator.Prepare(context.Background(), intent, testSender)
	require.NoError(t, err)
	assert.Equal(t, uint64(42000), prepared.GasLimit)
	client.AssertNotCalled(t, "EstimateGas", mock.Anything, mock.Anything)
}

func Test_Prepare_FallbackTip(t *testing.T) {
	estimator, client := setupTestEstimator(t, nil)
	intent := &TransactionIntent{To: &testRecipient, GasLimit: 21000}

	client.On("PendingNonceAt", mock.Anything, testSender).Return(uint64(1), nil).Once()
	client.On("HeaderByNumber", mock.Anything, (*big.Int)(nil)).
		Return(&types.Header{BaseFee: gwei(2)}, nil).Once()
	client.On("SuggestGasTipCap", mock.Anything).
		Return(nil, errors.New("the method eth_maxPriorityFeePerGas does not exist")).Once()

	prepared, err := estimator.Prepare(context.Background(), intent, testSender)
	require.NoError(t, err)
	assert.Equal(t, FallbackGasTipCap, prepared.Fees.GasTipCap)
	assert.Equal(t, gwei(18), prepared.Fees.GasFeeCap)
}

func Test_Prepare_LegacyChain(t *testing.T) {
	estimator, client := setupTestEstimator(t, nil)
	intent := &TransactionIntent{To: &testRecipient, GasLimit: 21000}

	client.On("PendingNonceAt", mock.Anything, testSender).Return(uint64(9), nil).Once()
	client.On("HeaderByNumber", mock.Anything, (*big.Int)(nil)).Return(&types.Header{}, nil).Once()
	client.On("SuggestGasPrice", mock.Anything).Return(gwei(10), nil).Once()

	prepared, err := estimator.Prepare(context.Background(), intent, testSender)
	require.NoError(t, err)
	assert.False(t, prepared.Fees.IsDynamic())
	assert.Equal(t, gwei(12), prepared.Fees.GasPrice)
	assert.Equal(t, uint8(types.LegacyTxType), prepared.ToTransaction().Type())
}

func Test_Prepare_ForceLegacyAndCeiling(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ChainID = big.NewInt(1)
	cfg.ForceLegacy = true
	cfg.MaxFeePerGas = gwei(11)
	estimator, client := setupTestEstimator(t, cfg)

	client.On("PendingNonceAt", mock.Anything, testSender).Return(uint64(0), nil).Once()
	client.On("SuggestGasPrice", mock.Anything).Return(gwei(10), nil).Once()

	prepared, err := estimator.Prepare(context.Background(), &TransactionIntent{To: &testRecipient, GasLimit: 21000}, testSender)
	require.NoError(t, err)
	assert.Equal(t, gwei(11), prepared.Fees.GasPrice)
	client.AssertNotCalled(t, "HeaderByNumber", mock.Anything, mock.Anything)
}

func Test_Prepare_Errors(t *testing.T) {
	t.Run("nonce failure", func(t *testing.T) {
		estimator, client := setupTestEstimator(t, nil)
		client.On("PendingNonceAt", mock.Anything, testSender).Return(uint64(0), errors.New("dial tcp: connection refused")).Once()

		_, err := estimator.Prepare(context.Background(), &TransactionIntent{To: &testRecipient}, testSender)
		assert.ErrorIs(t, err, ErrEstimation)
		assert.NotErrorIs(t, err, ErrExecutionReverted)
	})

	t.Run("missing base fee when dynamic fees required", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.ChainID = big.NewInt(1)
		cfg.RequireDynamicFees = true
		estimator, client := setupTestEstimator(t, cfg)
		client.On("PendingNonceAt", mock.Anything, testSender).Return(uint64(0), nil).Once()
		client.On("HeaderByNumber", mock.Anything, (*big.Int)(nil)).Return(&types.Header{}, nil).Once()

		_, err := estimator.Prepare(context.Background(), &TransactionIntent{To: &testRecipient}, testSender)
		assert.ErrorIs(t, err, ErrEstimation)
	})

	t.Run("revert is marked", func(t *testing.T) {
		estimator, client := setupTestEstimator(t, nil)
		client.On("PendingNonceAt", mock.Anything, testSender).Return(uint64(0), nil).Once()
		client.On("HeaderByNumber", mock.Anything, (*big.Int)(nil)).Return(&types.Header{BaseFee: gwei(1)}, nil).Once()
		client.On("SuggestGasTipCap", mock.Anything).Return(gwei(1), nil).Once()
		client.On("EstimateGas", mock.Anything, mock.Anything).Return(uint64(0), errors.New("execution reverted: not owner")).Once()

		_, err := estimator.Prepare(context.Background(), &TransactionIntent{To: &testRecipient}, testSender)
		assert.ErrorIs(t, err, ErrEstimation)
		assert.ErrorIs(t, err, ErrExecutionReverted)
	})

	t.Run("zero estimate", func(t *testing.T) {
		estimator, client := setupTestEstimator(t, nil)
		client.On("PendingNonceAt", mock.Anything, testSender).Return(uint64(0), nil).Once()
		client.On("HeaderByNumber", mock.Anything, (*big.Int)(nil)).Return(&types.Header{BaseFee: gwei(1)}, nil).Once()
		client.On("SuggestGasTipCap", mock.Anything).Return(gwei(1), nil).Once()
		client.On("EstimateGas", mock.Anything, mock.Anything).Return(uint64(0), nil).Once()

		_, err := estimator.Prepare(context.Background(), &TransactionIntent{To: &testRecipient}, testSender)
		assert.ErrorIs(t, err, ErrEstimation)
	})
}

func Test_ChainIDIsCached(t *testing.T) {
	cfg := DefaultConfig()
	estimator, client := setupTestEstimator(t, cfg)
	client.On("ChainID", mock.Anything).Return(big.NewInt(17000), nil).Once()

	for i := 0; i < 3; i++ {
		id, err := estimator.ChainID(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(17000), id.Int64())
	}
}

func Test_SetGasLimitMultiplier(t *testing.T) {
	estimator, _ := setupTestEstimator(t, nil)

	require.NoError(t, estimator.SetGasLimitMultiplier(2))
	assert.Equal(t, 2.0, estimator.GasLimitMultiplier())

	assert.Error(t, estimator.SetGasLimitMultiplier(0.9))
	assert.Equal(t, 2.0, estimator.GasLimitMultiplier())
}

func Test_BumpFees(t *testing.T) {
	t.Run("dynamic bump by percent", func(t *testing.T) {
		prev := &Fees{GasFeeCap: gwei(100), GasTipCap: gwei(2)}
		next, err := BumpFees(prev, nil, 20, nil)
		require.NoError(t, err)
		assert.Equal(t, gwei(120), next.GasFeeCap)
		assert.Equal(t, big.NewInt(2_400_000_000), next.GasTipCap)
	})

	t.Run("fresh suggestion wins when higher", func(t *testing.T) {
		prev := &Fees{GasFeeCap: gwei(100), GasTipCap: gwei(2)}
		fresh := &Fees{GasFeeCap: gwei(200), GasTipCap: gwei(1)}
		next, err := BumpFees(prev, fresh, 20, nil)
		require.NoError(t, err)
		assert.Equal(t, gwei(200), next.GasFeeCap)
		assert.Equal(t, big.NewInt(2_400_000_000), next.GasTipCap)
	})

	t.Run("percent below minimum is raised", func(t *testing.T) {
		prev := &Fees{GasPrice: gwei(100)}
		next, err := BumpFees(prev, nil, 1, nil)
		require.NoError(t, err)
		assert.Equal(t, gwei(110), next.GasPrice)
	})

	t.Run("ceiling clamps", func(t *testing.T) {
		prev := &Fees{GasFeeCap: gwei(100), GasTipCap: gwei(2)}
		next, err := BumpFees(prev, nil, 20, gwei(110))
		require.NoError(t, err)
		assert.Equal(t, gwei(110), next.GasFeeCap)
	})

	t.Run("ceiling prevents increase", func(t *testing.T) {
		prev := &Fees{GasPrice: gwei(100)}
		_, err := BumpFees(prev, nil, 20, gwei(100))
		assert.ErrorIs(t, err, ErrFeeCeilingReached)
	})

	t.Run("zero tip still increases", func(t *testing.T) {
		prev := &Fees{GasFeeCap: gwei(10), GasTipCap: big.NewInt(0)}
		next, err := BumpFees(prev, nil, 10, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, next.GasTipCap.Cmp(prev.GasTipCap))
	})
}
