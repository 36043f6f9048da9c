package txManager

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/Layr-Labs/txmgr-go/pkg/txSigner"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	"github.com/ethereum/go-ethereum/params"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// Test_Submit_SimulatedBackend runs concurrent submissions against an in-process geth node
// that seals a block every few milliseconds.
func Test_Submit_SimulatedBackend(t *testing.T) {
	signer, err := txSigner.NewPrivateKeySigner(testPrivateKey)
	require.NoError(t, err)
	sender, err := signer.GetAddress()
	require.NoError(t, err)

	backend := simulated.NewBackend(types.GenesisAlloc{
		sender: {Balance: new(big.Int).Mul(big.NewInt(100), big.NewInt(params.Ether))},
	})
	defer backend.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				backend.Commit()
			}
		}
	}()

	cfg := DefaultConfig()
	cfg.ReceiptPollInterval = 20 * time.Millisecond
	cfg.ReceiptTimeout = 5 * time.Second
	logger, _ := zap.NewDevelopment()
	manager, err := NewSimpleTxManager(cfg, backend.Client(), signer, logger)
	require.NoError(t, err)

	const n = 4
	var wg sync.WaitGroup
	receipts := make([]*types.Receipt, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			receipts[i], errs[i] = manager.Submit(ctx, &TransactionIntent{
				To:    &testRecipient,
				Value: big.NewInt(params.GWei),
			})
		}(i)
	}
	wg.Wait()

	client := backend.Client()
	nonces := make(map[uint64]bool)
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, types.ReceiptStatusSuccessful, receipts[i].Status)

		tx, _, err := client.TransactionByHash(ctx, receipts[i].TxHash)
		require.NoError(t, err)
		nonces[tx.Nonce()] = true
	}
	for nonce := uint64(0); nonce < n; nonce++ {
		assert.True(t, nonces[nonce], "nonce %d", nonce)
	}

	balance, err := client.BalanceAt(ctx, testRecipient, nil)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(n*params.GWei), balance)
}
