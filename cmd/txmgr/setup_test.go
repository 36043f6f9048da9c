package main

import (
	"context"
	"math/big"
	"net/http/httptest"
	"testing"

	"github.com/Layr-Labs/txmgr-go/pkg/chainManager"
	"github.com/Layr-Labs/txmgr-go/pkg/config"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// chainIDService answers eth_chainId.
type chainIDService struct {
	id *big.Int
}

func (s *chainIDService) ChainId() *hexutil.Big {
	return (*hexutil.Big)(s.id)
}

func setupNode(t *testing.T, chainID int64) *config.Config {
	t.Helper()
	server := rpc.NewServer()
	require.NoError(t, server.RegisterName("eth", &chainIDService{id: big.NewInt(chainID)}))
	ts := httptest.NewServer(server)
	t.Cleanup(func() {
		ts.Close()
		server.Stop()
	})

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Chain.RpcUrl = ts.URL
	cfg.Signer = config.SignerConfig{}
	cfg.Journal.Path = ""
	cfg.Lock.Backend = config.BackendLocal
	return cfg
}

func Test_setupChain(t *testing.T) {
	t.Run("configured chain ID", func(t *testing.T) {
		cfg := setupNode(t, 31337)
		cfg.Chain.ChainID = 31337

		chain, err := setupChain(context.Background(), cfg)
		require.NoError(t, err)
		defer closeChain(chain)
		assert.Equal(t, uint64(31337), chain.ChainID())
	})

	t.Run("node on another chain", func(t *testing.T) {
		cfg := setupNode(t, 31337)
		cfg.Chain.ChainID = 1

		_, err := setupChain(context.Background(), cfg)
		assert.ErrorIs(t, err, chainManager.ErrChainIdMismatch)
	})

	t.Run("chain ID from the node", func(t *testing.T) {
		cfg := setupNode(t, 17000)
		cfg.Chain.ChainID = 0

		chain, err := setupChain(context.Background(), cfg)
		require.NoError(t, err)
		defer closeChain(chain)
		assert.Equal(t, uint64(17000), chain.ChainID())
	})
}

type closableClient struct {
	chainManager.EthClientInterface
	closed int
}

func (c *closableClient) Close() { c.closed++ }

func Test_closeChain(t *testing.T) {
	client := &closableClient{}
	closeChain(&chainManager.Chain{RPCClient: client})
	assert.Equal(t, 1, client.closed)

	// clients without Close are left alone
	closeChain(&chainManager.Chain{RPCClient: chainManager.NewMockEthClientInterface(t)})
}

func Test_setupTxManager_NoSigner(t *testing.T) {
	cfg := setupNode(t, 31337)
	cfg.Chain.ChainID = 31337

	_, err := setupTxManager(context.Background(), cfg, nil, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no transaction signing method configured")
}
