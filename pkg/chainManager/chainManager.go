// Package chainManager provides blockchain connection management for transaction submission.
// It keeps one node client per chain ID and verifies on registration that the node
// actually serves the chain it was configured for, so a misconfigured RPC URL can never
// receive transactions signed for another chain.
package chainManager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
)

var (
	// ErrChainNotFound is returned when a requested chain ID is not found in the manager
	ErrChainNotFound = errors.New("chain not found")

	// ErrChainIdMismatch is returned when the node reports a different chain ID than configured
	ErrChainIdMismatch = errors.New("chain ID mismatch")
)

const chainIdCheckTimeout = 10 * time.Second

// IChainManager defines the interface for managing blockchain connections.
type IChainManager interface {
	// AddChain dials the configured RPC URL and registers the resulting client
	AddChain(ctx context.Context, cfg *ChainConfig) error
	// GetChainForId retrieves a chain connection by its chain ID
	GetChainForId(chainId uint64) (*Chain, error)
}

// ChainConfig holds the configuration for connecting to a blockchain.
type ChainConfig struct {
	// ChainID is the unique identifier for the blockchain network
	ChainID uint64
	// RPCUrl is the URL endpoint for connecting to the blockchain RPC
	RPCUrl string
}

// Chain represents an active connection to a blockchain.
type Chain struct {
	config *ChainConfig
	// RPCClient is the active client connection for this chain
	RPCClient EthClientInterface
}

// ChainID returns the configured chain ID of this connection.
func (c *Chain) ChainID() uint64 {
	return c.config.ChainID
}

// ChainManager implements IChainManager and manages multiple blockchain connections.
// This implementation is thread-safe using sync.Map for concurrent access.
type ChainManager struct {
	Chains sync.Map // map[uint64]*Chain
}

// NewChainManager creates a new ChainManager with an empty chain registry.
func NewChainManager() *ChainManager {
	return &ChainManager{}
}

// AddChain dials the RPC URL in cfg and registers the client under cfg.ChainID.
func (cm *ChainManager) AddChain(ctx context.Context, cfg *ChainConfig) error {
	if _, exists := cm.Chains.Load(cfg.ChainID); exists {
		return fmt.Errorf("chain with ID %d already exists", cfg.ChainID)
	}
	client, err := ethclient.DialContext(ctx, cfg.RPCUrl)
	if err != nil {
		return fmt.Errorf("failed to connect to RPC URL %s: %w", cfg.RPCUrl, err)
	}
	if err := cm.AddChainClient(ctx, cfg, client); err != nil {
		client.Close()
		return err
	}
	return nil
}

// AddChainClient registers an already constructed client under cfg.ChainID after checking
// that the node reports the same chain ID.
func (cm *ChainManager) AddChainClient(ctx context.Context, cfg *ChainConfig, client EthClientInterface) error {
	ctx, cancel := context.WithTimeout(ctx, chainIdCheckTimeout)
	defer cancel()

	remoteId, err := client.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("failed to query chain ID for chain %d: %w", cfg.ChainID, err)
	}
	if !remoteId.IsUint64() || remoteId.Uint64() != cfg.ChainID {
		return fmt.Errorf("%w: configured %d, node reports %s", ErrChainIdMismatch, cfg.ChainID, remoteId)
	}

	if _, loaded := cm.Chains.LoadOrStore(cfg.ChainID, &Chain{config: cfg, RPCClient: client}); loaded {
		return fmt.Errorf("chain with ID %d already exists", cfg.ChainID)
	}
	return nil
}

// GetChainForId retrieves a chain connection by its chain ID.
// Returns ErrChainNotFound if the chain ID is not registered.
func (cm *ChainManager) GetChainForId(chainId uint64) (*Chain, error) {
	value, exists := cm.Chains.Load(chainId)
	if !exists {
		return nil, ErrChainNotFound
	}
	chain, ok := value.(*Chain)
	if !ok {
		return nil, fmt.Errorf("invalid chain type stored for ID %d", chainId)
	}
	return chain, nil
}
