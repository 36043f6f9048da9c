// Package txSigner provides Ethereum transaction signing for the transaction manager.
// This package defines the signer interface and implementations backed by a raw
// private key or by an AWS KMS secp256k1 key.
//
// Signers are pure: they never fetch nonces or fees and never talk to a node. Preventing
// two different transactions from being signed for the same nonce is the caller's job.
package txSigner

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	// ErrAddressMismatch is returned when asked to sign for an address the signer does not hold.
	ErrAddressMismatch = errors.New("txSigner: address mismatch")

	// ErrNilTransaction is returned when asked to sign a nil transaction.
	ErrNilTransaction = errors.New("txSigner: nil transaction")
)

// ITransactionSigner defines the interface for signing Ethereum transactions.
type ITransactionSigner interface {
	// SignTransaction signs tx for the given chain and returns the signed copy.
	// Legacy and dynamic fee transactions are both supported.
	//
	// Parameters:
	//   - ctx: Context for the operation (remote signers may perform network calls)
	//   - tx: The unsigned transaction
	//   - chainID: The chain ID for replay protection
	//
	// Returns:
	//   - *types.Transaction: The signed transaction
	//   - error: An error if the transaction cannot be signed
	SignTransaction(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)

	// GetTransactOpts returns bind.TransactOpts configured for the signer.
	GetTransactOpts(ctx context.Context, chainID *big.Int) (*bind.TransactOpts, error)

	// GetNoSendTransactOpts returns bind.TransactOpts that build and sign a transaction
	// through contract bindings without broadcasting it.
	GetNoSendTransactOpts(ctx context.Context, chainID *big.Int) (*bind.TransactOpts, error)

	// GetAddress returns the Ethereum address associated with this signer.
	GetAddress() (common.Address, error)
}

// signerFnFor adapts SignTransaction to the bind.SignerFn signature.
func signerFnFor(ctx context.Context, s ITransactionSigner, owner common.Address, chainID *big.Int) bind.SignerFn {
	return func(address common.Address, tx *types.Transaction) (*types.Transaction, error) {
		if address != owner {
			return nil, ErrAddressMismatch
		}
		return s.SignTransaction(ctx, tx, chainID)
	}
}
