package txManager

import (
	"fmt"
	"math/big"
	"time"

	"github.com/Layr-Labs/txmgr-go/pkg/gasEstimator"
	"github.com/Layr-Labs/txmgr-go/pkg/journal"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

type (
	TransactionIntent   = gasEstimator.TransactionIntent
	PreparedTransaction = gasEstimator.PreparedTransaction
)

// SignedTransaction is the only artifact sent to the network.
type SignedTransaction struct {
	Tx   *types.Transaction
	Hash common.Hash
	Raw  []byte
}

func newSignedTransaction(tx *types.Transaction) (*SignedTransaction, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to encode signed transaction: %w", err)
	}
	return &SignedTransaction{Tx: tx, Hash: tx.Hash(), Raw: raw}, nil
}

// PendingSubmission tracks one nonce from first broadcast until a receipt or abandonment.
type PendingSubmission struct {
	Sender      common.Address
	Nonce       uint64
	ChainID     *big.Int
	SubmittedAt time.Time

	// Hashes holds every hash broadcast for this nonce, latest last. Any of them may be mined.
	Hashes []common.Hash

	// Replacements counts replacement attempts, including ones the node rejected.
	Replacements int

	// Prepared is the most recently broadcast version of the transaction.
	Prepared *PreparedTransaction

	// lastAttemptFees are the fees of the latest replacement attempt, accepted or not.
	lastAttemptFees *gasEstimator.Fees
}

// LatestHash returns the most recently broadcast hash.
func (p *PendingSubmission) LatestHash() common.Hash {
	if len(p.Hashes) == 0 {
		return common.Hash{}
	}
	return p.Hashes[len(p.Hashes)-1]
}

// Fees returns the fees of the most recently broadcast transaction.
func (p *PendingSubmission) Fees() *gasEstimator.Fees {
	return p.Prepared.Fees
}

func (p *PendingSubmission) hasHash(h common.Hash) bool {
	for _, existing := range p.Hashes {
		if existing == h {
			return true
		}
	}
	return false
}

func (p *PendingSubmission) snapshot() *PendingSubmission {
	cp := *p
	cp.Hashes = append([]common.Hash(nil), p.Hashes...)
	cp.Prepared = p.Prepared.WithFees(p.Prepared.Fees)
	cp.lastAttemptFees = nil
	return &cp
}

func (p *PendingSubmission) toRecord() *journal.Record {
	intent := p.Prepared.Intent
	fees := p.Prepared.Fees
	return &journal.Record{
		Sender:         p.Sender,
		Nonce:          p.Nonce,
		ChainID:        p.ChainID,
		To:             intent.To,
		Value:          intent.Value,
		Data:           intent.Data,
		GasLimit:       p.Prepared.GasLimit,
		IdempotencyKey: intent.IdempotencyKey,
		Hashes:         append([]common.Hash(nil), p.Hashes...),
		GasPrice:       fees.GasPrice,
		GasFeeCap:      fees.GasFeeCap,
		GasTipCap:      fees.GasTipCap,
		Replacements:   p.Replacements,
		SubmittedAt:    p.SubmittedAt,
	}
}
