package txManager

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
)

var (
	// ErrEstimation means the nonce, fees or gas limit could not be determined after all attempts.
	ErrEstimation = errors.New("txManager: estimation failed")

	// ErrSigning means the signer rejected the transaction. Never retried.
	ErrSigning = errors.New("txManager: signing failed")

	// ErrSubmission means the node kept rejecting the transaction after it was prepared again.
	ErrSubmission = errors.New("txManager: submission rejected")

	// ErrTransactionStuck means no receipt arrived after every allowed replacement.
	// The transaction may still be mined later.
	ErrTransactionStuck = errors.New("txManager: transaction stuck")

	// ErrReceiptWaitCancelled means the caller stopped waiting. The broadcast transaction is unaffected.
	ErrReceiptWaitCancelled = errors.New("txManager: receipt wait cancelled")

	// ErrSubmissionCancelled means the caller cancelled before anything was broadcast.
	ErrSubmissionCancelled = errors.New("txManager: submission cancelled before broadcast")

	// ErrInvalidIntent means the intent cannot describe a valid transaction.
	ErrInvalidIntent = errors.New("txManager: invalid intent")

	// ErrInvalidConfig means the manager configuration is unusable.
	ErrInvalidConfig = errors.New("txManager: invalid config")
)

// errReceiptTimeout is internal: the wait budget elapsed and the submission is a replacement candidate.
var errReceiptTimeout = errors.New("receipt wait timed out")

// TxManagerError carries the failure kind together with the last known transaction hash and nonce.
// errors.Is matches both the kind sentinel and the underlying cause.
type TxManagerError struct {
	Kind   error
	TxHash common.Hash
	Nonce  uint64
	Err    error

	// pending is set on cancelled receipt waits so another caller can resume them.
	pending *PendingSubmission
}

func (e *TxManagerError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Kind.Error())
	if e.TxHash != (common.Hash{}) {
		fmt.Fprintf(&sb, " (tx %s, nonce %d)", e.TxHash.Hex(), e.Nonce)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *TxManagerError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Node error messages as produced by go-ethereum's txpool. Remote nodes only return the text.
const (
	msgAlreadyKnown          = "already known"
	msgNonceTooLow           = "nonce too low"
	msgReplacementUnderprice = "replacement transaction underpriced"
)

func errContains(err error, msg string) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), msg)
}

func isAlreadyKnown(err error) bool { return errContains(err, msgAlreadyKnown) }
func isNonceTooLow(err error) bool { return errContains(err, msgNonceTooLow) }
func isUnderpriced(err error) bool { return errContains(err, msgReplacementUnderprice) }

// rejectionMessages are txpool and state-transition errors returned when a node refuses a
// transaction outright.
var rejectionMessages = []string{
	"nonce too low",
	"nonce too high",
	"underpriced",
	"insufficient funds",
	"intrinsic gas too low",
	"exceeds block gas limit",
	"fee cap",
	"fee per gas",
	"invalid sender",
	"not supported",
	"oversized data",
	"txpool is full",
	"exceeds the configured cap",
	"negative value",
}

// isRejection reports whether err proves the node refused the transaction. Any other send
// failure (timeouts, dropped connections, HTTP errors) leaves it unknown whether the node
// accepted it.
func isRejection(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	for _, msg := range rejectionMessages {
		if errContains(err, msg) {
			return true
		}
	}
	// a JSON-RPC error object is an answer from the node, except its own request timeout
	var rpcErr rpc.Error
	return errors.As(err, &rpcErr) && !errContains(err, "timed out") && !errContains(err, "timeout")
}
