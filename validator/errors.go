// Copyright (C) 2019-2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package validator

import (
	"context"
	"errors"
	"fmt"

	"github.com/ava-labs/avalanchego/ids"

	"github.com/darkrenaissance/darkfi-sub018/blockchain"
)

var (
	ErrDuplicate         = errors.New("already seen")
	ErrUnknownParent     = errors.New("proposal does not extend a known block")
	ErrInvalidHeight     = errors.New("invalid block height")
	ErrWrongVersion      = errors.New("unsupported block version")
	ErrTimestampTooEarly = errors.New("block timestamp is earlier than its parent's")
	ErrTimestampTooLate  = errors.New("block timestamp is too far in the future")
	ErrLowDifficulty     = errors.New("declared difficulty is below the minimum")
	ErrInsufficientWork  = errors.New("block hash does not meet its difficulty")
	ErrSignatureCount    = errors.New("signature count mismatch")
	ErrProofCount        = errors.New("proof count mismatch")
	ErrHalted            = errors.New("finalization failed, proposals are not accepted until it succeeds")
	ErrMempoolFull       = errors.New("mempool is full")

	// ErrDoubleSpend is returned when a nullifier is already spent.
	ErrDoubleSpend = blockchain.ErrNullifierExists
)

// TxError is a transaction that is invalid. It is dropped and processing
// carries on.
type TxError struct {
	TxID ids.ID
	Err  error
}

func (e *TxError) Error() string { return fmt.Sprintf("transaction %s: %v", e.TxID, e.Err) }
func (e *TxError) Unwrap() error { return e.Err }

func txError(txID ids.ID, err error) error {
	return &TxError{TxID: txID, Err: err}
}

// stateError classifies an error raised while running [txID] against a
// state. A failing store says nothing about the transaction.
func stateError(txID ids.ID, err error) error {
	if errors.Is(err, blockchain.ErrStorage) {
		return &FatalError{Op: "running transaction " + txID.String(), Err: err}
	}
	return txError(txID, err)
}

// FatalError is a storage or key building failure. The node cannot tell
// whether the input was valid, so the operation has to be retried.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string { return fmt.Sprintf("fatal error while %s: %v", e.Op, e.Err) }
func (e *FatalError) Unwrap() error { return e.Err }

func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}

func IsTxInvalid(err error) bool {
	var txErr *TxError
	return errors.As(err, &txErr)
}

// retryable reports whether [err] may clear later while the input stays
// the same, for example once a missing parent arrives.
func retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrUnknownParent),
		errors.Is(err, ErrHalted),
		errors.Is(err, ErrTimestampTooLate),
		errors.Is(err, ErrMempoolFull),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return true
	default:
		return IsFatal(err)
	}
}
