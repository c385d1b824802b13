// Copyright (C) 2019-2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package blockchain

import (
	"errors"
	"fmt"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

var (
	ErrMalformedTransaction = errors.New("malformed transaction")
	ErrInvalidSignature     = errors.New("invalid signature")
	errWrongVersion         = errors.New("wrong codec version")
)

// ContractCall invokes one function of one contract with opaque call data.
type ContractCall struct {
	ContractID ids.ID `serialize:"true" json:"contractID"`
	FunctionID ids.ID `serialize:"true" json:"functionID"`
	Data       []byte `serialize:"true" json:"data"`
}

// Transaction is an ordered list of contract calls. Proofs[i] and
// Signatures[i] belong to Calls[i].
type Transaction struct {
	Calls      []ContractCall `serialize:"true" json:"calls"`
	Proofs     [][][]byte     `serialize:"true" json:"proofs"`
	Signatures [][][]byte     `serialize:"true" json:"signatures"`

	id    ids.ID
	bytes []byte
}

// unsignedTransaction is what the signatures of a transaction commit to.
type unsignedTransaction struct {
	Calls  []ContractCall `serialize:"true"`
	Proofs [][][]byte     `serialize:"true"`
}

// Initialize serializes the transaction and caches its id.
func (tx *Transaction) Initialize() error {
	bytes, err := Codec.Marshal(CodecVersion, tx)
	if err != nil {
		return fmt.Errorf("failed to marshal transaction: %w", err)
	}
	tx.bytes = bytes
	tx.id = Hash(bytes)
	return nil
}

func (tx *Transaction) ID() ids.ID    { return tx.id }
func (tx *Transaction) Bytes() []byte { return tx.bytes }

// SigningDigest is the message every signature in the transaction signs:
// the hash of the calls and the proofs.
func (tx *Transaction) SigningDigest() (ids.ID, error) {
	bytes, err := Codec.Marshal(CodecVersion, &unsignedTransaction{
		Calls:  tx.Calls,
		Proofs: tx.Proofs,
	})
	if err != nil {
		return ids.Empty, fmt.Errorf("failed to marshal unsigned transaction: %w", err)
	}
	return Hash(bytes), nil
}

// Sign signs the transaction with keys[i] for call i and initializes it.
func (tx *Transaction) Sign(keys [][]*btcec.PrivateKey) error {
	if len(keys) != len(tx.Calls) {
		return fmt.Errorf("%w: %d key sets for %d calls", ErrMalformedTransaction, len(keys), len(tx.Calls))
	}
	digest, err := tx.SigningDigest()
	if err != nil {
		return err
	}
	tx.Signatures = make([][][]byte, len(keys))
	for i, callKeys := range keys {
		tx.Signatures[i] = make([][]byte, len(callKeys))
		for j, key := range callKeys {
			sig, err := schnorr.Sign(key, digest[:])
			if err != nil {
				return fmt.Errorf("failed to sign call %d: %w", i, err)
			}
			tx.Signatures[i][j] = sig.Serialize()
		}
	}
	return tx.Initialize()
}

// VerifySignature checks a BIP-340 signature by [pub] over [digest].
func VerifySignature(digest ids.ID, pub, sig []byte) error {
	key, err := schnorr.ParsePubKey(pub)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	s, err := schnorr.ParseSignature(sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if !s.Verify(digest[:], key) {
		return fmt.Errorf("%w: by %x", ErrInvalidSignature, pub)
	}
	return nil
}

// SyntacticVerify checks the shape of the transaction without touching
// state, proofs or signatures.
func (tx *Transaction) SyntacticVerify() error {
	switch {
	case len(tx.Calls) == 0:
		return fmt.Errorf("%w: no contract calls", ErrMalformedTransaction)
	case len(tx.Proofs) != len(tx.Calls):
		return fmt.Errorf("%w: %d proof sets for %d calls", ErrMalformedTransaction, len(tx.Proofs), len(tx.Calls))
	case len(tx.Signatures) != len(tx.Calls):
		return fmt.Errorf("%w: %d signature sets for %d calls", ErrMalformedTransaction, len(tx.Signatures), len(tx.Calls))
	}
	return nil
}

// ParseTransaction decodes a transaction and initializes it from [bytes].
func ParseTransaction(bytes []byte) (*Transaction, error) {
	tx := &Transaction{}
	version, err := Codec.Unmarshal(bytes, tx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTransaction, err)
	}
	if version != CodecVersion {
		return nil, errWrongVersion
	}
	tx.bytes = bytes
	tx.id = Hash(bytes)
	return tx, nil
}
