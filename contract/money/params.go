// Copyright (C) 2019-2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package money

import (
	"errors"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	edwards "github.com/consensys/gnark-crypto/ecc/bn254/twistededwards"

	"github.com/darkrenaissance/darkfi-sub018/blockchain"
)

var (
	errInvalidElement = errors.New("invalid field element")
	errInvalidPoint   = errors.New("point is not on the curve")
)

// Point is an encoded twisted Edwards point.
type Point struct {
	X [fr.Bytes]byte `serialize:"true" json:"x"`
	Y [fr.Bytes]byte `serialize:"true" json:"y"`
}

func encodePoint(p *edwards.PointAffine) Point {
	return Point{X: p.X.Bytes(), Y: p.Y.Bytes()}
}

func (p *Point) decode() (edwards.PointAffine, error) {
	var out edwards.PointAffine
	if err := out.X.SetBytesCanonical(p.X[:]); err != nil {
		return out, fmt.Errorf("%w: %v", errInvalidPoint, err)
	}
	if err := out.Y.SetBytesCanonical(p.Y[:]); err != nil {
		return out, fmt.Errorf("%w: %v", errInvalidPoint, err)
	}
	if !out.IsOnCurve() {
		return out, errInvalidPoint
	}
	return out, nil
}

func decodeElement(b [fr.Bytes]byte) (fr.Element, error) {
	var e fr.Element
	if err := e.SetBytesCanonical(b[:]); err != nil {
		return e, fmt.Errorf("%w: %v", errInvalidElement, err)
	}
	return e, nil
}

// Input spends one coin.
type Input struct {
	Nullifier   [fr.Bytes]byte `serialize:"true" json:"nullifier"`
	ValueCommit Point          `serialize:"true" json:"valueCommit"`
	// MerkleRoot is the commitment tree root the spend is proven against.
	MerkleRoot      [fr.Bytes]byte `serialize:"true" json:"merkleRoot"`
	SignaturePublic []byte         `serialize:"true" json:"signaturePublic"`
}

// Output creates one coin. Note is opaque data for the recipient.
type Output struct {
	Coin        [fr.Bytes]byte `serialize:"true" json:"coin"`
	ValueCommit Point          `serialize:"true" json:"valueCommit"`
	Note        []byte         `serialize:"true" json:"note"`
}

// TransferParams is the call data of Transfer.
type TransferParams struct {
	Inputs  []Input  `serialize:"true" json:"inputs"`
	Outputs []Output `serialize:"true" json:"outputs"`
}

func (p *TransferParams) Bytes() ([]byte, error) {
	return blockchain.Codec.Marshal(blockchain.CodecVersion, p)
}

func ParseTransferParams(b []byte) (*TransferParams, error) {
	p := &TransferParams{}
	version, err := blockchain.Codec.Unmarshal(b, p)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCall, err)
	}
	if version != blockchain.CodecVersion {
		return nil, fmt.Errorf("%w: codec version %d", ErrMalformedCall, version)
	}
	return p, nil
}

// notes is the payload Process hands to Apply.
type notes struct {
	Coins [][fr.Bytes]byte `serialize:"true"`
	Notes [][]byte         `serialize:"true"`
}
