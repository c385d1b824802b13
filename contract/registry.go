// Copyright (C) 2019-2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package contract

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ava-labs/avalanchego/ids"

	"github.com/darkrenaissance/darkfi-sub018/zkas"
)

var (
	ErrDuplicateContract = errors.New("contract already registered")
	ErrDuplicateCircuit  = errors.New("circuit namespace already registered")
	ErrUnknownContract   = errors.New("unknown contract")
	ErrUnknownFunction   = errors.New("unknown contract function")
	ErrUnknownCircuit    = errors.New("unknown circuit")
)

type entry struct {
	contract  Contract
	functions map[ids.ID]string
}

// Registry maps contract and function ids to native contracts.
type Registry struct {
	lock      sync.RWMutex
	contracts map[ids.ID]*entry
	circuits  map[string]*zkas.ZkBinary
}

func NewRegistry() *Registry {
	return &Registry{
		contracts: make(map[ids.ID]*entry),
		circuits:  make(map[string]*zkas.ZkBinary),
	}
}

// Register adds [c]. Contract names and circuit namespaces are global.
func (r *Registry) Register(c Contract) error {
	contractID := ContractID(c.Name())

	r.lock.Lock()
	defer r.lock.Unlock()

	if _, ok := r.contracts[contractID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateContract, c.Name())
	}
	circuits := c.Circuits()
	seen := make(map[string]struct{}, len(circuits))
	for _, bin := range circuits {
		if _, ok := r.circuits[bin.Namespace]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateCircuit, bin.Namespace)
		}
		if _, ok := seen[bin.Namespace]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateCircuit, bin.Namespace)
		}
		seen[bin.Namespace] = struct{}{}
	}

	e := &entry{
		contract:  c,
		functions: make(map[ids.ID]string),
	}
	for _, fn := range c.Functions() {
		e.functions[FunctionID(contractID, fn)] = fn
	}
	for _, bin := range circuits {
		r.circuits[bin.Namespace] = bin
	}
	r.contracts[contractID] = e
	return nil
}

// Lookup returns the contract and the name of the function a call targets.
func (r *Registry) Lookup(contractID, functionID ids.ID) (Contract, string, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	e, ok := r.contracts[contractID]
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrUnknownContract, contractID)
	}
	fn, ok := e.functions[functionID]
	if !ok {
		return nil, "", fmt.Errorf("%w: %s of %s", ErrUnknownFunction, functionID, e.contract.Name())
	}
	return e.contract, fn, nil
}

// Circuit returns the circuit registered under [namespace].
func (r *Registry) Circuit(namespace string) (*zkas.ZkBinary, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	bin, ok := r.circuits[namespace]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCircuit, namespace)
	}
	return bin, nil
}

// Circuits returns every registered circuit ordered by namespace.
func (r *Registry) Circuits() []*zkas.ZkBinary {
	r.lock.RLock()
	defer r.lock.RUnlock()

	out := make([]*zkas.ZkBinary, 0, len(r.circuits))
	for _, bin := range r.circuits {
		out = append(out, bin)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Namespace < out[j].Namespace })
	return out
}

// Contracts returns every registered contract ordered by name.
func (r *Registry) Contracts() []Contract {
	r.lock.RLock()
	defer r.lock.RUnlock()

	out := make([]Contract, 0, len(r.contracts))
	for _, e := range r.contracts {
		out = append(out, e.contract)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}
