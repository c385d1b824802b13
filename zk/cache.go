// Copyright (C) 2019-2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package zk

import (
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	log "github.com/inconshreveable/log15"

	"github.com/darkrenaissance/darkfi-sub018/zkas"
)

// KeyCache builds the keys of each circuit at most once. Circuits are told
// apart by namespace and k.
type KeyCache struct {
	log log.Logger

	lock  sync.RWMutex
	keys  map[string]*ProvingKey
	group singleflight.Group
}

func NewKeyCache() *KeyCache {
	return &KeyCache{
		log:  log.New("module", "zk"),
		keys: make(map[string]*ProvingKey),
	}
}

func cacheKey(bin *zkas.ZkBinary) string {
	return fmt.Sprintf("%s/%d", bin.Namespace, bin.K)
}

// ProvingKey returns the proving key of [bin], building it on first use.
func (c *KeyCache) ProvingKey(bin *zkas.ZkBinary) (*ProvingKey, error) {
	key := cacheKey(bin)

	c.lock.RLock()
	pk, ok := c.keys[key]
	c.lock.RUnlock()
	if ok {
		return pk, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		c.lock.RLock()
		pk, ok := c.keys[key]
		c.lock.RUnlock()
		if ok {
			return pk, nil
		}

		c.log.Info("building circuit keys", "circuit", bin.Namespace, "k", bin.K)
		pk, err := BuildProvingKey(bin.K, bin)
		if err != nil {
			return nil, err
		}
		c.log.Info("built circuit keys", "circuit", bin.Namespace, "constraints", pk.NumConstraints())

		c.lock.Lock()
		c.keys[key] = pk
		c.lock.Unlock()
		return pk, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*ProvingKey), nil
}

// VerifyingKey returns the verifying key of [bin].
func (c *KeyCache) VerifyingKey(bin *zkas.ZkBinary) (*VerifyingKey, error) {
	pk, err := c.ProvingKey(bin)
	if err != nil {
		return nil, err
	}
	return pk.VerifyingKey(), nil
}

// Len is the number of circuits with built keys.
func (c *KeyCache) Len() int {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return len(c.keys)
}
