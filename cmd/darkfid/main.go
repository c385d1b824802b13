// Copyright (C) 2019-2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// darkfid runs a validator node: it verifies and finalizes proposals,
// serves the JSON-RPC API and optionally produces proposals itself.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/database/leveldb"
	"github.com/ava-labs/avalanchego/database/memdb"
	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/formatting"
	"github.com/ava-labs/avalanchego/utils/logging"
	"github.com/ava-labs/avalanchego/version"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	log "github.com/inconshreveable/log15"

	"github.com/darkrenaissance/darkfi-sub018/blockchain"
	"github.com/darkrenaissance/darkfi-sub018/contract"
	"github.com/darkrenaissance/darkfi-sub018/contract/money"
	"github.com/darkrenaissance/darkfi-sub018/p2p"
	"github.com/darkrenaissance/darkfi-sub018/validator"
	"github.com/darkrenaissance/darkfi-sub018/zk"
)

const (
	Name     = "darkfid"
	dbPrefix = "darkfid_db"

	rpcEndpoint     = "/ext/" + Name
	metricsEndpoint = "/metrics"
	shutdownTimeout = 5 * time.Second
)

var (
	Version = version.NewDefaultVersion(0, 1, 0)

	errInvalidCoin        = errors.New("invalid genesis coin")
	errInvalidProducerKey = errors.New("invalid producer key")
)

func main() {
	v, err := getViper(os.Args[1:])
	if err != nil {
		fmt.Printf("couldn't get config: %s\n", err)
		os.Exit(1)
	}
	// Print version and exit
	if v.GetBool(versionKey) {
		fmt.Printf("%s@%s\n", Name, Version)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, v); err != nil {
		log.Crit("darkfid stopped", "err", err)
		os.Exit(1)
	}
}

func setupLogging(v *viper.Viper) error {
	lvl, err := log.LvlFromString(v.GetString(logLevelKey))
	if err != nil {
		return err
	}
	log.Root().SetHandler(log.LvlFilterHandler(lvl, log.StreamHandler(os.Stderr, log.TerminalFormat())))
	return nil
}

func openDB(v *viper.Viper, reg prometheus.Registerer) (database.Database, error) {
	dir := v.GetString(dbDirKey)
	if dir == "" {
		log.Warn("no database directory configured, the chain is kept in memory")
		return memdb.New(), nil
	}
	return leveldb.New(dir, nil, logging.NoLog{}, dbPrefix, reg)
}

func genesisCoins(v *viper.Viper) ([]fr.Element, error) {
	raw := v.GetString(genesisCoinsKey)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	coins := make([]fr.Element, len(parts))
	for i, part := range parts {
		b, err := formatting.Decode(formatting.Hex, strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("%w %d: %v", errInvalidCoin, i, err)
		}
		if len(b) != fr.Bytes {
			return nil, fmt.Errorf("%w %d: %d bytes", errInvalidCoin, i, len(b))
		}
		if err := coins[i].SetBytesCanonical(b); err != nil {
			return nil, fmt.Errorf("%w %d: %v", errInvalidCoin, i, err)
		}
	}
	return coins, nil
}

func producerKey(v *viper.Viper) (*btcec.PrivateKey, error) {
	raw := v.GetString(producerKeyKey)
	if raw == "" {
		return btcec.NewPrivateKey()
	}
	b, err := formatting.Decode(formatting.Hex, raw)
	if err != nil {
		return nil, fmt.Errorf("couldn't decode producer key: %w", err)
	}
	if len(b) != btcec.PrivKeyBytesLen {
		return nil, fmt.Errorf("%w: %d bytes", errInvalidProducerKey, len(b))
	}
	key, _ := btcec.PrivKeyFromBytes(b)
	return key, nil
}

func run(ctx context.Context, v *viper.Viper) error {
	if err := setupLogging(v); err != nil {
		return err
	}
	log.Info("starting darkfid", "version", Version)

	reg := prometheus.NewRegistry()
	db, err := openDB(v, reg)
	if err != nil {
		return fmt.Errorf("couldn't open database: %w", err)
	}

	coins, err := genesisCoins(v)
	if err != nil {
		return err
	}
	genesis, err := blockchain.Genesis(v.GetInt64(genesisTimestampKey), coins)
	if err != nil {
		return err
	}
	bc, err := blockchain.New(db, genesis, coins)
	if err != nil {
		return fmt.Errorf("couldn't open chain: %w", err)
	}
	defer func() {
		if err := bc.Close(); err != nil {
			log.Error("failed to close chain", "err", err)
		}
	}()

	registry := contract.NewRegistry()
	if err := registry.Register(money.New()); err != nil {
		return err
	}

	// A single node talks to itself through the hub until peers join it.
	hub := p2p.NewHub()
	peer, err := hub.Join(ids.ShortEmpty, p2p.DefaultInboxSize)
	if err != nil {
		return err
	}
	defer peer.Close()

	val, err := validator.New(validatorConfig(v), bc, registry, zk.NewKeyCache(), peer, reg)
	if err != nil {
		return err
	}
	handler, err := validator.NewHandler(val)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle(rpcEndpoint, handler)
	mux.Handle(metricsEndpoint, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:              v.GetString(rpcAddrKey),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var p *producer
	if v.GetBool(produceKey) {
		key, err := producerKey(v)
		if err != nil {
			return err
		}
		p = &producer{
			log:      log.New("module", "producer"),
			val:      val,
			key:      key,
			interval: v.GetDuration(blockIntervalKey),
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return val.Run(ctx) })
	g.Go(func() error {
		log.Info("serving RPC", "addr", server.Addr, "endpoint", rpcEndpoint)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if p != nil {
		g.Go(func() error { return p.run(ctx) })
	}

	err = g.Wait()
	log.Info("darkfid stopped", "height", bc.Height())
	return err
}
