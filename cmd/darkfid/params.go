// Copyright (C) 2019-2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/darkrenaissance/darkfi-sub018/validator"
)

const (
	envPrefix = "darkfid"

	configFileKey            = "config-file"
	versionKey               = "version"
	logLevelKey              = "log-level"
	dbDirKey                 = "db-dir"
	rpcAddrKey               = "rpc-addr"
	genesisTimestampKey      = "genesis-timestamp"
	genesisCoinsKey          = "genesis-coins"
	finalizationThresholdKey = "finalization-threshold"
	verifyWorkersKey         = "verify-workers"
	minDifficultyKey         = "min-difficulty"
	futureBlockLimitKey      = "future-block-limit"
	mempoolSizeKey           = "mempool-size"
	maxBlockTxsKey           = "max-block-txs"
	retryIntervalKey         = "retry-interval"
	produceKey               = "produce"
	producerKeyKey           = "producer-key"
	blockIntervalKey         = "block-interval"
)

func buildFlagSet() *flag.FlagSet {
	defaults := validator.DefaultConfig()
	fs := flag.NewFlagSet("darkfid", flag.ContinueOnError)

	fs.String(configFileKey, "", "Config file to read flags from (YAML, TOML or JSON)")
	fs.Bool(versionKey, false, "If true, prints the version and quits")
	fs.String(logLevelKey, "info", "Log level: debug, info, warn, error or crit")
	fs.String(dbDirKey, "", "Database directory; the chain is kept in memory if empty")
	fs.String(rpcAddrKey, "127.0.0.1:8340", "Address of the JSON-RPC and metrics server")

	fs.Int64(genesisTimestampKey, 0, "Timestamp of the genesis block")
	fs.String(genesisCoinsKey, "", "Comma separated hex coins the genesis block creates")

	fs.Int(finalizationThresholdKey, defaults.FinalizationThreshold, "Proposals the best fork needs before it is finalized")
	fs.Int(verifyWorkersKey, defaults.VerifyWorkers, "Proofs verified at once")
	fs.Uint64(minDifficultyKey, defaults.MinDifficulty, "Least work a proposal may declare")
	fs.Duration(futureBlockLimitKey, defaults.FutureBlockLimit, "How far ahead of the local clock a proposal may be")
	fs.Int(mempoolSizeKey, defaults.MempoolSize, "Transactions kept in the mempool")
	fs.Int(maxBlockTxsKey, defaults.MaxBlockTxs, "Transactions per produced proposal")
	fs.Duration(retryIntervalKey, defaults.RetryInterval, "Interval between finalization retries")

	fs.Bool(produceKey, false, "If true, produces proposals")
	fs.String(producerKeyKey, "", "Hex secp256k1 key signing produced proposals; random if empty")
	fs.Duration(blockIntervalKey, 10*time.Second, "Interval between produced proposals")

	return fs
}

// getViper returns the viper environment of the daemon. Flags take
// precedence over DARKFID_* environment variables, which take precedence
// over the config file.
func getViper(args []string) (*viper.Viper, error) {
	v := viper.New()

	fs := pflag.NewFlagSet("darkfid", pflag.ContinueOnError)
	fs.AddGoFlagSet(buildFlagSet())
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := v.BindPFlags(fs); err != nil {
		return nil, err
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if file := v.GetString(configFileKey); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("couldn't read config file %s: %w", file, err)
		}
	}
	return v, nil
}

func validatorConfig(v *viper.Viper) validator.Config {
	cfg := validator.DefaultConfig()
	cfg.FinalizationThreshold = v.GetInt(finalizationThresholdKey)
	cfg.VerifyWorkers = v.GetInt(verifyWorkersKey)
	cfg.MinDifficulty = v.GetUint64(minDifficultyKey)
	cfg.FutureBlockLimit = v.GetDuration(futureBlockLimitKey)
	cfg.MempoolSize = v.GetInt(mempoolSizeKey)
	cfg.MaxBlockTxs = v.GetInt(maxBlockTxsKey)
	cfg.RetryInterval = v.GetDuration(retryIntervalKey)
	return cfg
}
