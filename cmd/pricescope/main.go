package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"pricescope/internal/chain"
	"pricescope/internal/config"
	"pricescope/internal/convert"
	"pricescope/internal/netconf"
	"pricescope/internal/pricer"
	"pricescope/internal/storage"
	"pricescope/internal/storage/postgres"
)

func main() {
	root := &cobra.Command{
		Use:          "pricescope",
		Short:        "On-chain token price resolver",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")
	root.PersistentFlags().String("rpc", "", "node RPC URL")
	root.PersistentFlags().Uint64("chain-id", 0, "chain id (0 means ask the node)")
	root.PersistentFlags().Uint64("block", 0, "block number (0 means latest)")
	root.PersistentFlags().Int("concurrency", 8, "max concurrent price lookups")
	root.PersistentFlags().String("snapshot", "./data/pools.jsonl", "pool snapshot JSONL path")
	root.PersistentFlags().String("pg-dsn", "", "optional Postgres DSN for pool snapshots")
	root.PersistentFlags().Int("max-retries", 5, "maximum retry attempts")
	root.PersistentFlags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	priceCmd := &cobra.Command{
		Use:   "price [token...]",
		Short: "Resolve token prices in USD",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runPrice,
	}
	priceCmd.Flags().Bool("strict", false, "fail on unpriceable tokens instead of printing null")

	bucketCmd := &cobra.Command{
		Use:   "bucket [token...]",
		Short: "Show which pricing bucket each token classifies into",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runBucket,
	}

	syncCmd := &cobra.Command{
		Use:   "sync-pools",
		Short: "Discover constant-product pools and persist the snapshot",
		RunE:  runSyncPools,
	}

	root.AddCommand(priceCmd, bucketCmd, syncCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

type env struct {
	cfg    config.Config
	logger *zap.Logger
	client *chain.Client
	book   *netconf.Book
	pricer *pricer.Pricer
	store  storage.Store
	closer func()
}

func setup(cmd *cobra.Command) (*env, context.Context, context.CancelFunc, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, nil, nil, err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	client, err := chain.NewClient(ctx, cfg.RPCURL, cfg.MaxRetries, cfg.RetryBackoff)
	if err != nil {
		stop()
		return nil, nil, nil, fmt.Errorf("connect rpc: %w", err)
	}

	chainID := cfg.ChainID
	if chainID == 0 {
		id, err := client.ChainID(ctx)
		if err != nil {
			client.Close()
			stop()
			return nil, nil, nil, fmt.Errorf("fetch chain id: %w", err)
		}
		chainID = id.Uint64()
	}
	book := netconf.ForChain(chainID)

	var store storage.Store
	closer := func() {}
	if cfg.PGDSN != "" {
		pg, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			client.Close()
			stop()
			return nil, nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		store = pg
		closer = pg.Close
	} else {
		store = storage.NewJsonlStore(cfg.Snapshot)
	}

	p := pricer.New(book, client, cfg.Concurrency, logger)
	if pools, err := store.LoadPools(ctx, chainID); err != nil {
		logger.Warn("pool snapshot unavailable", zap.Error(err))
	} else if len(pools) > 0 {
		p.Uniswap().SeedPools(pools)
		logger.Info("pool snapshot loaded", zap.Int("pools", len(pools)))
	}

	e := &env{
		cfg:    cfg,
		logger: logger,
		client: client,
		book:   book,
		pricer: p,
		store:  store,
		closer: closer,
	}
	return e, ctx, stop, nil
}

func (e *env) close() {
	e.closer()
	e.client.Close()
	e.logger.Sync()
}

func blockArg(cfg config.Config) *big.Int {
	if cfg.Block == 0 {
		return nil
	}
	return new(big.Int).SetUint64(cfg.Block)
}

func runPrice(cmd *cobra.Command, args []string) error {
	e, ctx, stop, err := setup(cmd)
	if err != nil {
		return err
	}
	defer stop()
	defer e.close()

	policy := pricer.Lenient
	if strict, _ := cmd.Flags().GetBool("strict"); strict {
		policy = pricer.Strict
	}

	tokenLikes := make([]any, len(args))
	for i, arg := range args {
		tokenLikes[i] = arg
	}

	prices, err := e.pricer.GetPrices(ctx, tokenLikes, blockArg(e.cfg), policy)
	if err != nil {
		return err
	}

	out := make(map[string]*float64, len(args))
	for i, arg := range args {
		out[arg] = prices[i]
	}
	return printJSON(out)
}

func runBucket(cmd *cobra.Command, args []string) error {
	e, ctx, stop, err := setup(cmd)
	if err != nil {
		return err
	}
	defer stop()
	defer e.close()

	out := make(map[string]string, len(args))
	for _, arg := range args {
		tok, err := convert.ToAddress(arg)
		if err != nil {
			return err
		}
		tag, err := e.pricer.Classifier().Check(ctx, tok)
		if err != nil {
			return err
		}
		out[arg] = string(tag)
	}
	return printJSON(out)
}

func runSyncPools(cmd *cobra.Command, args []string) error {
	e, ctx, stop, err := setup(cmd)
	if err != nil {
		return err
	}
	defer stop()
	defer e.close()

	pools, err := e.pricer.Uniswap().Pools(ctx)
	if err != nil {
		return err
	}
	if err := e.store.UpsertPools(ctx, pools); err != nil {
		return err
	}
	e.logger.Info("pool snapshot written", zap.Int("pools", len(pools)))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
