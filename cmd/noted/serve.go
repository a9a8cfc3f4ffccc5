package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"notevm/internal/ledger"
	"notevm/internal/logger"
	"notevm/internal/metrics"
	"notevm/internal/prover"
	"notevm/internal/rpc"
	"notevm/internal/txexec"
)

var listenAddr string

func init() {
	serveCmd.Flags().StringVarP(&listenAddr, "listen", "l", "", "Override the listen address of the configuration")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the ledger API",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := LoadConfig(configPath)
		if err != nil {
			reportErrorf("Unable to load configuration '%s' : %v", configPath, err)
		}
		if listenAddr != "" {
			cfg.ListenAddr = listenAddr
		}
		if err := cfg.Validate(); err != nil {
			reportErrorf("Invalid configuration : %v", err)
		}
		if err := serve(cfg); err != nil {
			reportErrorf("Node stopped : %v", err)
		}
	},
}

func serve(cfg *Config) error {
	log, err := logger.New(cfg.LogLevel, nil, cfg.LogFile, cfg.auditFile())
	if err != nil {
		return err
	}
	defer log.Close()

	m := metrics.NewCollector()
	l, err := ledger.Open(cfg.LedgerPath,
		ledger.WithLogger(log.Component("ledger")),
		ledger.WithMetrics(m),
		ledger.WithCacheSize(cfg.CacheSize))
	if err != nil {
		return err
	}
	defer l.Close()

	execOpts := []txexec.Option{
		txexec.WithLogger(log.Component("executor")),
		txexec.WithMetrics(m),
		txexec.WithMaxCycles(cfg.MaxCycles),
		txexec.WithConcurrency(cfg.MaxConcurrency),
	}
	if cfg.AllowUnauthenticatedNotes {
		execOpts = append(execOpts, txexec.WithUnauthenticatedNotes())
	}

	opts := []rpc.Option{
		rpc.WithLogger(log.Component("api")),
		rpc.WithMetrics(m),
		rpc.WithExecutor(txexec.NewExecutor(l, execOpts...)),
		rpc.WithRequestTimeout(cfg.Timeout()),
		rpc.WithVersion(version),
	}
	if cfg.EnableProvisioning {
		log.Warn().Msg("account and note provisioning is enabled")
		opts = append(opts, rpc.WithProvisioning())
	}
	if cfg.RateLimit > 0 {
		opts = append(opts, rpc.WithRateLimit(cfg.Limit(), cfg.RateBurst))
	}
	if cfg.EnableProver {
		log.Info().Str("key_dir", cfg.KeyDir).Msg("preparing prover")
		p, err := prover.NewLocalProver(
			prover.WithLogger(log.Component("prover")),
			prover.WithMetrics(m),
			prover.WithKeyDir(cfg.KeyDir))
		if err != nil {
			return err
		}
		opts = append(opts, rpc.WithProver(p))
	}

	stop, failed, err := rpc.NewServer(l, opts...).Start(cfg.ListenAddr)
	if err != nil {
		return err
	}
	log.Audit("node_started", map[string]interface{}{
		"listen_addr":  cfg.ListenAddr,
		"height":       l.Height(),
		"prover":       cfg.EnableProver,
		"provisioning": cfg.EnableProvisioning,
	})

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)
	select {
	case received := <-sig:
		log.Info().Stringer("signal", received).Msg("shutting down")
		stop()
	case err = <-failed:
		err = errors.Wrap(err, "api server")
	}
	log.Audit("node_stopped", map[string]interface{}{"height": l.Height()})
	return err
}
