package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"notevm/internal/account"
	"notevm/internal/client"
	"notevm/internal/field"
	"notevm/internal/ledger"
	"notevm/internal/logger"
	"notevm/internal/metrics"
	"notevm/internal/prover"
	"notevm/internal/stdnotes"
	"notevm/internal/txexec"
	"notevm/internal/wallet"
)

var (
	demoProve     bool
	demoWalletDir string
)

func init() {
	demoCmd.Flags().BoolVarP(&demoProve, "prove", "p", true, "Prove hash gated notes with Groth16")
	demoCmd.Flags().StringVarP(&demoWalletDir, "wallet-dir", "w", "", "Save the demo wallet in this directory")
}

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run an in-memory hash gate scenario",
	Long:  "Creates an account, sends it a hash gated note and a pay-to-id note, consumes both and then tries a note locked with another secret.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		log, err := logger.New("info", nil, "", "")
		if err != nil {
			reportErrorf("Unable to create logger : %v", err)
		}
		defer log.Close()
		if err := runDemo(cmd.Context(), log.Logger, demoProve, demoWalletDir); err != nil {
			reportErrorf("Demo failed : %v", err)
		}
	},
}

func runDemo(ctx context.Context, log zerolog.Logger, prove bool, walletDir string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	m := metrics.NewCollector()
	l, err := ledger.OpenMemory(ledger.WithLogger(log), ledger.WithMetrics(m))
	if err != nil {
		return err
	}
	defer l.Close()

	faucet := account.NewID(field.NewWord(100, 0, 0, 0))
	aliceID, err := account.RandomID()
	if err != nil {
		return err
	}
	alice, err := account.New(aliceID, stdnotes.BasicWalletCode(), nil)
	if err != nil {
		return err
	}
	if err := l.CreateAccount(alice); err != nil {
		return err
	}

	secret := field.NewWord(1, 2, 3, 4)
	w := wallet.New("alice", aliceID)
	gated, err := stdnotes.NewHashGateNote(faucet, secret, field.NewWord(1, 0, 0, 0), mustAsset(faucet, 50))
	if err != nil {
		return err
	}
	paid, err := stdnotes.NewP2IDNote(faucet, aliceID, field.NewWord(2, 0, 0, 0), mustAsset(faucet, 25))
	if err != nil {
		return err
	}
	locked, err := stdnotes.NewHashGateNote(faucet, field.NewWord(9, 9, 9, 9), field.NewWord(3, 0, 0, 0), mustAsset(faucet, 10))
	if err != nil {
		return err
	}
	for _, in := range []txexec.InputNote{{Note: gated, Args: secret}, {Note: paid}, {Note: locked, Args: secret}} {
		if err := l.AddNote(in.Note); err != nil {
			return err
		}
		if err := w.AddNote(in.Note, in.Args); err != nil {
			return err
		}
	}

	opts := []client.Option{
		client.WithWallet(w),
		client.WithLogger(log),
		client.WithExecutor(txexec.NewExecutor(l, txexec.WithLogger(log), txexec.WithMetrics(m))),
	}
	if prove {
		log.Info().Msg("compiling circuit and running setup")
		p, err := prover.NewLocalProver(prover.WithLogger(log), prover.WithMetrics(m))
		if err != nil {
			return err
		}
		opts = append(opts, client.WithProver(p))
	}
	c := client.New(l, opts...)

	res := c.ConsumeNotes(ctx, gated.ID(), paid.ID())
	if res.Status != client.Committed {
		return errors.Wrap(res.Err, "consuming notes")
	}
	proofs := 0
	if res.Proof != nil {
		proofs = len(res.Proof.Proofs)
	}
	state, err := l.GetAccountState(aliceID)
	if err != nil {
		return err
	}
	log.Info().
		Str("tx", res.Record.ID.String()).
		Uint32("height", res.Record.Height).
		Int("proofs", proofs).
		Uint64("balance", state.Vault.Balance(faucet)).
		Uint64("nonce", state.Nonce).
		Msg("notes consumed")

	res = c.ConsumeNote(ctx, locked.ID())
	var txErr *txexec.Error
	if res.Status != client.Failed || !errors.As(res.Err, &txErr) {
		return errors.Errorf("note locked with another secret was not rejected: %v", res.Status)
	}
	tag, _ := txErr.AssertionTag()
	log.Info().Str("assertion", tag).Stringer("state", txErr.State).Msg("locked note rejected")

	if _, err := c.Refresh(); err != nil {
		return err
	}
	if walletDir != "" {
		if err := os.MkdirAll(walletDir, 0755); err != nil {
			return err
		}
		path := filepath.Join(walletDir, w.Name+"_wallet.json")
		if err := w.Save(path); err != nil {
			return err
		}
		log.Info().Str("path", path).Msg("wallet saved")
	}

	summary, err := m.Summary()
	if err != nil {
		return err
	}
	fields := make(map[string]interface{}, len(summary))
	for k, v := range summary {
		fields[k] = v
	}
	log.Info().Fields(fields).Msg("metrics")
	return nil
}

func mustAsset(issuer account.ID, amount uint64) account.FungibleAsset {
	a, err := account.NewFungibleAsset(issuer, amount)
	if err != nil {
		panic(err)
	}
	return a
}
