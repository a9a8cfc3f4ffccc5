// main.go - Node for note based conditional transfers.
//
// noted keeps a LevelDB ledger of accounts and notes and serves it over an HTTP API. Clients
// submit transaction requests that consume notes into an account; the node evaluates every
// note script on the stack machine, proves the hash gated ones with Groth16 and commits the
// resulting account delta.
//
// Usage:
//
//	noted serve --config noted.json
//	noted demo
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var configPath string

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "noted.json", "Path of the JSON configuration, created with defaults when missing")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(demoCmd)
}

var rootCmd = &cobra.Command{
	Use:     "noted",
	Short:   "Ledger node evaluating note scripts against accounts",
	Version: version,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.HelpFunc()(cmd, args)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func reportErrorf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
