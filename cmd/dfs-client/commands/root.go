// Package commands implements the dfs-client CLI.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/dfs/internal/client"
	"github.com/marmos91/dfs/internal/client/prompt"
	"github.com/marmos91/dfs/internal/config"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "dfs-client",
	Short: "Interactive client for the DFS distributed file system",
	Long: `dfs-client connects to a DFS name server and opens an interactive
session for VIEW, READ, WRITE, STREAM, and the rest of the client command
surface.

Use "dfs-client [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runRoot,
}

// Execute adds all child commands to the root command and runs it. Called
// once from main.main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./dfs.yaml)")
	rootCmd.AddCommand(versionCmd)
}

// GetConfigFile returns the config file path from the global flag.
func GetConfigFile() string {
	return cfgFile
}

func runRoot(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	repl := client.NewREPL(cfg.NameServer.Addr, cfg.Client, os.Stdout)

	if err := repl.Login(); err != nil {
		if prompt.IsAborted(err) {
			return nil
		}
		return err
	}

	return repl.Run()
}
