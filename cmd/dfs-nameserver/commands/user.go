package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/dfs/internal/auth"
	"github.com/marmos91/dfs/internal/client/prompt"
	"github.com/marmos91/dfs/internal/config"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage name server credentials",
}

var userAddCmd = &cobra.Command{
	Use:   "add <username>",
	Short: "Add a user to the credential file",
	Args:  cobra.ExactArgs(1),
	RunE:  runUserAdd,
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known users",
	RunE:  runUserList,
}

func init() {
	userCmd.AddCommand(userAddCmd)
	userCmd.AddCommand(userListCmd)
}

func runUserAdd(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	pass, err := prompt.Password("Password")
	if err != nil {
		return err
	}

	if err := auth.AddUser(cfg.NameServer.UsersFile, args[0], pass); err != nil {
		return fmt.Errorf("failed to add user: %w", err)
	}

	fmt.Printf("User %q added to %s\n", args[0], cfg.NameServer.UsersFile)
	return nil
}

func runUserList(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	store, err := auth.NewFlatFileStore(cfg.NameServer.UsersFile)
	if err != nil {
		return fmt.Errorf("failed to load users file: %w", err)
	}
	defer store.Close()

	for _, u := range store.List() {
		fmt.Println(u)
	}
	return nil
}
