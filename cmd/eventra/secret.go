package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"eventra/internal/config"

	"github.com/spf13/cobra"
)

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Manage credentials kept in the OS keyring",
}

var secretSetTelegramCmd = &cobra.Command{
	Use:   "set-telegram-token [token|-]",
	Short: "Store the Telegram bot token in the keyring (reads stdin when omitted)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSecretSetTelegram,
}

func init() {
	rootCmd.AddCommand(secretCmd)
	secretCmd.AddCommand(secretSetTelegramCmd)
}

func runSecretSetTelegram(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewConfigManager(configPath).Load()
	if err != nil {
		return err
	}

	var token string
	if len(args) == 1 && args[0] != "-" {
		token = args[0]
	} else {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return errors.New("no token on stdin")
		}
		token = line
	}
	token = strings.TrimSpace(token)

	var tc config.TelegramConfig
	if cfg.Telegram != nil {
		tc = *cfg.Telegram
	}
	if err := config.StoreTelegramToken(tc, token); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "telegram token stored")
	return nil
}
