package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ManuScriptHub/Neon-RAG/internal/auth"
	"github.com/ManuScriptHub/Neon-RAG/internal/config"
)

var tokenExpiry time.Duration

var tokenCmd = &cobra.Command{
	Use:   "token [user-id]",
	Short: "Issue an API bearer token",
	Long:  `Signs a JWT for the given user with JWT_SECRET.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runToken,
}

func init() {
	tokenCmd.Flags().DurationVar(&tokenExpiry, "expiry", 0, "token lifetime (default: JWT_EXPIRY)")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET is not set")
	}

	jwtCfg := auth.DefaultJWTConfig(cfg.JWTSecret)
	jwtCfg.Expiry = cfg.JWTExpiry
	manager := auth.NewJWTManager(jwtCfg)

	expiry := tokenExpiry
	if expiry <= 0 {
		expiry = jwtCfg.Expiry
	}
	token, err := manager.GenerateTokenWithExpiry(args[0], expiry)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
