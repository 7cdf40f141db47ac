// Command classctl holds operator helpers: minting development tokens and
// applying database migrations.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"classattend/internal/config"
	"classattend/internal/identity"
	"classattend/internal/store"
)

var (
	tokenSubject  string
	tokenUsername string
	tokenRole     string
	tokenTTL      time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "classctl",
	Short: "Operator tooling for the class attendance service",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		_ = godotenv.Load()
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an HS256 bearer token signed with JWT_SIGNING_KEY",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		var group string
		switch identity.Role(tokenRole) {
		case identity.RoleProfessor:
			group = cfg.ProfessorGroup
		case identity.RoleStudent:
			group = cfg.StudentGroup
		default:
			return fmt.Errorf("unknown role %q (want professor or student)", tokenRole)
		}
		if tokenSubject == "" {
			return fmt.Errorf("--sub is required")
		}
		if cfg.JWTSigningKey == "" {
			return fmt.Errorf("JWT_SIGNING_KEY is not set")
		}
		tok, exp, err := identity.Issue(tokenSubject, tokenUsername, []string{group}, cfg.JWTIssuer, cfg.JWTSigningKey, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", exp.Format(time.RFC3339))
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations to DATABASE_URL",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		db, err := store.Open(cmd.Context(), cfg.DatabaseURL, store.DefaultPool(1))
		if err != nil {
			return err
		}
		defer db.Close()
		if err := store.Migrate(db); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "sub", "", "subject (user id)")
	tokenCmd.Flags().StringVar(&tokenUsername, "username", "", "username claim")
	tokenCmd.Flags().StringVar(&tokenRole, "role", "student", "professor or student")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "token lifetime")
	rootCmd.AddCommand(tokenCmd, migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
