package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/kudos-app/kudos/pkg/kudos/config"
	"github.com/kudos-app/kudos/pkg/kudos/dictionary"
	"github.com/kudos-app/kudos/pkg/kudos/identity"
	"github.com/kudos-app/kudos/pkg/kudos/store"
)

func newBootstrapCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "First-run setup commands",
	}
	cmd.AddCommand(newSeedCmd())
	cmd.AddCommand(newCreateSuperuserCmd())
	return cmd
}

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Apply the schema and seed dictionaries and system users",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := buildLogger(cmd, cfg)

			st, _, err := openSeeded(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			logger.Info("seed complete")
			return nil
		},
	}
}

func newCreateSuperuserCmd() *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "create-superuser",
		Short: "Create or reset the superadmin account",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := buildLogger(cmd, cfg)
			ctx := cmd.Context()

			st, dict, err := openSeeded(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			// Flags win over environment; interactive prompt is the fallback.
			if email == "" {
				email = cfg.SuperuserEmail
			}
			if password == "" {
				password = cfg.SuperuserPassword
			}
			if email == "" {
				email, err = promptLine("Superuser email: ")
				if err != nil {
					return err
				}
			}
			if password == "" {
				password, err = promptPassword("Superuser password: ")
				if err != nil {
					return err
				}
			}
			if email == "" || password == "" {
				return errors.New("bootstrap: superuser email and password are required")
			}

			if err := identity.EnsureSuperuser(ctx, st, dict, email, password, cfg.BcryptCost, logger); err != nil {
				return err
			}
			logger.Info("superuser ready")
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "superuser email (defaults to SUPERUSER_EMAIL)")
	cmd.Flags().StringVar(&password, "password", "", "superuser password (defaults to SUPERUSER_PASSWORD)")
	return cmd
}

// openSeeded connects, applies the schema and seeds dictionaries and
// system users. Every bootstrap path needs all of that before doing its
// own work.
func openSeeded(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*store.Store, *dictionary.Resolver, error) {
	st, err := store.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, nil, err
	}
	if err := dictionary.Seed(ctx, st.Pool(), logger); err != nil {
		st.Close()
		return nil, nil, err
	}
	dict := dictionary.NewResolver(st.Pool(), logger)
	if err := identity.SeedSystemUsers(ctx, st, dict, logger); err != nil {
		st.Close()
		return nil, nil, err
	}
	return st, dict, nil
}

func promptLine(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("bootstrap: read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// promptPassword reads without echo when stdin is a terminal.
func promptPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return promptLine(prompt)
	}
	fmt.Fprint(os.Stderr, prompt)
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("bootstrap: read password: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}
