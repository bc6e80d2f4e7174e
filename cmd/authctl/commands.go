package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ajuno-labs/codex-api/internal/common"
	"github.com/ajuno-labs/codex-api/internal/cryptox"
	"github.com/ajuno-labs/codex-api/internal/logging"
	"github.com/ajuno-labs/codex-api/internal/server"
	"github.com/ajuno-labs/codex-api/internal/server/config"
	"github.com/ajuno-labs/codex-api/internal/server/repositories/repomanager"
)

// test seams
var (
	openRepositories = server.OpenRepositories
	readPassword     = term.ReadPassword
	isTerminal       = term.IsTerminal
)

type rootOptions struct {
	configFile string
	envFile    string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "authctl",
		Short:         "Maintenance utility for the codex-api token ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "JSON config file")
	cmd.PersistentFlags().StringVar(&opts.envFile, "envfile", "", ".env file to load before reading the environment")

	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newPurgeCommand(opts))
	cmd.AddCommand(newRevokeAccountCommand(opts))
	cmd.AddCommand(newHashPasswordCommand())
	return cmd
}

func (o *rootOptions) load(ctx context.Context) (*config.Config, error) {
	var args []string
	if o.configFile != "" {
		args = append(args, "-c", o.configFile)
	}
	if o.envFile != "" {
		args = append(args, "-envfile", o.envFile)
	}
	return config.Load(ctx, args, nil)
}

func (o *rootOptions) open(ctx context.Context) (*config.Config, repomanager.RepositoryManager, error) {
	cfg, err := o.load(ctx)
	if err != nil {
		return nil, nil, err
	}
	repos, err := openRepositories(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, repos, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, repos, err := opts.open(commandContext(cmd))
			if err != nil {
				return err
			}
			defer repos.Close()

			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func newPurgeCommand(opts *rootOptions) *cobra.Command {
	var retention time.Duration

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete refresh token records that expired before now minus the retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if retention < 0 {
				return errors.New("retention must not be negative")
			}

			ctx := commandContext(cmd)
			cfg, repos, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer repos.Close()

			engine, err := server.NewTokenEngine(cfg, repos, logging.Nop{}, nil)
			if err != nil {
				return err
			}

			n, err := engine.Purge(ctx, retention)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d refresh token records\n", n)
			return nil
		},
	}

	cmd.Flags().DurationVar(&retention, "retention", 30*24*time.Hour, "Keep records that expired within this window")
	return cmd
}

func newRevokeAccountCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke-account <account-id>",
		Short: "Revoke every live refresh token of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			cfg, repos, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer repos.Close()

			engine, err := server.NewTokenEngine(cfg, repos, logging.Nop{}, nil)
			if err != nil {
				return err
			}

			n, err := engine.RevokeAccount(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "revoked %d refresh tokens\n", n)
			return nil
		},
	}
}

func newHashPasswordCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password",
		Short: "Read a password and print its argon2id hash",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := promptPassword(cmd.InOrStdin(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer common.WipeByteArray(pw)

			if len(pw) == 0 {
				return errors.New("empty password")
			}

			h, err := cryptox.NewHasher(cryptox.DefaultParams())
			if err != nil {
				return err
			}
			encoded, err := h.Hash(string(pw))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), encoded)
			return nil
		},
	}
}

// promptPassword reads without echo from a terminal, or a single line from
// any other input.
func promptPassword(in io.Reader, w io.Writer) ([]byte, error) {
	if f, ok := in.(*os.File); ok && isTerminal(int(f.Fd())) {
		fmt.Fprint(w, "Enter password: ")
		pw, err := readPassword(int(f.Fd()))
		fmt.Fprintln(w)
		return pw, err
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return []byte(strings.TrimRight(line, "\r\n")), nil
}
