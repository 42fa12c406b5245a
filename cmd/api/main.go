package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"freelancedao/app"
	"freelancedao/config"
	"freelancedao/db"
	"freelancedao/logging"
	"freelancedao/memdb"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  *logging.Logger
)

var rootCmd = &cobra.Command{
	Use:   "freelancedao",
	Short: "Escrowed freelance job marketplace with token-holder dispute arbitration",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded
		logger = logging.NewLogger(os.Stderr, cfg.Logging.Level)
		return nil
	},
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the outbox relay",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		pool, err := db.NewPool(cmd.Context(), cfg.Database.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := db.Migrate(cmd.Context(), pool); err != nil {
			return err
		}
		logger.Info("migrations applied")
		return nil
	},
}

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Manage registry accounts",
}

var verifyRevoke bool

var accountsVerifyCmd = &cobra.Command{
	Use:   "verify <account>",
	Short: "Mark an account as verified, or revoke it with --revoke",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, closeStore, err := openPostgres(cmd.Context())
		if err != nil {
			return err
		}
		defer closeStore()
		acct, err := a.Identity.SetVerified(cmd.Context(), args[0], !verifyRevoke)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s role=%s verified=%t\n", acct.Address, acct.Role, acct.Verified)
		return nil
	},
}

var walletCmd = &cobra.Command{
	Use:   "wallet",
	Short: "Operate account wallets",
}

var walletFundCmd = &cobra.Command{
	Use:   "fund <account> <amount>",
	Short: "Credit an account wallet in base units",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid amount %q: %w", args[1], err)
		}
		a, closeStore, err := openPostgres(cmd.Context())
		if err != nil {
			return err
		}
		defer closeStore()
		b, err := a.Wallet.Fund(cmd.Context(), args[0], amount)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s balance=%d\n", b.Account, b.Amount)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (YAML)")

	accountsVerifyCmd.Flags().BoolVar(&verifyRevoke, "revoke", false, "clear the verified flag instead")
	accountsCmd.AddCommand(accountsVerifyCmd)
	walletCmd.AddCommand(walletFundCmd)

	rootCmd.AddCommand(serveCmd, migrateCmd, accountsCmd, walletCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func openPostgres(ctx context.Context) (*app.App, func(), error) {
	pool, err := db.NewPool(ctx, cfg.Database.URL)
	if err != nil {
		return nil, nil, err
	}
	return app.New(app.PostgresStore(pool), cfg, logger), pool.Close, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	var (
		a     *app.App
		store Pinger
	)
	switch cfg.Store {
	case config.StoreMemory:
		m := memdb.New()
		a, store = app.New(app.MemoryStore(m), cfg, logger), m
		logger.Warn("using in-memory store; state is lost on exit")
	default:
		pool, err := db.NewPool(ctx, cfg.Database.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		a, store = app.New(app.PostgresStore(pool), cfg, logger), pool
	}

	srv := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: NewServer(a, store, logger).Routes(),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http listening", "addr", cfg.HTTP.Addr, "store", cfg.Store)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return a.Relay.Run(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
