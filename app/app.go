// Package app assembles the services over a chosen store.
package app

import (
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"freelancedao/config"
	"freelancedao/db"
	"freelancedao/dispute"
	"freelancedao/escrow"
	"freelancedao/eventlog"
	"freelancedao/identity"
	"freelancedao/job"
	"freelancedao/logging"
	"freelancedao/memdb"
	"freelancedao/token"
	"freelancedao/wallet"
)

// Store bundles a transaction source with the repositories that share it.
type Store struct {
	Pool       db.TxBeginner
	Accounts   identity.Repository
	Tokens     token.BalanceReader
	Wallets    wallet.Repository
	Jobs       job.Repository
	Escrow     escrow.Repository
	Governance dispute.Repository
	Events     eventlog.Repository
}

func PostgresStore(pool *pgxpool.Pool) Store {
	return Store{
		Pool:       pool,
		Accounts:   identity.NewRepository(pool),
		Tokens:     token.NewRepository(pool),
		Wallets:    wallet.NewRepository(pool),
		Jobs:       job.NewRepository(pool),
		Escrow:     escrow.NewRepository(pool),
		Governance: dispute.NewRepository(pool),
		Events:     eventlog.NewRepository(pool),
	}
}

func MemoryStore(m *memdb.DB) Store {
	return Store{
		Pool:       m,
		Accounts:   m.Accounts(),
		Tokens:     m.Tokens(),
		Wallets:    m.Wallets(),
		Jobs:       m.Jobs(),
		Escrow:     m.Escrow(),
		Governance: m.Governance(),
		Events:     m.Events(),
	}
}

// App holds every wired service.
type App struct {
	Identity *identity.Service
	Tokens   *token.Service
	Wallet   *wallet.Service
	Events   *eventlog.Service
	Escrow   *escrow.Ledger
	Jobs     *job.Service
	Disputes *dispute.Service
	Relay    *eventlog.Relay
}

type options struct {
	now       func() time.Time
	rail      escrow.Transferer
	publisher eventlog.Publisher
}

type Option func(*options)

// WithClock fixes the time source of every time-dependent service.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithRail replaces the wallet as the escrow disbursement target.
func WithRail(rail escrow.Transferer) Option {
	return func(o *options) { o.rail = rail }
}

// WithPublisher replaces the log sink of the outbox relay.
func WithPublisher(pub eventlog.Publisher) Option {
	return func(o *options) { o.publisher = pub }
}

func New(store Store, cfg *config.Config, logger *logging.Logger, opts ...Option) *App {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	identitySvc := identity.NewService(store.Accounts, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL).WithClock(o.now)
	tokenSvc := token.NewService(store.Tokens)
	walletSvc := wallet.NewService(store.Pool, store.Wallets, logger)
	events := eventlog.NewService(store.Events)

	rail := o.rail
	if rail == nil {
		rail = walletSvc
	}
	ledger := escrow.NewLedger(store.Pool, store.Escrow, rail, events, escrow.Authorities{
		Owner:       cfg.Authorities.Owner,
		Coordinator: cfg.Authorities.Coordinator,
	}, logger)

	jobs := job.NewService(store.Pool, store.Jobs, identitySvc, walletSvc, ledger, events, job.Authorities{
		Self:       cfg.Authorities.Coordinator,
		Owner:      cfg.Authorities.Owner,
		Governance: cfg.Authorities.Governance,
	}, job.WithLogger(logger))

	disputes := dispute.NewService(store.Pool, store.Governance, tokenSvc, jobs, events, dispute.Config{
		Self:          cfg.Authorities.Governance,
		QuorumPercent: cfg.Governance.QuorumPercent,
		VotingPeriod:  cfg.Governance.VotingPeriod,
	}, logger).WithClock(o.now)

	pub := o.publisher
	if pub == nil {
		pub = eventlog.LogPublisher{Log: logger.WithComponent("publisher")}
	}
	relay := eventlog.NewRelay(store.Pool, store.Events, pub, eventlog.RelayConfig{
		PollInterval: cfg.Outbox.PollInterval,
		BatchSize:    cfg.Outbox.BatchSize,
	}, logger)

	return &App{
		Identity: identitySvc,
		Tokens:   tokenSvc,
		Wallet:   walletSvc,
		Events:   events,
		Escrow:   ledger,
		Jobs:     jobs,
		Disputes: disputes,
		Relay:    relay,
	}
}
