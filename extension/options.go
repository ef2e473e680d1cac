package extension

import (
	"time"

	"github.com/xraph/usufruct"
	"github.com/xraph/usufruct/plugin"
	"github.com/xraph/usufruct/rights"
	"github.com/xraph/usufruct/store"
)

// Option configures the Usufruct Forge extension.
type Option func(*Extension)

// WithStore sets the store for the ledger engine.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithLedgerOption passes a usufruct.Option through to the underlying engine.
func WithLedgerOption(opt usufruct.Option) Option {
	return func(e *Extension) {
		e.ledgerOpts = append(e.ledgerOpts, opt)
	}
}

// WithPlugin registers a ledger plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.ledgerOpts = append(e.ledgerOpts, usufruct.WithPlugin(p))
	}
}

// WithBalanceSource installs an external custodial balance source on the
// underlying engine.
func WithBalanceSource(src rights.BalanceSource) Option {
	return func(e *Extension) {
		e.ledgerOpts = append(e.ledgerOpts, usufruct.WithBalanceSource(src))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithJournalBatchSize sets the number of journal events to buffer before flushing.
func WithJournalBatchSize(size int) Option {
	return func(e *Extension) { e.config.JournalBatchSize = size }
}

// WithJournalFlushInterval sets how frequently the journal buffer is flushed.
func WithJournalFlushInterval(d time.Duration) Option {
	return func(e *Extension) { e.config.JournalFlushInterval = d }
}
