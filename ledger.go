package usufruct

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/xraph/usufruct/id"
	"github.com/xraph/usufruct/journal"
	"github.com/xraph/usufruct/plugin"
	"github.com/xraph/usufruct/rights"
	"github.com/xraph/usufruct/store"
	"github.com/xraph/usufruct/types"
)

// Ledger is the delegated usage-rights engine. It owns the allowance,
// frozen and usage mappings exclusively: every change to them goes
// through Delegate, and the custody side consults GuardTransfer before
// any balance-reducing move.
type Ledger struct {
	store   store.Store
	plugins *plugin.Registry
	logger  *slog.Logger
	source  rights.BalanceSource

	// mu serializes ledger state. Mutations hold the write side across
	// their whole read-compute-write span; queries and the transfer
	// guard hold the read side. Helpers that assume the lock is held
	// say so and never lock themselves.
	mu sync.RWMutex

	// Background workers
	journalBuffer chan *journal.Event
	stopChan      chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup

	// Configuration
	journalBatchSize     int
	journalFlushInterval time.Duration
	skipMigrate          bool
}

// New creates a new Ledger instance backed by s.
func New(s store.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:                s,
		plugins:              plugin.NewRegistry(),
		logger:               slog.Default(),
		journalBuffer:        make(chan *journal.Event, 10000),
		stopChan:             make(chan struct{}),
		journalBatchSize:     100,
		journalFlushInterval: 5 * time.Second,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Option configures a Ledger instance.
type Option func(*Ledger)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
		l.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(l *Ledger) {
		_ = l.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithJournalConfig configures journal batching parameters.
func WithJournalConfig(batchSize int, flushInterval time.Duration) Option {
	return func(l *Ledger) {
		l.journalBatchSize = batchSize
		l.journalFlushInterval = flushInterval
	}
}

// WithBalanceSource installs an external custodial balance source. When
// set, delegation and guard checks read balances from it instead of the
// store's own holdings, and the built-in custody operations stop being
// the basis for those checks.
func WithBalanceSource(src rights.BalanceSource) Option {
	return func(l *Ledger) {
		l.source = src
	}
}

// WithoutMigrate skips store migration during Start. Use when schema
// management happens outside the ledger.
func WithoutMigrate() Option {
	return func(l *Ledger) {
		l.skipMigrate = true
	}
}

// Start migrates the store, initializes plugins and begins background
// workers.
func (l *Ledger) Start(ctx context.Context) error {
	// Migrate database
	if !l.skipMigrate {
		if err := l.store.Migrate(ctx); err != nil {
			return err
		}
	}

	// Initialize plugins
	l.plugins.EmitInit(ctx, l)

	// Start journal flush worker
	l.wg.Add(1)
	go l.journalFlushWorker(ctx)

	l.logger.Info("ledger started",
		"batch_size", l.journalBatchSize,
		"flush_interval", l.journalFlushInterval,
	)

	return nil
}

// Stop drains the journal, shuts down plugins and closes the store.
// Calling Stop more than once is safe; later calls return nil.
func (l *Ledger) Stop() error {
	var err error
	l.stopOnce.Do(func() {
		close(l.stopChan)
		l.wg.Wait()

		ctx := context.Background()
		l.plugins.EmitShutdown(ctx)

		err = l.store.Close()
	})
	return err
}

// SupportsCapability reports whether this ledger provides the named
// behavior. The delegated-use capability is always supported; anything
// else is deferred to the balance source when one is installed, and
// otherwise answered for the built-in custody ledger.
func (l *Ledger) SupportsCapability(cap rights.Capability) bool {
	if cap == rights.CapabilityDelegatedUse {
		return true
	}
	if l.source != nil {
		if r, ok := l.source.(rights.CapabilityReporter); ok {
			return r.SupportsCapability(cap)
		}
		return false
	}
	return cap == rights.CapabilityMultiClassCustody
}

// ──────────────────────────────────────────────────
// Journal
// ──────────────────────────────────────────────────

// Record enqueues a journal event (non-blocking). The ID and timestamp
// are filled in when absent. Returns ErrJournalFull when the buffer has
// no room and ErrJournalClosed after Stop.
func (l *Ledger) Record(_ context.Context, event *journal.Event) error {
	if event == nil || event.Kind == "" {
		return fmt.Errorf("%w: journal event needs a kind", ErrInvalidInput)
	}
	if event.ID.IsNil() {
		event.ID = id.NewEventID()
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	select {
	case <-l.stopChan:
		return ErrJournalClosed
	default:
	}

	select {
	case l.journalBuffer <- event:
		return nil
	default:
		return ErrJournalFull
	}
}

// QueryEvents reads journal events from the store. Events still sitting
// in the flush buffer are not visible until the worker writes them.
func (l *Ledger) QueryEvents(ctx context.Context, opts journal.QueryOpts) ([]*journal.Event, error) {
	return l.store.QueryEvents(ctx, opts)
}

// PruneEvents deletes journal events older than before and returns how
// many were removed.
func (l *Ledger) PruneEvents(ctx context.Context, before time.Time) (int64, error) {
	return l.store.PruneEvents(ctx, before)
}

// record enqueues an advisory event produced by a ledger operation. The
// operation itself has already succeeded; a full buffer only costs the
// journal entry.
func (l *Ledger) record(ctx context.Context, event *journal.Event) {
	if err := l.Record(ctx, event); err != nil {
		l.logger.Warn("journal event dropped",
			"kind", event.Kind,
			"class", event.Class,
			"error", err,
		)
	}
}

// journalFlushWorker flushes buffered events to the store.
func (l *Ledger) journalFlushWorker(ctx context.Context) {
	defer l.wg.Done()

	batch := make([]*journal.Event, 0, l.journalBatchSize)
	ticker := time.NewTicker(l.journalFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopChan:
			// Drain the buffer, then final flush.
			for {
				select {
				case event := <-l.journalBuffer:
					batch = append(batch, event)
				default:
					if len(batch) > 0 {
						l.flushJournalBatch(ctx, batch)
					}
					return
				}
			}

		case event := <-l.journalBuffer:
			batch = append(batch, event)
			if len(batch) >= l.journalBatchSize {
				l.flushJournalBatch(ctx, batch)
				batch = make([]*journal.Event, 0, l.journalBatchSize)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				l.flushJournalBatch(ctx, batch)
				batch = make([]*journal.Event, 0, l.journalBatchSize)
			}
		}
	}
}

func (l *Ledger) flushJournalBatch(ctx context.Context, batch []*journal.Event) {
	start := time.Now()

	if err := l.store.AppendEvents(ctx, batch); err != nil {
		l.logger.Error("failed to flush journal batch",
			"error", err,
			"batch_size", len(batch),
		)
		return
	}

	elapsed := time.Since(start)
	l.plugins.EmitJournalFlushed(ctx, len(batch), elapsed)

	l.logger.Debug("flushed journal batch",
		"batch_size", len(batch),
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// ──────────────────────────────────────────────────
// Operator context
// ──────────────────────────────────────────────────

type operatorKey struct{}

// WithOperator returns a context attributing subsequent ledger calls to
// the given operator address. Delegation and movement events carry it.
func WithOperator(ctx context.Context, operator types.Address) context.Context {
	return context.WithValue(ctx, operatorKey{}, operator)
}

// OperatorFromContext extracts the operator set by WithOperator.
func OperatorFromContext(ctx context.Context) (types.Address, bool) {
	op, ok := ctx.Value(operatorKey{}).(types.Address)
	if !ok || op.IsZero() {
		return types.ZeroAddress, false
	}
	return op, true
}

// operatorOr returns the context operator, falling back to the account
// acting for itself.
func operatorOr(ctx context.Context, fallback types.Address) types.Address {
	if op, ok := OperatorFromContext(ctx); ok {
		return op
	}
	return fallback
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// custodialBalance reads the balance backing delegations for one owner.
// Callers hold at least the read side of the engine lock.
func (l *Ledger) custodialBalance(ctx context.Context, class types.ClassID, owner types.Address) (*uint256.Int, error) {
	if l.source != nil {
		b, err := l.source.CustodialBalance(ctx, class, owner)
		if err != nil {
			return nil, err
		}
		return types.CopyUnits(b), nil
	}
	return l.store.Holding(ctx, class, owner)
}

// available computes balance minus frozen for one owner with checked
// subtraction. Callers hold at least the read side of the engine lock.
func (l *Ledger) available(ctx context.Context, class types.ClassID, owner types.Address) (*uint256.Int, error) {
	balance, err := l.custodialBalance(ctx, class, owner)
	if err != nil {
		return nil, err
	}
	frozen, err := l.store.Frozen(ctx, class, owner)
	if err != nil {
		return nil, err
	}

	avail, underflow := new(uint256.Int).SubOverflow(balance, frozen)
	if underflow {
		return nil, fmt.Errorf("%w: frozen %s exceeds balance %s for owner %s in class %s",
			ErrInconsistentState, frozen.Dec(), balance.Dec(), owner, class)
	}
	return avail, nil
}
