package transaction

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fenilsonani/organizer/internal/fileerr"
	"github.com/fenilsonani/organizer/internal/logging"
	"github.com/fenilsonani/organizer/internal/progress"
	"github.com/rs/zerolog"
)

// Recorder receives move and transaction outcomes
type Recorder interface {
	Move(status string)
	Transaction(state string)
}

// Options configures a Manager
type Options struct {
	Journal *Journal
	FS      FS
	Bus     *progress.Bus
	Logger  zerolog.Logger
	// Recorder may be nil.
	Recorder Recorder
	// AbortOnPlanFailures refuses to commit a transaction holding
	// operations that failed at plan time.
	AbortOnPlanFailures bool
}

// Manager is the only component that moves files. Commit and Undo are
// mutually exclusive.
type Manager struct {
	opts   Options
	fs     FS
	logger zerolog.Logger
	busy   atomic.Bool
}

// NewManager creates a Manager writing to opts.Journal
func NewManager(opts Options) (*Manager, error) {
	if opts.Journal == nil {
		return nil, errors.New("transaction manager requires a journal")
	}
	if opts.FS == nil {
		opts.FS = OSFS{}
	}
	return &Manager{
		opts:   opts,
		fs:     opts.FS,
		logger: logging.Component(opts.Logger, "transaction"),
	}, nil
}

// Journal returns the manager's journal
func (m *Manager) Journal() *Journal {
	return m.opts.Journal
}

// Commit executes the planned moves of txn in order. Any runtime failure,
// or cancellation of ctx, stops the commit after the current move and
// rolls back every executed move in reverse order. If rollback itself
// fails the transaction ends PartiallyFailed and the returned error has
// kind PartialTransactionFailure and wraps a *RollbackError.
func (m *Manager) Commit(ctx context.Context, txn *Transaction) (Summary, error) {
	if !m.busy.CompareAndSwap(false, true) {
		return Summary{}, ErrCommitInProgress
	}
	defer m.busy.Store(false)

	if txn.State != StateBuilding {
		return txn.Summarize(), fmt.Errorf("%w: %s", ErrNotBuilding, txn.State)
	}
	if m.opts.AbortOnPlanFailures && txn.Count(StatusFailed) > 0 {
		return txn.Summarize(), fmt.Errorf("%w: %d failed", ErrPlanFailures, txn.Count(StatusFailed))
	}

	log := m.logger.With().Str("transaction", txn.ShortID()).Logger()
	log.Info().Int("moves", txn.Count(StatusPlanned)).Msg("Committing transaction")

	txn.State = StateCommitting
	wal, err := m.opts.Journal.Begin(txn)
	if err != nil {
		txn.State = StateBuilding
		return txn.Summarize(), err
	}
	defer wal.Close()

	var executed []*Operation
	var leftovers []string
	var cause error
	for _, op := range txn.Operations {
		if op.Status != StatusPlanned {
			continue
		}
		if err := ctx.Err(); err != nil {
			cause = fileerr.New(fileerr.Cancelled, "commit", op.Source, err)
			break
		}

		err := m.execute(wal, txn, op)
		if op.Status == StatusExecuted {
			executed = append(executed, op)
		}
		if err != nil {
			if stray, ok := strayPath(err); ok {
				leftovers = append(leftovers, stray)
			}
			fe := classifyMove(op.Source, err)
			if op.Status != StatusExecuted {
				op.fail(fe.Kind, err.Error())
			}
			m.opts.Bus.MoveFailed(op, fe)
			m.record(StatusFailed)
			log.Error().Err(err).Str("source", op.Source).Str("destination", op.Destination).Msg("Move failed, rolling back")
			cause = fe
			break
		}

		m.opts.Bus.MoveCommitted(op)
		m.record(StatusExecuted)
		log.Debug().Str("source", op.Source).Str("destination", op.Destination).Msg("Moved")
	}

	if cause == nil {
		txn.State = StateCommitted
	} else {
		cause = m.rollback(context.WithoutCancel(ctx), wal, txn, executed, leftovers, cause)
	}
	return m.finish(wal, txn, cause)
}

// execute performs one move, journaling it first
func (m *Manager) execute(wal *WAL, txn *Transaction, op *Operation) error {
	info, err := m.fs.Lstat(op.Source)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is now a directory", op.Source)
	}
	op.Size = info.Size()
	op.ModTime = info.ModTime()

	created, err := mkdirAll(m.fs, filepath.Dir(op.Destination))
	for _, dir := range created {
		txn.CreatedDirs = append(txn.CreatedDirs, dir)
		if jerr := wal.Append(Record{Type: RecordMkdir, Destination: dir}); jerr != nil && err == nil {
			err = jerr
		}
	}
	if err != nil {
		return err
	}

	if err := wal.Append(Record{
		Type:        RecordMove,
		Source:      op.Source,
		Destination: op.Destination,
		Size:        op.Size,
		ModTime:     op.ModTime,
	}); err != nil {
		return err
	}

	if err := move(m.fs, op.Source, op.Destination); err != nil {
		return err
	}
	op.Status = StatusExecuted
	op.Reason = ""

	return wal.Append(Record{Type: RecordDone, Source: op.Source, Destination: op.Destination})
}

// rollback restores executed moves in reverse order. Leftover copies of a
// failed move count as unresolved. It returns nil when cause is nil and
// every move was restored.
func (m *Manager) rollback(ctx context.Context, wal *WAL, txn *Transaction, executed []*Operation, leftovers []string, cause error) error {
	unresolved := append([]string(nil), leftovers...)
	for i := len(executed) - 1; i >= 0; i-- {
		op := executed[i]
		if err := ctx.Err(); err != nil {
			unresolved = append(unresolved, op.Destination)
			if cause == nil {
				cause = err
			}
			continue
		}
		if err := m.restore(op); err != nil {
			m.logger.Error().Err(err).Str("source", op.Source).Str("destination", op.Destination).Msg("Could not restore file")
			unresolved = append(unresolved, op.Destination)
			if stray, ok := strayPath(err); ok {
				unresolved = append(unresolved, stray)
			}
			continue
		}
		op.Status = StatusRolledBack
		m.record(StatusRolledBack)
		if err := wal.Append(Record{Type: RecordRestore, Source: op.Source, Destination: op.Destination}); err != nil {
			m.logger.Warn().Err(err).Msg("Could not journal restore")
		}
	}

	for i := len(txn.CreatedDirs) - 1; i >= 0; i-- {
		if err := m.fs.Remove(txn.CreatedDirs[i]); err != nil && !errors.Is(err, os.ErrNotExist) {
			m.logger.Debug().Err(err).Str("dir", txn.CreatedDirs[i]).Msg("Keeping created directory")
		}
	}

	if len(unresolved) > 0 {
		txn.State = StatePartiallyFailed
		rbErr := &RollbackError{TransactionID: txn.ID, Unresolved: unresolved, Cause: cause}
		txn.Error = rbErr.Error()
		return fileerr.New(fileerr.PartialTransactionFailure, "rollback", txn.ID, rbErr)
	}

	txn.State = StateRolledBack
	if cause == nil {
		return nil
	}
	txn.Error = cause.Error()
	return fmt.Errorf("transaction %s rolled back: %w", txn.ShortID(), cause)
}

// restore moves op's file back to its source. A file already back in
// place counts as restored.
func (m *Manager) restore(op *Operation) error {
	atDest, err := exists(m.fs, op.Destination)
	if err != nil {
		return err
	}
	if !atDest {
		if back, err := exists(m.fs, op.Source); err == nil && back {
			return nil
		}
		return fmt.Errorf("%s is missing: %w", op.Destination, os.ErrNotExist)
	}
	if _, err := mkdirAll(m.fs, filepath.Dir(op.Source)); err != nil {
		return err
	}
	return move(m.fs, op.Destination, op.Source)
}

func (m *Manager) finish(wal *WAL, txn *Transaction, cause error) (Summary, error) {
	txn.CompletedAt = time.Now()
	if err := wal.Append(Record{Type: RecordEnd, State: txn.State}); err != nil {
		m.logger.Warn().Err(err).Msg("Could not journal transaction end")
	}
	if err := m.opts.Journal.Archive(txn); err != nil {
		if cause == nil {
			cause = err
		} else {
			m.logger.Error().Err(err).Msg("Could not archive transaction")
		}
	}

	summary := txn.Summarize()
	if m.opts.Recorder != nil {
		m.opts.Recorder.Transaction(string(txn.State))
	}
	m.opts.Bus.TransactionCompleted(summary)

	ev := m.logger.Info()
	if cause != nil {
		ev = m.logger.Error().Err(cause)
	}
	ev.Str("transaction", txn.ShortID()).
		Str("state", string(txn.State)).
		Int("executed", summary.Executed).
		Int("rolled_back", summary.RolledBack).
		Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).
		Msg("Transaction finished")
	return summary, cause
}

// Undo reverses a committed transaction. It also restores the executed
// moves of an interrupted commit and retries the unresolved moves of a
// partially failed one. id may be a unique prefix.
func (m *Manager) Undo(ctx context.Context, id string) (*Transaction, error) {
	if !m.busy.CompareAndSwap(false, true) {
		return nil, ErrCommitInProgress
	}
	defer m.busy.Store(false)

	txn, err := m.opts.Journal.Load(id)
	if errors.Is(err, ErrNotFound) {
		txn, err = m.opts.Journal.Reconstruct(id, m.fs)
	}
	if err != nil {
		return nil, err
	}
	switch txn.State {
	case StateCommitted, StateCommitting, StatePartiallyFailed:
	default:
		return txn, fmt.Errorf("%w: %s is %s", ErrNotCommitted, txn.ShortID(), txn.State)
	}

	m.logger.Info().Str("transaction", txn.ShortID()).Int("moves", txn.Count(StatusExecuted)).Msg("Undoing transaction")

	wal, err := m.opts.Journal.Begin(txn)
	if err != nil {
		return txn, err
	}
	defer wal.Close()

	cause := m.rollback(ctx, wal, txn, txn.Filter(StatusExecuted), nil, nil)
	_, err = m.finish(wal, txn, cause)
	return txn, err
}

// History returns up to n archived transactions, newest first. n <= 0
// returns all of them.
func (m *Manager) History(n int) ([]*Transaction, error) {
	txns, err := m.opts.Journal.List()
	if err != nil {
		return nil, err
	}
	if n > 0 && len(txns) > n {
		txns = txns[:n]
	}
	return txns, nil
}

// Prune removes archived transactions that finished more than olderThan
// ago and returns their ids
func (m *Manager) Prune(olderThan time.Duration) ([]string, error) {
	if !m.busy.CompareAndSwap(false, true) {
		return nil, ErrCommitInProgress
	}
	defer m.busy.Store(false)

	pruned, err := m.opts.Journal.Prune(time.Now().Add(-olderThan))
	if len(pruned) > 0 {
		m.logger.Info().Int("count", len(pruned)).Dur("older_than", olderThan).Msg("Pruned transaction history")
	}
	return pruned, err
}

// Interrupted lists transactions whose commit never finished
func (m *Manager) Interrupted() ([]string, error) {
	return m.opts.Journal.Interrupted()
}

func (m *Manager) record(s Status) {
	if m.opts.Recorder != nil {
		m.opts.Recorder.Move(string(s))
	}
}

func classifyMove(path string, err error) *fileerr.Error {
	if errors.Is(err, os.ErrExist) {
		return fileerr.New(fileerr.DestinationCollisionUnresolved, "move", path, err)
	}
	return fileerr.Classify("move", path, err)
}
