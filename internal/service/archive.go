package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"vault-riskbot/internal/metrics"
	"vault-riskbot/internal/scheduler"
	"vault-riskbot/internal/storage"
	"vault-riskbot/internal/vault"
)

const defaultArchiveBatch = 500

// ArchiverOptions tune the history archiver.
type ArchiverOptions struct {
	// LockKey is the Postgres advisory lock guarding a sweep; zero disables locking.
	LockKey   int64
	BatchSize int
}

// ArchiveResult summarises one window sweep.
type ArchiveResult struct {
	Vaults   int
	Entries  int
	Inserted int64
	Skipped  bool
}

// Archiver copies Redis history entries into the archive database, where the
// event id collapses duplicates left by at-least-once delivery.
type Archiver struct {
	reader    storage.MetricsReader
	writer    storage.ArchiveWriter
	locker    storage.AdvisoryLocker
	scheduler *scheduler.Scheduler
	opts      ArchiverOptions
	logger    zerolog.Logger
}

// NewArchiver constructs an Archiver. The scheduler may be nil when only
// ArchiveWindow is used.
func NewArchiver(opts ArchiverOptions, reader storage.MetricsReader, writer storage.ArchiveWriter, sched *scheduler.Scheduler, logger zerolog.Logger) *Archiver {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultArchiveBatch
	}

	var locker storage.AdvisoryLocker
	if l, ok := writer.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Archiver{
		reader:    reader,
		writer:    writer,
		locker:    locker,
		scheduler: sched,
		opts:      opts,
		logger:    logger.With().Str("component", "archiver").Logger(),
	}
}

// Run archives a trailing window on every scheduler tick until ctx is cancelled.
func (a *Archiver) Run(ctx context.Context) error {
	if a.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return a.scheduler.Run(ctx, func(ctx context.Context, from, to time.Time) error {
		_, err := a.ArchiveWindow(ctx, from, to)
		return err
	})
}

// ArchiveWindow copies every history entry scored in [from, to). Failures on
// one vault do not stop the sweep; they are joined into the returned error.
func (a *Archiver) ArchiveWindow(ctx context.Context, from, to time.Time) (ArchiveResult, error) {
	var result ArchiveResult
	if !from.Before(to) {
		return result, fmt.Errorf("archive window [%s, %s) is empty", from.Format(time.RFC3339), to.Format(time.RFC3339))
	}

	unlock, proceed, err := a.acquireLock(ctx)
	if err != nil {
		return result, err
	}
	if !proceed {
		a.logger.Debug().Time("from", from).Time("to", to).Msg("skip window because advisory lock held elsewhere")
		result.Skipped = true
		return result, nil
	}
	if unlock != nil {
		defer unlock()
	}

	var errs []error
	scanErr := a.reader.ScanHistoryKeys(ctx, func(id vault.Identity) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		result.Vaults++
		entries, inserted, err := a.archiveVault(ctx, id, from, to)
		result.Entries += entries
		result.Inserted += inserted
		if err != nil {
			a.logger.Error().Err(err).Str("network", id.Network).Str("vault_id", id.VaultID).Msg("archive vault failed")
			errs = append(errs, err)
		}
		return nil
	})
	if scanErr != nil {
		errs = append(errs, scanErr)
	}

	a.logger.Info().
		Time("from", from).
		Time("to", to).
		Int("vaults", result.Vaults).
		Int("entries", result.Entries).
		Int64("inserted", result.Inserted).
		Msg("archive window complete")
	return result, errors.Join(errs...)
}

func (a *Archiver) archiveVault(ctx context.Context, id vault.Identity, from, to time.Time) (int, int64, error) {
	entries, err := a.reader.History(ctx, id.Network, id.VaultID, from, to, 0)
	if err != nil {
		return 0, 0, fmt.Errorf("read history %s/%s: %w", id.Network, id.VaultID, err)
	}

	var inserted int64
	for start := 0; start < len(entries); start += a.opts.BatchSize {
		end := min(start+a.opts.BatchSize, len(entries))
		rows := make([]storage.ArchivedMetrics, 0, end-start)
		for _, entry := range entries[start:end] {
			rows = append(rows, storage.ArchivedFromEntry(entry))
		}

		n, err := a.writer.InsertArchived(ctx, rows)
		inserted += n
		metrics.ArchiveRows.WithLabelValues("inserted").Add(float64(n))
		if err != nil {
			return len(entries), inserted, fmt.Errorf("archive %s/%s: %w", id.Network, id.VaultID, err)
		}
		metrics.ArchiveRows.WithLabelValues("duplicate").Add(float64(int64(len(rows)) - n))
	}
	return len(entries), inserted, nil
}

func (a *Archiver) acquireLock(ctx context.Context) (func(), bool, error) {
	if a.opts.LockKey == 0 || a.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := a.locker.TryAdvisoryLock(ctx, a.opts.LockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
