package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang-wa-dispatch/internal/domain"
	"golang-wa-dispatch/internal/ports"
)

// DefaultLockWait bounds how long a run waits for the run lock before
// giving up. Acquisition does not queue beyond this.
const DefaultLockWait = 5 * time.Second

// DispatchEngine orchestrates one rate-limited broadcast over a recipient
// batch: acquire the run lock, iterate the batch strictly in order,
// normalize each phone, send through the gateway, record the outcome, and
// pace between calls. A single recipient's failure never aborts the batch.
type DispatchEngine struct {
	source  ports.RecipientSource
	gateway ports.MessageGateway
	logbook ports.OutcomeLog
	lock    ports.RunLock
	pacer   ports.Pacer
	log     *slog.Logger

	lockWait time.Duration
}

// NewDispatchEngine wires the engine with its collaborators.
func NewDispatchEngine(
	source ports.RecipientSource,
	gateway ports.MessageGateway,
	logbook ports.OutcomeLog,
	lock ports.RunLock,
	pacer ports.Pacer,
	log *slog.Logger,
) *DispatchEngine {
	return &DispatchEngine{
		source:   source,
		gateway:  gateway,
		logbook:  logbook,
		lock:     lock,
		pacer:    pacer,
		log:      log,
		lockWait: DefaultLockWait,
	}
}

// SetLockWait overrides the bounded lock-acquisition wait.
func (e *DispatchEngine) SetLockWait(d time.Duration) { e.lockWait = d }

// Run executes one dispatch run to completion. It returns
// domain.ErrLockHeld when another run is in flight (nothing is touched in
// that case), a configuration error before any send, and nil once the
// batch has been iterated — per-recipient failures surface only through
// the outcome log.
func (e *DispatchEngine) Run(ctx context.Context, run domain.RunContext) error {
	release, err := e.acquire(ctx, run)
	if err != nil {
		return err
	}
	return e.runLocked(ctx, run, release)
}

// Start acquires the run lock synchronously and, once granted, iterates
// the batch in the background. Callers learn about lock contention right
// away; everything after acquisition surfaces only through the outcome
// log and the engine's own logging.
func (e *DispatchEngine) Start(ctx context.Context, run domain.RunContext) error {
	release, err := e.acquire(ctx, run)
	if err != nil {
		return err
	}
	go func() {
		// The batch outlives whatever request triggered it.
		bg := context.WithoutCancel(ctx)
		if runErr := e.runLocked(bg, run, release); runErr != nil {
			e.log.Error("dispatch run failed", "run_id", run.RunID, "err", runErr)
		}
	}()
	return nil
}

// acquire takes the run lock with the bounded wait and returns the
// matching release func. Nothing is touched when the lock is denied.
func (e *DispatchEngine) acquire(ctx context.Context, run domain.RunContext) (func(), error) {
	ok, err := e.lock.TryAcquire(ctx, e.lockWait)
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		e.log.Warn("dispatch run already in progress, skipping", "run_id", run.RunID)
		return nil, domain.ErrLockHeld
	}
	release := func() {
		// The lock must be freed on every exit path, even when ctx is
		// already cancelled.
		if relErr := e.lock.Release(context.WithoutCancel(ctx)); relErr != nil {
			e.log.Error("release run lock", "run_id", run.RunID, "err", relErr)
		}
	}
	return release, nil
}

func (e *DispatchEngine) runLocked(ctx context.Context, run domain.RunContext, release func()) error {
	defer release()

	rows, err := e.resolveBatch(ctx, run)
	if err != nil {
		return err
	}

	e.log.Info("dispatch started",
		"run_id", run.RunID, "label", run.RunLabel, "recipients", len(rows))

	start := time.Now()
	var sent, failed, skipped int
	for _, row := range rows {
		switch e.dispatchOne(ctx, run, row) {
		case domain.DispositionSent:
			sent++
		case domain.DispositionFailed:
			failed++
		case domain.DispositionSkipped:
			skipped++
		}
	}

	e.log.Info("dispatch finished",
		"run_id", run.RunID,
		"sent", sent, "failed", failed, "skipped", skipped,
		"dur", time.Since(start))
	return nil
}

// resolveBatch validates the run configuration and loads the recipient
// batch. Any failure here aborts before a single recipient is touched.
func (e *DispatchEngine) resolveBatch(ctx context.Context, run domain.RunContext) ([]domain.RecipientRow, error) {
	if e.source == nil {
		return nil, domain.ErrNoRecipientSource
	}
	if e.logbook == nil {
		return nil, domain.ErrNoOutcomeLog
	}
	if run.Token == "" {
		return nil, domain.ErrMissingToken
	}

	rows, err := e.source.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load recipient batch: %w", err)
	}
	return rows, nil
}

// dispatchOne handles a single recipient. Skips leave no trace; attempted
// sends always produce exactly one outcome record and one pace, whatever
// the gateway did.
func (e *DispatchEngine) dispatchOne(ctx context.Context, run domain.RunContext, row domain.RecipientRow) domain.Disposition {
	raw := row.RawPhone
	if run.OverridePhone != "" {
		raw = run.OverridePhone
	}
	phone := domain.NormalizePhone(raw)

	if phone == "" || row.MessageBody == "" {
		return domain.DispositionSkipped
	}

	result, err := e.gateway.Send(ctx, run.Token, ports.SendRequest{
		Target:     phone,
		Message:    row.MessageBody,
		Attachment: run.Attachment,
		PublicURL:  run.PublicURL,
	})

	status := domain.StatusSent
	reply := result.Reply
	if err != nil {
		status = domain.StatusFailed
		reply = err.Error()
		e.log.Error("send failed",
			"run_id", run.RunID, "phone", phone, "recipient", row.DisplayName, "err", err)
	} else {
		e.log.Info("message sent", "run_id", run.RunID, "phone", phone)
	}

	rec := domain.NewOutcomeRecord(run, phone, row, status, reply)
	if logErr := e.logbook.Append(ctx, rec); logErr != nil {
		// A log-write failure is a diagnostic, never a batch abort.
		e.log.Error("outcome append failed",
			"run_id", run.RunID, "phone", phone, "err", logErr)
	}

	if e.pacer != nil {
		if pErr := e.pacer.Pace(ctx); pErr != nil {
			e.log.Warn("pacer interrupted", "run_id", run.RunID, "err", pErr)
		}
	}

	if status == domain.StatusFailed {
		return domain.DispositionFailed
	}
	return domain.DispositionSent
}
