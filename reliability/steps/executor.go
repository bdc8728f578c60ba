package steps

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/event"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/internal/nilcheck"
	libLog "github.com/hadijannat/dpp-simulation-playground-sub000/reliability/log"
	libOpentelemetry "github.com/hadijannat/dpp-simulation-playground-sub000/reliability/opentelemetry"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/outbox"
	libPostgres "github.com/hadijannat/dpp-simulation-playground-sub000/reliability/postgres"
)

const (
	DefaultStream        = "simulation.events"
	DefaultSourceService = "simulation-engine"
)

// ReceiptStore persists receipts inside the executor's transaction.
type ReceiptStore interface {
	// Lock serializes executions of key until tx ends, even when no receipt
	// row exists yet.
	Lock(ctx context.Context, tx outbox.Tx, key Key) error
	// Find returns the receipt for key, row-locked.
	Find(ctx context.Context, tx outbox.Tx, key Key) (*Receipt, bool, error)
	Save(ctx context.Context, tx outbox.Tx, receipt Receipt) error
}

// Emitter enqueues events in the caller's transaction.
type Emitter interface {
	Emit(ctx context.Context, tx outbox.Tx, stream string, e event.Envelope) (outbox.EmitResult, error)
}

// Config holds executor settings.
type Config struct {
	Stream             string
	SourceService      string
	TransactionTimeout time.Duration
}

// Executor runs step actions with receipt-based idempotency.
type Executor struct {
	db       libPostgres.PrimaryProvider
	receipts ReceiptStore
	registry *Registry
	emitter  Emitter
	logger   libLog.Logger
	cfg      Config
	now      func() time.Time
}

// NewExecutor wires an executor.
func NewExecutor(
	db libPostgres.PrimaryProvider,
	receipts ReceiptStore,
	registry *Registry,
	emitter Emitter,
	cfg Config,
	logger libLog.Logger,
) (*Executor, error) {
	switch {
	case nilcheck.Interface(db):
		return nil, ErrDatabaseRequired
	case nilcheck.Interface(receipts):
		return nil, ErrReceiptsRequired
	case registry == nil:
		return nil, ErrRegistryRequired
	case nilcheck.Interface(emitter):
		return nil, ErrEmitterRequired
	}

	logger = libLog.OrNop(logger)

	if strings.TrimSpace(cfg.Stream) == "" {
		cfg.Stream = DefaultStream
	}

	if strings.TrimSpace(cfg.SourceService) == "" {
		cfg.SourceService = DefaultSourceService
	}

	if cfg.TransactionTimeout <= 0 {
		cfg.TransactionTimeout = libPostgres.DefaultTransactionTimeout
	}

	return &Executor{
		db:       db,
		receipts: receipts,
		registry: registry,
		emitter:  emitter,
		logger:   logger,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Execute runs req. With an idempotency key, a stored receipt is returned
// as a replay without running the action or emitting again. The action, its
// receipt and its events share one transaction; direct publishes queued while
// it is open are sent only after it commits.
func (ex *Executor) Execute(ctx context.Context, req Request) (Response, error) {
	if err := req.validate(); err != nil {
		return Response{}, err
	}

	_, tracer, _ := reliability.NewTrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, "steps.execute")
	defer span.End()

	action := normalize(req.Action)

	ctx, pending := outbox.WithAfterCommit(ctx)

	resp, err := libPostgres.WithTx(ctx, ex.db, nil, ex.cfg.TransactionTimeout, func(tx *sql.Tx) (Response, error) {
		if req.IdempotencyKey == "" {
			return ex.run(ctx, tx, req, action, false)
		}

		key := req.Key()

		if err := ex.receipts.Lock(ctx, tx, key); err != nil {
			return Response{}, fmt.Errorf("lock receipt: %w", err)
		}

		receipt, found, err := ex.receipts.Find(ctx, tx, key)
		if err != nil {
			return Response{}, fmt.Errorf("find receipt: %w", err)
		}

		if found {
			return Response{Result: receipt.Result, Action: receipt.Action, IdempotentReplay: true}, nil
		}

		return ex.run(ctx, tx, req, action, true)
	})
	if err != nil {
		libOpentelemetry.HandleSpanError(span, "failed to execute step", err)

		return Response{}, fmt.Errorf("execute step %s: %w", action, err)
	}

	if flushErr := pending.Flush(ctx); flushErr != nil {
		ex.logger.Log(ctx, libLog.LevelWarn, "failed to publish step event after commit",
			libLog.String("session_id", req.SessionID),
			libLog.String("error", outbox.SanitizeErrorMessageForStorage(flushErr.Error())),
		)
	}

	if resp.IdempotentReplay {
		ex.logger.Log(ctx, libLog.LevelInfo, "step replayed from receipt",
			libLog.String("session_id", req.SessionID),
			libLog.String("story_code", req.StoryCode),
			libLog.Int("step_index", req.StepIndex),
		)
	}

	return resp, nil
}

func (ex *Executor) run(ctx context.Context, tx *sql.Tx, req Request, action string, store bool) (Response, error) {
	handler, ok := ex.registry.Resolve(action)
	if !ok {
		return Response{
			Result: Result{Status: StatusUnknownAction, Error: "no handler registered for " + action},
			Action: action,
		}, nil
	}

	result, err := handler.Execute(ctx, req.Params, req.Payload, ActionContext{Request: req, Tx: tx})
	if err != nil {
		return Response{}, fmt.Errorf("run action: %w", err)
	}

	if result.Status == "" {
		result.Status = StatusSuccess
	}

	if store {
		if err := ex.receipts.Save(ctx, tx, Receipt{
			Key:       req.Key(),
			Action:    action,
			Result:    result,
			CreatedAt: ex.now(),
		}); err != nil {
			return Response{}, fmt.Errorf("store receipt: %w", err)
		}
	}

	resp := Response{Result: result, Action: action}

	if !result.failed() {
		resp.EventID = ex.emit(ctx, tx, req, action, result)
	}

	return resp, nil
}

func (ex *Executor) emit(ctx context.Context, tx *sql.Tx, req Request, action string, result Result) string {
	metadata := map[string]any{
		"action": action,
		"status": result.Status,
	}

	if req.IdempotencyKey != "" {
		metadata["idempotency_key"] = req.IdempotencyKey
	}

	e := event.New(event.TypeStoryStepCompleted, req.UserID, ex.cfg.SourceService,
		event.WithSession(req.SessionID),
		event.WithRun(req.RunID),
		event.WithRequest(req.RequestID),
		event.WithStory(req.StoryCode),
		event.WithField("step_index", req.StepIndex),
		event.WithMeta(metadata),
	)

	if _, err := ex.emitter.Emit(ctx, tx, ex.cfg.Stream, e); err != nil {
		ex.logger.Log(ctx, libLog.LevelWarn, "failed to emit step event",
			libLog.String("session_id", req.SessionID),
			libLog.String("story_code", req.StoryCode),
			libLog.String("error", outbox.SanitizeErrorMessageForStorage(err.Error())),
		)

		return ""
	}

	return e.EventID
}
