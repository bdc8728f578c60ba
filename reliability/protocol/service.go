package protocol

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/event"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/internal/nilcheck"
	libLog "github.com/hadijannat/dpp-simulation-playground-sub000/reliability/log"
	libOpentelemetry "github.com/hadijannat/dpp-simulation-playground-sub000/reliability/opentelemetry"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/outbox"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/policy"
	libPostgres "github.com/hadijannat/dpp-simulation-playground-sub000/reliability/postgres"
)

const (
	DefaultStream        = "simulation.events"
	DefaultSourceService = "edc-simulator"
)

// Store persists one kind of protocol entity. Methods taking a tx run
// inside the caller's transaction.
type Store[E any] interface {
	Insert(ctx context.Context, tx outbox.Tx, e E) error
	Get(ctx context.Context, id string) (E, error)
	// GetForUpdate loads and row-locks e. It returns ErrNotFound when absent.
	GetForUpdate(ctx context.Context, tx outbox.Tx, id string) (E, error)
	Save(ctx context.Context, tx outbox.Tx, e E) error
}

// Emitter enqueues events in the caller's transaction. *outbox.Emitter
// satisfies it.
type Emitter interface {
	Emit(ctx context.Context, tx outbox.Tx, stream string, e event.Envelope) (outbox.EmitResult, error)
}

// ServiceConfig holds the settings shared by both services.
type ServiceConfig struct {
	Stream             string
	SourceService      string
	TransactionTimeout time.Duration
}

func (cfg ServiceConfig) withDefaults() ServiceConfig {
	if strings.TrimSpace(cfg.Stream) == "" {
		cfg.Stream = DefaultStream
	}

	if strings.TrimSpace(cfg.SourceService) == "" {
		cfg.SourceService = DefaultSourceService
	}

	if cfg.TransactionTimeout <= 0 {
		cfg.TransactionTimeout = libPostgres.DefaultTransactionTimeout
	}

	return cfg
}

type entity interface {
	lifecycle() *Lifecycle
	entityID() string
	actor() Actor
	touch(now time.Time)
	eventMetadata() map[string]any
}

// engine runs transitions for one protocol.
type engine[E entity] struct {
	name             string
	idField          string
	stateChangedType string
	completedType    string
	success          State
	actions          *ActionRegistry
	policyOf         func(E) policy.Policy

	db      libPostgres.PrimaryProvider
	store   Store[E]
	emitter Emitter
	logger  libLog.Logger
	cfg     ServiceConfig
	now     func() time.Time
}

func (eng *engine[E]) validate() error {
	if nilcheck.Interface(eng.db) {
		return ErrDatabaseRequired
	}

	if nilcheck.Interface(eng.store) {
		return ErrStoreRequired
	}

	if nilcheck.Interface(eng.emitter) {
		return ErrEmitterRequired
	}

	eng.logger = libLog.OrNop(eng.logger)

	eng.cfg = eng.cfg.withDefaults()

	if eng.now == nil {
		eng.now = func() time.Time { return time.Now().UTC() }
	}

	return nil
}

// create inserts e. A nil tx runs in a transaction of its own.
func (eng *engine[E]) create(ctx context.Context, tx *sql.Tx, e E) (E, error) {
	_, tracer, _ := reliability.NewTrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, eng.name+".create")
	defer span.End()

	_, err := libPostgres.WithTx(ctx, eng.db, tx, eng.cfg.TransactionTimeout, func(tx *sql.Tx) (struct{}, error) {
		return struct{}{}, eng.store.Insert(ctx, tx, e)
	})
	if err != nil {
		libOpentelemetry.HandleSpanError(span, "failed to create "+eng.name, err)

		var zero E

		return zero, fmt.Errorf("create %s: %w", eng.name, err)
	}

	return e, nil
}

func (eng *engine[E]) get(ctx context.Context, id string) (E, error) {
	var zero E

	if strings.TrimSpace(id) == "" {
		return zero, ErrNotFound
	}

	e, err := eng.store.Get(ctx, id)
	if err != nil {
		return zero, err
	}

	return e, nil
}

// transition applies actionName to entity id. Rejections commit nothing.
//
// A nil tx runs in a transaction of its own, and direct publishes queued while
// it is open are sent only after it commits. With a caller tx the caller owns
// the commit and the AfterCommit queue on ctx.
func (eng *engine[E]) transition(ctx context.Context, tx *sql.Tx, id, actionName string, in TransitionInput) (Result[E], error) {
	_, tracer, _ := reliability.NewTrackingFromContext(ctx)
	logger := eng.logger

	ctx, span := tracer.Start(ctx, eng.name+".transition")
	defer span.End()

	action, ok := eng.actions.Resolve(actionName)
	if !ok {
		return Rejected[E](Rejection{
			Kind:    RejectUnknownAction,
			Message: fmt.Sprintf("unknown %s action %q", eng.name, actionName),
			Action:  actionName,
		}), nil
	}

	var pending *outbox.AfterCommit
	if tx == nil {
		ctx, pending = outbox.WithAfterCommit(ctx)
	}

	result, err := libPostgres.WithTx(ctx, eng.db, tx, eng.cfg.TransactionTimeout, func(tx *sql.Tx) (Result[E], error) {
		current, loadErr := eng.store.GetForUpdate(ctx, tx, id)
		if errors.Is(loadErr, ErrNotFound) {
			return Rejected[E](Rejection{
				Kind:    RejectNotFound,
				Message: fmt.Sprintf("%s %s not found", eng.name, id),
				Action:  action.Name,
			}), nil
		}

		if loadErr != nil {
			return Result[E]{}, loadErr
		}

		lc := current.lifecycle()
		previous := lc.CurrentState

		if !eng.actions.Machine().CanTransition(previous, action.Target) {
			return Rejected[E](Rejection{
				Kind:    RejectInvalidTransition,
				Message: fmt.Sprintf("cannot move %s from %s to %s", eng.name, previous, action.Target),
				Action:  action.Name,
				Current: previous,
				Target:  action.Target,
			}), nil
		}

		if action.CheckPolicy && eng.policyOf != nil && strings.TrimSpace(in.Purpose) != "" {
			decision := policy.Evaluate(eng.policyOf(current), policy.Request{Purpose: in.Purpose})
			if !decision.Allowed {
				return Rejected[E](Rejection{
					Kind:    RejectPolicyDenied,
					Message: "policy does not allow this purpose: " + decision.Reason,
					Action:  action.Name,
					Current: previous,
					Target:  action.Target,
				}), nil
			}
		}

		now := eng.now()

		if applyErr := eng.actions.Machine().Apply(lc, action.Target, now); applyErr != nil {
			return Result[E]{}, applyErr
		}

		current.touch(now)

		if saveErr := eng.store.Save(ctx, tx, current); saveErr != nil {
			return Result[E]{}, fmt.Errorf("save %s: %w", eng.name, saveErr)
		}

		eng.emit(ctx, logger, tx, current, previous, action, in)

		return Accepted(current), nil
	})
	if err != nil {
		libOpentelemetry.HandleSpanError(span, "failed to transition "+eng.name, err)

		return Result[E]{}, fmt.Errorf("transition %s %s: %w", eng.name, id, err)
	}

	if flushErr := pending.Flush(ctx); flushErr != nil {
		logger.Log(ctx, libLog.LevelWarn, "failed to publish protocol event after commit",
			libLog.String(eng.idField, id),
			libLog.String("error", outbox.SanitizeErrorMessageForStorage(flushErr.Error())),
		)
	}

	if !result.OK() {
		logger.Log(ctx, libLog.LevelInfo, eng.name+" transition rejected",
			libLog.String("id", id),
			libLog.String("action", action.Name),
			libLog.String("kind", string(result.Rejection.Kind)),
		)
	}

	return result, nil
}

// emit enqueues the state change and, on success states, the completion
// event. Failures are logged and never undo the transition.
func (eng *engine[E]) emit(ctx context.Context, logger libLog.Logger, tx *sql.Tx, current E, previous State, action Action, in TransitionInput) {
	events := []event.Envelope{eng.envelope(current, eng.stateChangedType, in, map[string]any{
		"previous_state": string(previous),
		"current_state":  string(current.lifecycle().CurrentState),
		"action":         action.Name,
		"async_mode":     false,
	})}

	if current.lifecycle().CurrentState == eng.success {
		events = append(events, eng.envelope(current, eng.completedType, in, map[string]any{
			"state": string(eng.success),
		}))
	}

	for _, e := range events {
		if _, err := eng.emitter.Emit(ctx, tx, eng.cfg.Stream, e); err != nil {
			logger.Log(ctx, libLog.LevelWarn, "failed to emit protocol event",
				libLog.String("event_type", e.EventType),
				libLog.String(eng.idField, current.entityID()),
				libLog.String("error", outbox.SanitizeErrorMessageForStorage(err.Error())),
			)
		}
	}
}

func (eng *engine[E]) envelope(current E, eventType string, in TransitionInput, metadata map[string]any) event.Envelope {
	actor := current.actor()

	userID := strings.TrimSpace(in.UserID)
	if userID == "" {
		userID = actor.UserID
	}

	for k, v := range current.eventMetadata() {
		metadata[k] = v
	}

	return event.New(eventType, userID, eng.cfg.SourceService,
		event.WithSession(actor.SessionID),
		event.WithRun(actor.RunID),
		event.WithRequest(in.RequestID),
		event.WithField(eng.idField, current.entityID()),
		event.WithMeta(metadata),
	)
}

// NegotiationService drives contract negotiations.
type NegotiationService struct {
	engine *engine[*Negotiation]
}

// NewNegotiationService wires the negotiation state machine to its store.
func NewNegotiationService(
	db libPostgres.PrimaryProvider,
	store Store[*Negotiation],
	emitter Emitter,
	cfg ServiceConfig,
	logger libLog.Logger,
) (*NegotiationService, error) {
	eng := &engine[*Negotiation]{
		name:             "negotiation",
		idField:          "negotiation_id",
		stateChangedType: event.TypeEDCNegotiationStateChanged,
		completedType:    event.TypeEDCNegotiationCompleted,
		success:          NegotiationFinalized,
		actions:          NegotiationActions,
		policyOf:         func(n *Negotiation) policy.Policy { return n.Policy },
		db:               db,
		store:            store,
		emitter:          emitter,
		logger:           logger,
		cfg:              cfg,
	}

	if err := eng.validate(); err != nil {
		return nil, err
	}

	return &NegotiationService{engine: eng}, nil
}

// Create starts a negotiation in the initial state.
func (s *NegotiationService) Create(ctx context.Context, in CreateNegotiation) (*Negotiation, error) {
	return s.CreateTx(ctx, nil, in)
}

// CreateTx is Create inside the caller's transaction.
func (s *NegotiationService) CreateTx(ctx context.Context, tx *sql.Tx, in CreateNegotiation) (*Negotiation, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	now := s.engine.now()

	pol := in.Policy
	if pol == nil {
		pol = policy.Policy{}
	}

	return s.engine.create(ctx, tx, &Negotiation{
		ID:         uuid.NewString(),
		Lifecycle:  NegotiationMachine.Start(now),
		ConsumerID: in.ConsumerID,
		ProviderID: in.ProviderID,
		AssetID:    in.AssetID,
		Policy:     pol,
		Actor:      in.Actor,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
}

// Get returns the negotiation or ErrNotFound.
func (s *NegotiationService) Get(ctx context.Context, id string) (*Negotiation, error) {
	return s.engine.get(ctx, id)
}

// Transition applies the action verb to negotiation id.
func (s *NegotiationService) Transition(ctx context.Context, id, action string, in TransitionInput) (Result[*Negotiation], error) {
	return s.engine.transition(ctx, nil, id, action, in)
}

// TransitionTx is Transition inside the caller's transaction. Events that
// degrade to a direct publish wait on the AfterCommit queue carried by ctx.
func (s *NegotiationService) TransitionTx(ctx context.Context, tx *sql.Tx, id, action string, in TransitionInput) (Result[*Negotiation], error) {
	return s.engine.transition(ctx, tx, id, action, in)
}

// Actions lists the supported verbs.
func (s *NegotiationService) Actions() []string { return NegotiationActions.Names() }

// TransferService drives transfer processes.
type TransferService struct {
	engine *engine[*Transfer]
}

// NewTransferService wires the transfer state machine to its store.
func NewTransferService(
	db libPostgres.PrimaryProvider,
	store Store[*Transfer],
	emitter Emitter,
	cfg ServiceConfig,
	logger libLog.Logger,
) (*TransferService, error) {
	eng := &engine[*Transfer]{
		name:             "transfer",
		idField:          "transfer_id",
		stateChangedType: event.TypeEDCTransferStateChanged,
		completedType:    event.TypeEDCTransferCompleted,
		success:          TransferCompleted,
		actions:          TransferActions,
		db:               db,
		store:            store,
		emitter:          emitter,
		logger:           logger,
		cfg:              cfg,
	}

	if err := eng.validate(); err != nil {
		return nil, err
	}

	return &TransferService{engine: eng}, nil
}

// Create starts a transfer in the initial state.
func (s *TransferService) Create(ctx context.Context, in CreateTransfer) (*Transfer, error) {
	return s.CreateTx(ctx, nil, in)
}

// CreateTx is Create inside the caller's transaction.
func (s *TransferService) CreateTx(ctx context.Context, tx *sql.Tx, in CreateTransfer) (*Transfer, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	now := s.engine.now()

	destination := in.DataDestination
	if destination == nil {
		destination = map[string]any{}
	}

	return s.engine.create(ctx, tx, &Transfer{
		ID:              uuid.NewString(),
		Lifecycle:       TransferMachine.Start(now),
		NegotiationID:   in.NegotiationID,
		AssetID:         in.AssetID,
		DataDestination: destination,
		Actor:           in.Actor,
		CreatedAt:       now,
		UpdatedAt:       now,
	})
}

// Get returns the transfer or ErrNotFound.
func (s *TransferService) Get(ctx context.Context, id string) (*Transfer, error) {
	return s.engine.get(ctx, id)
}

// Transition applies the action verb to transfer id.
func (s *TransferService) Transition(ctx context.Context, id, action string, in TransitionInput) (Result[*Transfer], error) {
	return s.engine.transition(ctx, nil, id, action, in)
}

// TransitionTx is Transition inside the caller's transaction.
func (s *TransferService) TransitionTx(ctx context.Context, tx *sql.Tx, id, action string, in TransitionInput) (Result[*Transfer], error) {
	return s.engine.transition(ctx, tx, id, action, in)
}

// Actions lists the supported verbs.
func (s *TransferService) Actions() []string { return TransferActions.Names() }
