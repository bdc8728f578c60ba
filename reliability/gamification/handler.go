package gamification

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/consumer"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/event"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/internal/nilcheck"
	libLog "github.com/hadijannat/dpp-simulation-playground-sub000/reliability/log"
	libOpentelemetry "github.com/hadijannat/dpp-simulation-playground-sub000/reliability/opentelemetry"
	libPostgres "github.com/hadijannat/dpp-simulation-playground-sub000/reliability/postgres"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/rules"
)

var (
	ErrDatabaseRequired = errors.New("gamification database is required")
	ErrRulesRequired    = errors.New("gamification rules are required")
)

const (
	insertLedger = "INSERT INTO points_ledger (event_id, user_id, event_type, points, awarded_on, metadata)" +
		" VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (event_id) DO NOTHING"

	// Codes unknown to the achievements table select nothing and are skipped.
	insertAchievement = "INSERT INTO user_achievements (user_id, achievement_code, event_id, context, earned_at)" +
		" SELECT $1, code, $3, $4, $5 FROM achievements WHERE code = $2" +
		" ON CONFLICT (user_id, achievement_code) DO NOTHING"
)

// RuleProvider yields the current rule set. *rules.Cache satisfies it.
type RuleProvider interface {
	Get(ctx context.Context) (rules.Set, error)
}

// Award reports the durable effect of one event.
type Award struct {
	Points        int
	PointsAwarded bool
	Achievements  []string
}

// PointsHandler applies point rules and achievements to events.
type PointsHandler struct {
	db      libPostgres.PrimaryProvider
	rules   RuleProvider
	logger  libLog.Logger
	timeout time.Duration
	now     func() time.Time
}

var _ consumer.Handler = (*PointsHandler)(nil)

// NewPointsHandler creates a handler.
func NewPointsHandler(db libPostgres.PrimaryProvider, provider RuleProvider, logger libLog.Logger) (*PointsHandler, error) {
	if nilcheck.Interface(db) {
		return nil, ErrDatabaseRequired
	}

	if nilcheck.Interface(provider) {
		return nil, ErrRulesRequired
	}

	logger = libLog.OrNop(logger)

	return &PointsHandler{
		db:      db,
		rules:   provider,
		logger:  logger,
		timeout: libPostgres.DefaultTransactionTimeout,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Handle implements consumer.Handler.
func (h *PointsHandler) Handle(ctx context.Context, e event.Envelope) error {
	_, err := h.Apply(ctx, e)

	return err
}

// Apply records the points and achievements e earns. Events without a
// user are ignored.
func (h *PointsHandler) Apply(ctx context.Context, e event.Envelope) (Award, error) {
	if strings.TrimSpace(e.UserID) == "" || strings.TrimSpace(e.EventType) == "" {
		return Award{}, nil
	}

	_, tracer, _ := reliability.NewTrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, "gamification.apply")
	defer span.End()

	set, err := h.rules.Get(ctx)
	if err != nil {
		libOpentelemetry.HandleSpanError(span, "failed to load rules", err)

		return Award{}, err
	}

	points, _ := set.PointsFor(e.EventType)
	achievements := set.AchievementsFor(e.EventType)

	if points == 0 && len(achievements) == 0 {
		return Award{}, nil
	}

	award, err := libPostgres.WithTx(ctx, h.db, nil, h.timeout, func(tx *sql.Tx) (Award, error) {
		return h.write(ctx, tx, e, points, achievements)
	})
	if err != nil {
		libOpentelemetry.HandleSpanError(span, "failed to record award", err)

		return Award{}, fmt.Errorf("record award for %s: %w", e.EventID, err)
	}

	if award.PointsAwarded || len(award.Achievements) > 0 {
		h.logger.Log(ctx, libLog.LevelInfo, "awarded",
			libLog.String("user_id", e.UserID),
			libLog.EventID(e.EventID),
			libLog.Int("points", award.Points),
			libLog.Int("achievements", len(award.Achievements)),
		)
	}

	return award, nil
}

func (h *PointsHandler) write(ctx context.Context, tx *sql.Tx, e event.Envelope, points int, achievements []rules.Achievement) (Award, error) {
	var award Award

	now := h.now()

	if points != 0 {
		metadata, err := json.Marshal(nonNil(e.Metadata))
		if err != nil {
			return Award{}, fmt.Errorf("encoding ledger metadata: %w", err)
		}

		res, err := tx.ExecContext(ctx, insertLedger, e.EventID, e.UserID, e.EventType, points, now, metadata)
		if err != nil {
			return Award{}, fmt.Errorf("inserting ledger row: %w", err)
		}

		affected, err := libPostgres.RowsAffected(res)
		if err != nil {
			return Award{}, err
		}

		award.Points = points
		award.PointsAwarded = affected > 0
	}

	if len(achievements) == 0 {
		return award, nil
	}

	snapshot, err := json.Marshal(e)
	if err != nil {
		return Award{}, fmt.Errorf("encoding achievement context: %w", err)
	}

	for _, a := range achievements {
		res, err := tx.ExecContext(ctx, insertAchievement, e.UserID, a.Code, e.EventID, snapshot, now)
		if err != nil {
			return Award{}, fmt.Errorf("granting %s: %w", a.Code, err)
		}

		affected, err := libPostgres.RowsAffected(res)
		if err != nil {
			return Award{}, err
		}

		if affected > 0 {
			award.Achievements = append(award.Achievements, a.Code)
		}
	}

	return award, nil
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}

	return m
}
