package dlq

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/consumer"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/event"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/internal/nilcheck"
	libLog "github.com/hadijannat/dpp-simulation-playground-sub000/reliability/log"
	libOpentelemetry "github.com/hadijannat/dpp-simulation-playground-sub000/reliability/opentelemetry"
	libRedis "github.com/hadijannat/dpp-simulation-playground-sub000/reliability/redis"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/stream"
)

const (
	defaultPendingLimit = 50
	defaultListLimit    = 50
	defaultReplayLimit  = 20
	maxLimit            = 200

	// ReplayedSetSuffix names the replay-dedup set: "<dlq stream>.replayed".
	ReplayedSetSuffix = ".replayed"

	// ReplayLockKey serializes replays across instances.
	ReplayLockKey  = "lock:stream:dlq-replay"
	replayLockTTL  = 2 * time.Minute
	replayLockWait = 5 * time.Second
)

// Config names the streams and groups the admin inspects.
type Config struct {
	Stream      string
	RetryStream string
	DLQStream   string
	Group       string
	// RetryGroup defaults to Group + "-retry".
	RetryGroup string
	MaxLen     Counts
}

// Admin inspects and repairs the dead-letter pipeline.
type Admin struct {
	broker Broker
	locks  libRedis.LockManager
	cfg    Config
	logger libLog.Logger
	now    func() time.Time
}

// NewAdmin creates an admin over broker.
func NewAdmin(broker Broker, cfg Config, logger libLog.Logger) (*Admin, error) {
	if nilcheck.Interface(broker) {
		return nil, ErrBrokerRequired
	}

	cfg.Stream = strings.TrimSpace(cfg.Stream)
	cfg.RetryStream = strings.TrimSpace(cfg.RetryStream)
	cfg.DLQStream = strings.TrimSpace(cfg.DLQStream)

	if cfg.Stream == "" || cfg.RetryStream == "" || cfg.DLQStream == "" {
		return nil, ErrStreamRequired
	}

	if strings.TrimSpace(cfg.RetryGroup) == "" && cfg.Group != "" {
		cfg.RetryGroup = cfg.Group + "-retry"
	}

	logger = libLog.OrNop(logger)

	return &Admin{broker: broker, cfg: cfg, logger: logger, now: time.Now}, nil
}

// WithLocks makes Replay hold ReplayLockKey, so two operators replaying at
// once do not interleave.
func (a *Admin) WithLocks(locks libRedis.LockManager) *Admin {
	if !nilcheck.Interface(locks) {
		a.locks = locks
	}

	return a
}

// ReplayedSet returns the replay-dedup set key.
func (a *Admin) ReplayedSet() string {
	return a.cfg.DLQStream + ReplayedSetSuffix
}

// Status reports stream sizes, group backlogs and caps. A failing size or
// pending lookup counts as zero.
func (a *Admin) Status(ctx context.Context) StatusReport {
	return StatusReport{
		Stream:      a.cfg.Stream,
		RetryStream: a.cfg.RetryStream,
		DLQStream:   a.cfg.DLQStream,
		Sizes: Counts{
			Stream: a.safeLen(ctx, a.cfg.Stream),
			Retry:  a.safeLen(ctx, a.cfg.RetryStream),
			DLQ:    a.safeLen(ctx, a.cfg.DLQStream),
		},
		Pending: a.pendingTotals(ctx),
		MaxLen:  a.cfg.MaxLen,
	}
}

// Pending lists unacknowledged entries of the primary and retry groups.
func (a *Admin) Pending(ctx context.Context, limit int) PendingReport {
	limit = boundLimit(limit, defaultPendingLimit)

	return PendingReport{
		Items: PendingItems{
			Stream: a.safePendingEntries(ctx, a.cfg.Stream, a.cfg.Group, limit),
			Retry:  a.safePendingEntries(ctx, a.cfg.RetryStream, a.cfg.RetryGroup, limit),
		},
		Totals: a.pendingTotals(ctx),
		Limit:  limit,
	}
}

// List pages through the dead-letter stream, newest first.
func (a *Admin) List(ctx context.Context, limit, offset int) (Page, error) {
	limit = boundLimit(limit, defaultListLimit)
	offset = max(offset, 0)

	rows, err := a.broker.RevRange(ctx, a.cfg.DLQStream, int64(limit+offset))
	if err != nil {
		return Page{}, fmt.Errorf("list dead letters: %w", err)
	}

	page := Page{
		Items:  []Entry{},
		Total:  a.safeLen(ctx, a.cfg.DLQStream),
		Limit:  limit,
		Offset: offset,
	}

	if offset < len(rows) {
		end := min(offset+limit, len(rows))
		for _, row := range rows[offset:end] {
			page.Items = append(page.Items, decodeEntry(row))
		}
	}

	return page, nil
}

// Replay republishes dead-letter entries onto the primary stream. Each event
// id is replayed at most once. Per-entry problems are reported in the
// results and never abort the batch.
func (a *Admin) Replay(ctx context.Context, req ReplayRequest) (ReplayReport, error) {
	if a.locks == nil {
		return a.replay(ctx, req)
	}

	var report ReplayReport

	err := a.locks.WithLock(ctx, ReplayLockKey, libRedis.LockOptions{TTL: replayLockTTL, Wait: replayLockWait},
		func(ctx context.Context) error {
			var err error

			report, err = a.replay(ctx, req)

			return err
		})
	if errors.Is(err, libRedis.ErrLockBusy) {
		return ReplayReport{}, ErrReplayInProgress
	}

	return report, err
}

func (a *Admin) replay(ctx context.Context, req ReplayRequest) (ReplayReport, error) {
	_, tracer, _ := reliability.NewTrackingFromContext(ctx)
	logger := a.logger

	ctx, span := tracer.Start(ctx, "dlq.replay")
	defer span.End()

	limit := boundLimit(req.Limit, defaultReplayLimit)
	deleteAfter := req.DeleteAfterReplay == nil || *req.DeleteAfterReplay

	targets, err := a.replayTargets(ctx, req.MessageIDs, limit)
	if err != nil {
		libOpentelemetry.HandleSpanError(span, "failed to select dead letters", err)

		return ReplayReport{}, err
	}

	report := ReplayReport{Requested: len(targets), Results: make([]ReplayResult, 0, len(targets))}

	for _, id := range targets {
		result := a.replayOne(ctx, logger, id, deleteAfter)

		switch result.Status {
		case StatusReplayed:
			report.Replayed++
		case StatusAlreadyReplayed:
			report.Skipped++
		default:
			report.Failed++
		}

		report.Results = append(report.Results, result)
	}

	logger.Log(ctx, libLog.LevelInfo, "dead-letter replay finished",
		libLog.Int("requested", report.Requested),
		libLog.Int("replayed", report.Replayed),
		libLog.Int("skipped", report.Skipped),
		libLog.Int("failed", report.Failed),
	)

	return report, nil
}

func (a *Admin) replayTargets(ctx context.Context, ids []string, limit int) ([]string, error) {
	if len(ids) > 0 {
		targets := make([]string, 0, min(len(ids), limit))

		for _, id := range ids {
			if len(targets) == limit {
				break
			}

			if id = strings.TrimSpace(id); id != "" {
				targets = append(targets, id)
			}
		}

		return targets, nil
	}

	rows, err := a.broker.Range(ctx, a.cfg.DLQStream, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("select oldest dead letters: %w", err)
	}

	targets := make([]string, 0, len(rows))
	for _, row := range rows {
		targets = append(targets, row.ID)
	}

	return targets, nil
}

func (a *Admin) replayOne(ctx context.Context, logger libLog.Logger, id string, deleteAfter bool) ReplayResult {
	msg, found, err := a.broker.Get(ctx, a.cfg.DLQStream, id)
	if err != nil {
		libLog.SafeError(logger, ctx, "failed to read dead letter", err, false)

		return ReplayResult{MessageID: id, Status: StatusLookupFailed}
	}

	if !found {
		return ReplayResult{MessageID: id, Status: StatusMissing}
	}

	payload, ok := decodeEntry(msg).Event.(map[string]any)
	if !ok {
		return ReplayResult{MessageID: id, Status: StatusInvalidEvent}
	}

	eventID := strings.TrimSpace(fmt.Sprint(payload["event_id"]))
	if payload["event_id"] == nil || eventID == "" {
		eventID = id
	}

	added, err := a.broker.SAdd(ctx, a.ReplayedSet(), eventID)
	if err != nil {
		libLog.SafeError(logger, ctx, "failed to record replay", err, false)

		return ReplayResult{MessageID: id, Status: StatusRequeueFailed, EventID: eventID}
	}

	if added == 0 {
		return ReplayResult{MessageID: id, Status: StatusAlreadyReplayed, EventID: eventID}
	}

	fields, err := event.EncodeMap(a.replayPayload(payload, id))
	if err == nil {
		var streamID string

		streamID, err = a.broker.PublishFields(ctx, a.cfg.Stream, fields)
		if err == nil {
			if deleteAfter {
				if _, delErr := a.broker.Delete(ctx, a.cfg.DLQStream, id); delErr != nil {
					libLog.SafeError(logger, ctx, "failed to delete replayed dead letter", delErr, false)
				}
			}

			return ReplayResult{MessageID: id, Status: StatusReplayed, EventID: eventID, StreamMessageID: streamID}
		}
	}

	libLog.SafeError(logger, ctx, "dead-letter requeue failed", err, false)

	if remErr := a.broker.SRem(ctx, a.ReplayedSet(), eventID); remErr != nil {
		libLog.SafeError(logger, ctx, "failed to roll back replay marker", remErr, false)
	}

	return ReplayResult{MessageID: id, Status: StatusRequeueFailed, EventID: eventID}
}

// replayPayload tags the event as replayed and resets its transport state.
func (a *Admin) replayPayload(payload map[string]any, dlqID string) map[string]any {
	out := maps.Clone(payload)

	for _, key := range []string{event.FieldRetry, event.FieldLastError, event.FieldRetryDelaySeconds} {
		delete(out, key)
	}

	metadata, ok := out["metadata"].(map[string]any)
	if ok {
		metadata = maps.Clone(metadata)
	} else {
		metadata = map[string]any{}
	}

	metadata["replayed_from_dlq"] = true
	metadata["dlq_message_id"] = dlqID
	metadata["replayed_at"] = float64(a.now().UnixNano()) / 1e9
	out["metadata"] = metadata

	return out
}

// Trim trims every stream to its own cap.
func (a *Admin) Trim(ctx context.Context) TrimReport {
	return TrimReport{
		Trimmed: Counts{
			Stream: a.safeTrim(ctx, a.cfg.Stream, a.cfg.MaxLen.Stream),
			Retry:  a.safeTrim(ctx, a.cfg.RetryStream, a.cfg.MaxLen.Retry),
			DLQ:    a.safeTrim(ctx, a.cfg.DLQStream, a.cfg.MaxLen.DLQ),
		},
		MaxLen: a.cfg.MaxLen,
	}
}

func (a *Admin) pendingTotals(ctx context.Context) Counts {
	return Counts{
		Stream: a.groupPending(ctx, a.cfg.Stream, a.cfg.Group),
		Retry:  a.groupPending(ctx, a.cfg.RetryStream, a.cfg.RetryGroup),
	}
}

func (a *Admin) safeLen(ctx context.Context, name string) int64 {
	n, err := a.broker.Len(ctx, name)
	if err != nil {
		return 0
	}

	return n
}

func (a *Admin) groupPending(ctx context.Context, name, group string) int64 {
	if group == "" {
		return 0
	}

	groups, err := a.broker.GroupPending(ctx, name)
	if err != nil {
		return 0
	}

	return groups[group]
}

func (a *Admin) safePendingEntries(ctx context.Context, name, group string, limit int) []stream.PendingEntry {
	if group == "" {
		return []stream.PendingEntry{}
	}

	entries, err := a.broker.PendingEntries(ctx, name, group, int64(limit))
	if err != nil || entries == nil {
		return []stream.PendingEntry{}
	}

	return entries
}

func (a *Admin) safeTrim(ctx context.Context, name string, maxLen int64) int64 {
	n, err := a.broker.Trim(ctx, name, maxLen)
	if err != nil {
		libLog.SafeError(a.logger, ctx, "failed to trim stream", err, false)

		return 0
	}

	return n
}

func decodeEntry(msg stream.Message) Entry {
	decoded := event.DecodeMap(msg.Values)

	entry := Entry{MessageID: msg.ID, Event: decoded[consumer.FieldDLQEvent]}

	if errText, ok := decoded[consumer.FieldDLQError].(string); ok {
		entry.Error = errText
	}

	entry.FailedAt = decoded[consumer.FieldDLQFailedAt]

	for k, v := range decoded {
		if k == consumer.FieldDLQEvent || k == consumer.FieldDLQError || k == consumer.FieldDLQFailedAt {
			continue
		}

		if entry.Extra == nil {
			entry.Extra = map[string]any{}
		}

		entry.Extra[k] = v
	}

	return entry
}

func boundLimit(limit, fallback int) int {
	if limit == 0 {
		limit = fallback
	}

	return max(1, min(limit, maxLimit))
}
