package postgres

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/policy"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/protocol"
)

var negotiationMapping = mapping[*protocol.Negotiation]{
	name: "negotiation",
	columns: []string{
		"id", "current_state", "state_history", "consumer_id", "provider_id", "asset_id",
		"policy", "user_id", "session_id", "run_id", "created_at", "updated_at",
	},
	values: func(n *protocol.Negotiation) ([]any, error) {
		history, err := jsonColumn(n.StateHistory, "[]")
		if err != nil {
			return nil, fmt.Errorf("encoding state history: %w", err)
		}

		pol, err := jsonColumn(map[string]any(n.Policy), "{}")
		if err != nil {
			return nil, fmt.Errorf("encoding policy: %w", err)
		}

		return []any{
			n.ID, string(n.CurrentState), history, n.ConsumerID, n.ProviderID, n.AssetID,
			pol, n.UserID, nullString(n.SessionID), nullString(n.RunID), n.CreatedAt, n.UpdatedAt,
		}, nil
	},
	scan: func(row scanner) (*protocol.Negotiation, error) {
		var (
			n         protocol.Negotiation
			state     string
			history   []byte
			pol       []byte
			sessionID sql.NullString
			runID     sql.NullString
		)

		if err := row.Scan(&n.ID, &state, &history, &n.ConsumerID, &n.ProviderID, &n.AssetID,
			&pol, &n.UserID, &sessionID, &runID, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, err
		}

		n.CurrentState = protocol.State(state)
		n.SessionID = sessionID.String
		n.RunID = runID.String

		if err := decodeInto(history, &n.StateHistory); err != nil {
			return nil, fmt.Errorf("decoding state history: %w", err)
		}

		n.Policy = policy.Policy{}
		if err := decodeInto(pol, &n.Policy); err != nil {
			return nil, fmt.Errorf("decoding policy: %w", err)
		}

		return &n, nil
	},
	id: func(n *protocol.Negotiation) string { return n.ID },
	lifecycle: func(n *protocol.Negotiation) (*protocol.Lifecycle, time.Time) {
		return &n.Lifecycle, n.UpdatedAt
	},
}

var transferMapping = mapping[*protocol.Transfer]{
	name: "transfer",
	columns: []string{
		"id", "current_state", "state_history", "negotiation_id", "asset_id",
		"data_destination", "user_id", "session_id", "run_id", "created_at", "updated_at",
	},
	values: func(t *protocol.Transfer) ([]any, error) {
		history, err := jsonColumn(t.StateHistory, "[]")
		if err != nil {
			return nil, fmt.Errorf("encoding state history: %w", err)
		}

		destination, err := jsonColumn(t.DataDestination, "{}")
		if err != nil {
			return nil, fmt.Errorf("encoding data destination: %w", err)
		}

		return []any{
			t.ID, string(t.CurrentState), history, t.NegotiationID, t.AssetID,
			destination, t.UserID, nullString(t.SessionID), nullString(t.RunID), t.CreatedAt, t.UpdatedAt,
		}, nil
	},
	scan: func(row scanner) (*protocol.Transfer, error) {
		var (
			t           protocol.Transfer
			state       string
			history     []byte
			destination []byte
			sessionID   sql.NullString
			runID       sql.NullString
		)

		if err := row.Scan(&t.ID, &state, &history, &t.NegotiationID, &t.AssetID,
			&destination, &t.UserID, &sessionID, &runID, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}

		t.CurrentState = protocol.State(state)
		t.SessionID = sessionID.String
		t.RunID = runID.String

		if err := decodeInto(history, &t.StateHistory); err != nil {
			return nil, fmt.Errorf("decoding state history: %w", err)
		}

		t.DataDestination = map[string]any{}
		if err := decodeInto(destination, &t.DataDestination); err != nil {
			return nil, fmt.Errorf("decoding data destination: %w", err)
		}

		return &t, nil
	},
	id: func(t *protocol.Transfer) string { return t.ID },
	lifecycle: func(t *protocol.Transfer) (*protocol.Lifecycle, time.Time) {
		return &t.Lifecycle, t.UpdatedAt
	},
}
