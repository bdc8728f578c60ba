package protocol

import (
	"sort"
	"strings"
	"time"

	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/policy"
)

// Actor identifies who drives an entity and in which simulation.
type Actor struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id,omitempty"`
	RunID     string `json:"run_id,omitempty"`
}

// Negotiation is a contract negotiation between a consumer and a provider.
type Negotiation struct {
	ID string `json:"id"`
	Lifecycle
	ConsumerID string        `json:"consumer_id"`
	ProviderID string        `json:"provider_id"`
	AssetID    string        `json:"asset_id"`
	Policy     policy.Policy `json:"policy"`
	Actor
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (n *Negotiation) lifecycle() *Lifecycle { return &n.Lifecycle }
func (n *Negotiation) entityID() string      { return n.ID }
func (n *Negotiation) actor() Actor          { return n.Actor }
func (n *Negotiation) touch(now time.Time)   { n.UpdatedAt = now }

func (n *Negotiation) eventMetadata() map[string]any {
	return map[string]any{"asset_id": n.AssetID}
}

// Transfer is a data transfer process under an agreed negotiation.
type Transfer struct {
	ID string `json:"id"`
	Lifecycle
	NegotiationID   string         `json:"negotiation_id"`
	AssetID         string         `json:"asset_id"`
	DataDestination map[string]any `json:"data_destination"`
	Actor
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (t *Transfer) lifecycle() *Lifecycle { return &t.Lifecycle }
func (t *Transfer) entityID() string      { return t.ID }
func (t *Transfer) actor() Actor          { return t.Actor }
func (t *Transfer) touch(now time.Time)   { t.UpdatedAt = now }

func (t *Transfer) eventMetadata() map[string]any {
	return map[string]any{"asset_id": t.AssetID, "negotiation_id": t.NegotiationID}
}

// CreateNegotiation is the input of NegotiationService.Create.
type CreateNegotiation struct {
	ConsumerID string        `json:"consumer_id"`
	ProviderID string        `json:"provider_id"`
	AssetID    string        `json:"asset_id"`
	Policy     policy.Policy `json:"policy"`
	Actor
}

func (in CreateNegotiation) validate() error {
	return requireFields(map[string]string{
		"consumer_id": in.ConsumerID,
		"provider_id": in.ProviderID,
		"asset_id":    in.AssetID,
	})
}

// CreateTransfer is the input of TransferService.Create.
type CreateTransfer struct {
	NegotiationID   string         `json:"negotiation_id"`
	AssetID         string         `json:"asset_id"`
	DataDestination map[string]any `json:"data_destination"`
	Actor
}

func (in CreateTransfer) validate() error {
	return requireFields(map[string]string{
		"negotiation_id": in.NegotiationID,
		"asset_id":       in.AssetID,
	})
}

// TransitionInput carries the caller context of one transition.
type TransitionInput struct {
	// Purpose is checked against the usage policy when non-empty.
	Purpose string `json:"purpose"`
	// UserID overrides the entity's user on emitted events.
	UserID    string `json:"user_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func requireFields(fields map[string]string) error {
	var missing []string

	for name, value := range fields {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}

	if len(missing) == 0 {
		return nil
	}

	sort.Strings(missing)

	return &InputError{Fields: missing}
}
