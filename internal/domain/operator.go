package domain

import "time"

// OperatorRole enumerates dashboard roles.
type OperatorRole string

const (
	OperatorRoleAgent OperatorRole = "AGENT"
	OperatorRoleSales OperatorRole = "SALES"
	OperatorRoleAdmin OperatorRole = "ADMIN"
)

// Operator is a dashboard user acting on conversations and cases.
type Operator struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Role         OperatorRole
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ActorType distinguishes who performed an action.
type ActorType string

const (
	ActorTypeOperator ActorType = "OPERATOR"
	ActorTypeSystem   ActorType = "SYSTEM"
	ActorTypeWebhook  ActorType = "WEBHOOK"
)

// Actor identifies who performed an action.
type Actor struct {
	Type ActorType
	ID   string
	Role OperatorRole
}

// SystemActor is used for automatic transitions.
var SystemActor = Actor{Type: ActorTypeSystem, ID: "system"}

// WebhookActor is used for ingestion from channel integrations.
func WebhookActor(channel Channel) Actor {
	return Actor{Type: ActorTypeWebhook, ID: "webhook:" + string(channel)}
}

// OperatorActor builds the actor for an authenticated operator.
func OperatorActor(op *Operator) Actor {
	return Actor{Type: ActorTypeOperator, ID: op.ID, Role: op.Role}
}

// String renders the actor for audit fields.
func (a Actor) String() string {
	if a.ID == "" {
		return string(ActorTypeSystem)
	}
	return a.ID
}

// IsAdmin reports whether the actor may perform administrative corrections.
func (a Actor) IsAdmin() bool {
	return a.Type == ActorTypeOperator && a.Role == OperatorRoleAdmin
}
