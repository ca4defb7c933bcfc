package server

import (
	"caseflow/internal/condition"
	"caseflow/internal/domain"
)

type PinRequest struct {
	BlockKey     string `json:"block_key" example:"intake"`
	BlockVersion int    `json:"block_version" example:"1"`
	Title        string `json:"title,omitempty"`
}

type CreateFormVersionRequest struct {
	FormKey string       `json:"form_key" example:"claim"`
	Version int          `json:"version" example:"1"`
	Title   string       `json:"title,omitempty"`
	Pins    []PinRequest `json:"pins,omitempty"`
}

type FormVersionResponse struct {
	domain.FormVersion
	Pins []domain.BlockPin `json:"pins,omitempty"`
}

type AddRouteRequest struct {
	FromBlockKey string              `json:"from_block_key"`
	ToBlockKey   string              `json:"to_block_key"`
	Condition    condition.Condition `json:"condition"`
}

type RouteValidationResponse struct {
	Valid    bool     `json:"valid"`
	Problems []string `json:"problems,omitempty"`
}

type StartCaseRequest struct {
	FormVersionID  string   `json:"form_version_id"`
	StartBlockKeys []string `json:"start_block_keys,omitempty"`
}

type SetBlockDataRequest struct {
	Data map[string]any `json:"data"`
}

type ReopenBlockRequest struct {
	Reason string `json:"reason,omitempty"`
}

type AssignRequest struct {
	AssigneeUserID  *string `json:"assignee_user_id,omitempty"`
	AssigneeGroupID *string `json:"assignee_group_id,omitempty"`
	DueAt           *string `json:"due_at,omitempty"`
}

type SetStatusRequest struct {
	Status string `json:"status" example:"in_progress"`
}

type GrantRoleRequest struct {
	ActorID string `json:"actor_id"`
	RoleID  string `json:"role_id" example:"caseworker"`
}

type CreateAPIKeyRequest struct {
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
}

type APIKeyCreatedResponse struct {
	domain.APIKey
	Key string `json:"key"`
}
