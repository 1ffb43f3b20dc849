package server

import "coordline/internal/domain"

// Request payloads

type CreateTaskRequest struct {
	ParentID         string   `json:"parent_id"`
	Title            string   `json:"title" minLength:"1"`
	Description      string   `json:"description,omitempty"`
	CoordinationType string   `json:"coordination_type,omitempty" enum:"DELEGEREN,ORGANISEREN,"`
	Points           int      `json:"points" minimum:"0"`
	TeamName         *string  `json:"team_name,omitempty"`
	Coordinators     []string `json:"coordinators,omitempty"`
}

type UpdateTaskRequest struct {
	Title            *string `json:"title,omitempty"`
	Description      *string `json:"description,omitempty"`
	CoordinationType *string `json:"coordination_type,omitempty" enum:"DELEGEREN,ORGANISEREN,"`
	Points           *int    `json:"points,omitempty" minimum:"0"`
	Status           *string `json:"status,omitempty" enum:"BESCHIKBAAR,TOEGEWEZEN,GEREED"`
	TeamName         *string `json:"team_name,omitempty"`
}

type MoveTaskRequest struct {
	NewParentID string `json:"new_parent_id"`
}

type NomineeRequest struct {
	Nominee string `json:"nominee"`
}

type DecisionRequest struct {
	Accept bool `json:"accept"`
}

type AliasChangeRequest struct {
	RequestedAlias string `json:"requested_alias"`
}

type RoleChangeRequest struct {
	Alias string `json:"alias"`
	Role  string `json:"role"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

// Response payloads

type DeleteTaskResponse struct {
	Deleted int64 `json:"deleted"`
}

type MeResponse struct {
	Alias  string   `json:"alias"`
	Roles  []string `json:"roles"`
	Source string   `json:"source"`
}

type APIKeyCreatedResponse struct {
	Key    domain.APIKey `json:"key"`
	Secret string        `json:"secret"`
}

type paginatedEvents struct {
	Items      []domain.Event `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

func nonNilSlice[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
