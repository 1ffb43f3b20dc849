package coordlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal coordline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Task represents the API task model.
type Task struct {
	ID                    string   `json:"id"`
	ParentID              *string  `json:"parent_id,omitempty"`
	Title                 string   `json:"title"`
	Description           string   `json:"description,omitempty"`
	OwnCoordinatorAliases []string `json:"own_coordinator_aliases"`
	CoordinationType      string   `json:"coordination_type,omitempty"`
	Points                int      `json:"points"`
	Status                string   `json:"status"`
	TeamName              *string  `json:"team_name,omitempty"`
	Version               int      `json:"version"`
}

// TaskView is a task plus what follows from its place in the tree.
type TaskView struct {
	Task
	EffectiveCoordinators     []string `json:"effective_coordinators"`
	PrimaryCoordinator        string   `json:"primary_coordinator,omitempty"`
	EffectiveCoordinationType string   `json:"effective_coordination_type"`
	Permissions               []string `json:"permissions"`
	ChildPoints               int      `json:"child_points"`
	Headroom                  int      `json:"headroom"`
}

// CreateTaskInput mirrors the create-task request body.
type CreateTaskInput struct {
	ParentID         string   `json:"parent_id"`
	Title            string   `json:"title"`
	Description      string   `json:"description,omitempty"`
	CoordinationType string   `json:"coordination_type,omitempty"`
	Points           int      `json:"points"`
	TeamName         *string  `json:"team_name,omitempty"`
	Coordinators     []string `json:"coordinators,omitempty"`
}

// Transfer describes the points moved with a task.
type Transfer struct {
	Transferable            bool `json:"transferable"`
	SourceParentPointsAfter int  `json:"source_parent_points_after"`
	TargetParentPointsAfter int  `json:"target_parent_points_after"`
}

type MoveResult struct {
	Task     Task     `json:"task"`
	Transfer Transfer `json:"transfer"`
}

// Proposal is a pending or rejected coordinator proposal.
type Proposal struct {
	ID            string  `json:"id"`
	TaskID        string  `json:"task_id"`
	ProposerAlias string  `json:"proposer_alias"`
	ProposedAlias *string `json:"proposed_alias,omitempty"`
	Status        string  `json:"status"`
	CreatedAt     string  `json:"created_at"`
	CanDecide     bool    `json:"can_decide"`
	CanSetNominee bool    `json:"can_set_nominee"`
}

type Decision struct {
	Proposal Proposal `json:"proposal"`
	Accepted bool     `json:"accepted"`
	Task     *Task    `json:"task,omitempty"`
}

type AliasChange struct {
	ID             string `json:"id"`
	RequesterAlias string `json:"requester_alias"`
	CurrentAlias   string `json:"current_alias"`
	RequestedAlias string `json:"requested_alias"`
	Status         string `json:"status"`
	CanDecide      bool   `json:"can_decide"`
}

// Event represents an audit log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	ActionType string `json:"action_type"`
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	ActorAlias string `json:"actor_alias"`
	Payload    string `json:"payload_json"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

func (c *Client) CreateTask(ctx context.Context, in CreateTaskInput) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks", in, &resp)
	return resp, err
}

func (c *Client) GetTask(ctx context.Context, id string) (TaskView, error) {
	var resp TaskView
	err := c.do(ctx, http.MethodGet, "tasks/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// MoveTask re-parents a task; its points travel with it.
func (c *Client) MoveTask(ctx context.Context, id, newParentID string) (MoveResult, error) {
	var resp MoveResult
	err := c.do(ctx, http.MethodPost, "tasks/"+url.PathEscape(id)+"/move", map[string]string{"new_parent_id": newParentID}, &resp)
	return resp, err
}

// Register proposes the caller as coordinator of taskID.
func (c *Client) Register(ctx context.Context, taskID string) (Proposal, error) {
	var resp Proposal
	err := c.do(ctx, http.MethodPost, "tasks/"+url.PathEscape(taskID)+"/proposals/register", nil, &resp)
	return resp, err
}

func (c *Client) Nominate(ctx context.Context, taskID, nominee string) (Proposal, error) {
	var resp Proposal
	err := c.do(ctx, http.MethodPost, "tasks/"+url.PathEscape(taskID)+"/proposals/nominate", map[string]string{"nominee": nominee}, &resp)
	return resp, err
}

func (c *Client) Proposals(ctx context.Context) ([]Proposal, error) {
	var resp []Proposal
	err := c.do(ctx, http.MethodGet, "proposals", nil, &resp)
	return resp, err
}

func (c *Client) DecideProposal(ctx context.Context, id string, accept bool) (Decision, error) {
	var resp Decision
	err := c.do(ctx, http.MethodPost, "proposals/"+url.PathEscape(id)+"/decision", map[string]bool{"accept": accept}, &resp)
	return resp, err
}

func (c *Client) RequestAliasChange(ctx context.Context, requested string) (AliasChange, error) {
	var resp AliasChange
	err := c.do(ctx, http.MethodPost, "alias-changes", map[string]string{"requested_alias": requested}, &resp)
	return resp, err
}

func (c *Client) DecideAliasChange(ctx context.Context, id string, accept bool) (AliasChange, error) {
	var resp AliasChange
	err := c.do(ctx, http.MethodPost, "alias-changes/"+url.PathEscape(id)+"/decision", map[string]bool{"accept": accept}, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/v0/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
