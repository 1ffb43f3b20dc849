package domain

// CoordinationType controls whether a task may be subdivided.
type CoordinationType string

const (
	// Delegeren tasks are delegated and may carry sub-tasks.
	Delegeren CoordinationType = "DELEGEREN"
	// Organiseren tasks are self-organised leaves.
	Organiseren CoordinationType = "ORGANISEREN"
)

// Valid reports whether t is a known type or unset (inherit).
func (t CoordinationType) Valid() bool {
	return t == "" || t == Delegeren || t == Organiseren
}

type TaskStatus string

const (
	StatusBeschikbaar TaskStatus = "BESCHIKBAAR"
	StatusToegewezen  TaskStatus = "TOEGEWEZEN"
	StatusGereed      TaskStatus = "GEREED"
)

func (s TaskStatus) Valid() bool {
	return s == StatusBeschikbaar || s == StatusToegewezen || s == StatusGereed
}

type ProposalStatus string

const (
	ProposalOpen      ProposalStatus = "OPEN"
	ProposalAfgewezen ProposalStatus = "AFGEWEZEN"
)

// Permission levels, from weakest to strongest.
type Permission string

const (
	PermRead   Permission = "READ"
	PermOpen   Permission = "OPEN"
	PermManage Permission = "MANAGE"
)

// RoleBestuur is the governing-board role.
const RoleBestuur = "bestuur"

type Task struct {
	ID                    string           `json:"id"`
	ParentID              *string          `json:"parent_id,omitempty"`
	Title                 string           `json:"title"`
	Description           string           `json:"description,omitempty"`
	OwnCoordinatorAliases []string         `json:"own_coordinator_aliases"`
	CoordinationType      CoordinationType `json:"coordination_type,omitempty" enum:"DELEGEREN,ORGANISEREN,"`
	Points                int              `json:"points"`
	Status                TaskStatus       `json:"status" enum:"BESCHIKBAAR,TOEGEWEZEN,GEREED"`
	TeamName              *string          `json:"team_name,omitempty"`
	Version               int              `json:"version"`
	CreatedAt             string           `json:"created_at" format:"date-time"`
	UpdatedAt             string           `json:"updated_at" format:"date-time"`
}

// Node projects a task onto the fields the governance core reads.
func (t Task) Node() TaskNode {
	return TaskNode{
		ID:                    t.ID,
		ParentID:              t.ParentID,
		CoordinationType:      t.CoordinationType,
		OwnCoordinatorAliases: t.OwnCoordinatorAliases,
		TeamName:              t.TeamName,
		Points:                t.Points,
		Version:               t.Version,
	}
}

// TaskNode is the minimal projection of a task used for authorization and
// budget decisions.
type TaskNode struct {
	ID                    string
	ParentID              *string
	CoordinationType      CoordinationType
	OwnCoordinatorAliases []string
	TeamName              *string
	Points                int
	// Version is the row version read with the node; writers that rely on
	// the node's points guard on it.
	Version int
}

// Snapshot is an immutable id -> node mapping loaded from the store.
type Snapshot map[string]TaskNode

// OpenTask is a delegation proposal. A nil ProposedAlias means the task
// still needs someone to be proposed.
type OpenTask struct {
	ID            string         `json:"id"`
	TaskID        string         `json:"task_id"`
	ProposerAlias string         `json:"proposer_alias"`
	ProposedAlias *string        `json:"proposed_alias,omitempty"`
	Status        ProposalStatus `json:"status" enum:"OPEN,AFGEWEZEN"`
	CreatedAt     string         `json:"created_at" format:"date-time"`
}

// SelfRegistration reports whether the proposer proposed themself.
func (p OpenTask) SelfRegistration() bool {
	return p.ProposedAlias != nil && *p.ProposedAlias == p.ProposerAlias
}

type AliasChangeProposal struct {
	ID             string         `json:"id"`
	RequesterAlias string         `json:"requester_alias"`
	CurrentAlias   string         `json:"current_alias"`
	RequestedAlias string         `json:"requested_alias"`
	Status         ProposalStatus `json:"status" enum:"OPEN,AFGEWEZEN"`
	CreatedAt      string         `json:"created_at" format:"date-time"`
}

type Actor struct {
	Alias     string   `json:"alias"`
	Roles     []string `json:"roles"`
	CreatedAt string   `json:"created_at" format:"date-time"`
}

// Event is a persisted audit fact.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	ActionType string `json:"action_type"`
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorAlias string `json:"actor_alias"`
	Payload    string `json:"payload_json"`
}

// APIKey authenticates an actor without a token. Only the hash is stored.
type APIKey struct {
	ID         string `json:"id"`
	ActorAlias string `json:"actor_alias"`
	Name       string `json:"name,omitempty"`
	KeyHash    string `json:"-"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}
