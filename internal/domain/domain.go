package domain

// BlockStatus is the canonical lifecycle state of a case block. The task
// record mirrored against each block carries the same enumeration so both
// surfaces stay consistent.
type BlockStatus string

const (
	StatusOpen       BlockStatus = "open"
	StatusInProgress BlockStatus = "in_progress"
	StatusWaiting    BlockStatus = "waiting"
	StatusDone       BlockStatus = "done"
	StatusRejected   BlockStatus = "rejected"
	StatusLocked     BlockStatus = "locked"
)

// Terminal reports whether a block in this status is finished for stage
// advancement purposes. Locked blocks count as done for routing.
func (s BlockStatus) Terminal() bool {
	return s == StatusDone || s == StatusRejected || s == StatusLocked
}

type FormVersion struct {
	ID        string `json:"id"`
	FormKey   string `json:"form_key"`
	Version   int    `json:"version"`
	Title     string `json:"title,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// BlockPin pins a block definition (key + version) into a form version.
type BlockPin struct {
	ID            string `json:"id"`
	FormVersionID string `json:"form_version_id"`
	BlockKey      string `json:"block_key"`
	BlockVersion  int    `json:"block_version"`
	Title         string `json:"title,omitempty"`
}

// AssignmentRule drives default assignee/group/due resolution for blocks
// created by a stage or transition.
type AssignmentRule struct {
	UserID     *string `json:"UserId,omitempty"`
	GroupID    *string `json:"GroupId,omitempty"`
	DueInHours *int    `json:"DueInHours,omitempty"`
}

// StageDefinition is an ordered grouping of blocks in a form version's
// workflow graph. JSON field names match the stored graph shape.
type StageDefinition struct {
	ID             string          `json:"Id"`
	FormVersionID  string          `json:"FormVersionId"`
	StageKey       string          `json:"StageKey"`
	Title          string          `json:"Title,omitempty"`
	Order          int             `json:"Order"`
	AssignmentRule *AssignmentRule `json:"AssignmentRule,omitempty"`
}

// StageBlock pins a block definition into a stage. Its order matters only
// for rendering, never for the state machine.
type StageBlock struct {
	ID                string `json:"Id"`
	StageID           string `json:"StageId"`
	BlockDefinitionID string `json:"BlockDefinitionId"`
	Order             int    `json:"Order"`
}

// StageTransition is a directed, conditionally gated edge between stages.
type StageTransition struct {
	ID             string          `json:"Id"`
	FromStageID    string          `json:"FromStageId"`
	ToStageID      string          `json:"ToStageId"`
	ConditionJSON  *string         `json:"ConditionJson,omitempty"`
	AssignmentRule *AssignmentRule `json:"AssignmentRule,omitempty"`
	Order          int             `json:"Order"`
}

// ProcessGraph aggregates the staged workflow definition of a form version.
// Loaded and saved as a unit; never merged.
type ProcessGraph struct {
	FormVersionID string            `json:"FormVersionId"`
	Stages        []StageDefinition `json:"Stages"`
	StageBlocks   []StageBlock      `json:"StageBlocks"`
	Transitions   []StageTransition `json:"Transitions"`
}

// Route is a conditionally gated edge between two block keys, finer grained
// than a stage transition.
type Route struct {
	ID            string `json:"id"`
	FormVersionID string `json:"form_version_id"`
	FromBlockKey  string `json:"from_block_key"`
	ToBlockKey    string `json:"to_block_key"`
	ConditionJSON string `json:"condition_json"`
}

type Case struct {
	ID                 string `json:"id"`
	FormVersionID      string `json:"form_version_id"`
	StartedBy          string `json:"started_by"`
	StartedAt          string `json:"started_at" format:"date-time"`
	StartSelectionJSON string `json:"start_selection_json,omitempty"`
}

// CaseBlock is one instantiated occurrence of a block within a case. The
// Version field backs optimistic concurrency on updates.
type CaseBlock struct {
	ID                string      `json:"id"`
	CaseID            string      `json:"case_id"`
	BlockDefinitionID string      `json:"block_definition_id"`
	BlockKey          string      `json:"block_key"`
	BlockVersion      int         `json:"block_version"`
	Title             string      `json:"title,omitempty"`
	DataJSON          string      `json:"data_json,omitempty"`
	Status            BlockStatus `json:"status" enum:"open,in_progress,waiting,done,rejected,locked"`
	AssigneeUserID    *string     `json:"assignee_user_id,omitempty"`
	AssigneeGroupID   *string     `json:"assignee_group_id,omitempty"`
	DueAt             *string     `json:"due_at,omitempty" format:"date-time"`
	LockedBy          *string     `json:"locked_by,omitempty"`
	LockedAt          *string     `json:"locked_at,omitempty" format:"date-time"`
	ReopenedBy        *string     `json:"reopened_by,omitempty"`
	ReopenedAt        *string     `json:"reopened_at,omitempty" format:"date-time"`
	ReopenReason      *string     `json:"reopen_reason,omitempty"`
	Version           int64       `json:"version"`
	CreatedAt         string      `json:"created_at" format:"date-time"`
	UpdatedAt         string      `json:"updated_at" format:"date-time"`
}

// TaskItem is the assignment/status record mirrored 1:1 with a case block.
type TaskItem struct {
	ID              string      `json:"id"`
	CaseBlockID     string      `json:"case_block_id"`
	Status          BlockStatus `json:"status" enum:"open,in_progress,waiting,done,rejected"`
	AssigneeUserID  *string     `json:"assignee_user_id,omitempty"`
	AssigneeGroupID *string     `json:"assignee_group_id,omitempty"`
	DueAt           *string     `json:"due_at,omitempty" format:"date-time"`
	CreatedAt       string      `json:"created_at" format:"date-time"`
	UpdatedAt       string      `json:"updated_at" format:"date-time"`
}

// Notification is an immutable, append-only record.
type Notification struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	PayloadJSON string `json:"payload_json"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

// CaseStageRuntime is the per-case runtime view of one stage.
type CaseStageRuntime struct {
	Stage      StageDefinition `json:"stage"`
	Blocks     []CaseBlock     `json:"blocks"`
	IsReadOnly bool            `json:"is_read_only"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	CaseID     string `json:"case_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
