package domain

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// ID is the opaque identifier of an editing session.
type ID string

func newULID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

// NewID returns a sortable unique identifier.
func NewID() ID {
	return ID(newULID())
}

// NewTaskID correlates a request/response pair with the callbacks it caused.
func NewTaskID() string {
	return newULID()
}

// NewRowID mints a server-assigned row key.
func NewRowID() string {
	return newULID()
}

// State is the lifecycle state of a Domain.
type State int

const (
	StateNone State = iota
	StateCreating
	StateCreated
	StateDeleted
)

func (s State) String() string {
	switch s {
	case StateCreating:
		return "creating"
	case StateCreated:
		return "created"
	case StateDeleted:
		return "deleted"
	default:
		return "none"
	}
}

// Row is one tabular record under edit. Fields are keyed by column name.
type Row struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

// RowOpKind tags a pending row operation.
type RowOpKind string

const (
	RowOpAdd    RowOpKind = "add"
	RowOpChange RowOpKind = "change"
	RowOpRemove RowOpKind = "remove"
)

// RowOp is an uncommitted mutation held in a Domain's pending set.
type RowOp struct {
	Kind RowOpKind `json:"kind"`
	Row  Row       `json:"row"`
}

// LocationInfo is the coordinate a user is focused on within a Domain.
// An empty Column means the whole row.
type LocationInfo struct {
	TableName string `json:"table_name"`
	RowID     string `json:"row_id"`
	Column    string `json:"column"`
}

// Overlaps reports whether two locations contend for the same cells.
func (l LocationInfo) Overlaps(other LocationInfo) bool {
	if l.TableName != other.TableName || l.RowID != other.RowID {
		return false
	}
	if l.Column == "" || other.Column == "" {
		return true
	}
	return l.Column == other.Column
}

// UserState tracks a participant's connection status.
type UserState int

const (
	UserNone UserState = iota
	UserOnline
	UserOffline
)

func (s UserState) String() string {
	switch s {
	case UserOnline:
		return "online"
	case UserOffline:
		return "offline"
	default:
		return "none"
	}
}

// RemoveReason tags why a participant left a Domain.
type RemoveReason string

const (
	ReasonLeft   RemoveReason = "left"
	ReasonKicked RemoveReason = "kicked"
	ReasonClosed RemoveReason = "closed"
)

// User is one participant of a Domain.
type User struct {
	ID        uint64       `json:"id"`
	Name      string       `json:"name"`
	State     UserState    `json:"state"`
	Location  LocationInfo `json:"location"`
	IsEditing bool         `json:"is_editing"`
	JoinedAt  time.Time    `json:"joined_at"`
}

// Info is the immutable identity plus audit stamps of a Domain.
type Info struct {
	ID           ID        `json:"id"`
	DataBaseID   string    `json:"database_id"`
	Type         string    `json:"type"`
	ItemPath     string    `json:"item_path"`
	CategoryPath string    `json:"category_path"`
	CreatorID    uint64    `json:"creator_id"`
	CreatedAt    time.Time `json:"created_at"`
	ModifierID   uint64    `json:"modifier_id"`
	ModifiedAt   time.Time `json:"modified_at"`
}

// Metadata is the externally visible summary of a Domain.
type Metadata struct {
	Info    Info   `json:"info"`
	State   State  `json:"state"`
	OwnerID uint64 `json:"owner_id"`
	Users   []User `json:"users"`
}

// Snapshot is the full pending state handed to a joining participant so
// their view starts consistent with the session.
type Snapshot struct {
	Info       Info           `json:"info"`
	OwnerID    uint64         `json:"owner_id"`
	Rows       []RowOp        `json:"rows"`
	Properties map[string]any `json:"properties"`
	Users      []User         `json:"users"`
}

// DeleteResult reports the outcome of finalizing a Domain. Canceled is true
// when pending state was discarded instead of committed.
type DeleteResult struct {
	Canceled      bool  `json:"canceled"`
	CommittedRows int64 `json:"committed_rows"`
}
