package domain

// EventType mirrors every mutating Domain operation 1:1 so subscribed peers
// can converge on the session state.
type EventType string

const (
	EventDomainsCreated      EventType = "DOMAINS_CREATED"
	EventDomainsDeleted      EventType = "DOMAINS_DELETED"
	EventDomainInfoChanged   EventType = "DOMAIN_INFO_CHANGED"
	EventDomainStateChanged  EventType = "DOMAIN_STATE_CHANGED"
	EventUserAdded           EventType = "USER_ADDED"
	EventUserRemoved         EventType = "USER_REMOVED"
	EventUserLocationChanged EventType = "USER_LOCATION_CHANGED"
	EventUserStateChanged    EventType = "USER_STATE_CHANGED"
	EventUserEditBegun       EventType = "USER_EDIT_BEGUN"
	EventUserEditEnded       EventType = "USER_EDIT_ENDED"
	EventOwnerChanged        EventType = "OWNER_CHANGED"
	EventRowAdded            EventType = "ROW_ADDED"
	EventRowChanged          EventType = "ROW_CHANGED"
	EventRowRemoved          EventType = "ROW_REMOVED"
	EventPropertyChanged     EventType = "PROPERTY_CHANGED"
	EventTaskCompleted       EventType = "TASK_COMPLETED"
)

// Event is one change notification. TaskID lets the initiating caller tell
// its own echoed change from a peer's.
type Event struct {
	Type     EventType `json:"type"`
	DomainID ID        `json:"domain_id,omitempty"`
	TaskID   string    `json:"task_id,omitempty"`
	Payload  any       `json:"payload,omitempty"`
}

// CallbackInfo is the delivery envelope: a per-subscriber sequence number
// for client-side ordering and dedup.
type CallbackInfo struct {
	Seq   uint64 `json:"seq"`
	Event Event  `json:"event"`
}

// EventSink receives events as they are applied. Implementations must be
// safe for concurrent use; enqueueing must not block the caller.
type EventSink interface {
	Publish(ev Event)
}

type RowsPayload struct {
	Rows []Row `json:"rows"`
}

type UserPayload struct {
	User    User         `json:"user"`
	Reason  RemoveReason `json:"reason,omitempty"`
	Comment string       `json:"comment,omitempty"`
}

type LocationPayload struct {
	UserID   uint64       `json:"user_id"`
	Location LocationInfo `json:"location"`
}

type OwnerPayload struct {
	OwnerID uint64 `json:"owner_id"`
}

type PropertyPayload struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

type StatePayload struct {
	State State `json:"state"`
}

type InfoPayload struct {
	Info Info `json:"info"`
}

type DeletedDomain struct {
	DomainID ID           `json:"domain_id"`
	Canceled bool         `json:"canceled"`
	Result   DeleteResult `json:"result"`
}

type DomainsDeletedPayload struct {
	Domains []DeletedDomain `json:"domains"`
}

type DomainsCreatedPayload struct {
	Domains []Metadata `json:"domains"`
}
