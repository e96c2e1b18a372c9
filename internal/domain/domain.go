package domain

import (
	"context"
	"fmt"
	"sort"
	"time"

	"collaborative-table-editor/auth"
	"collaborative-table-editor/internal/dispatcher"
	"collaborative-table-editor/internal/errors"
)

// CommitSink is the durable storage the Domain commits into when an edit
// session finishes cleanly. Commit is all-or-nothing: on error no pending
// state may have been applied.
type CommitSink interface {
	CommitDomain(ctx context.Context, dataBaseID, tableName string, ops []RowOp) (int64, error)
	CommittedRowIDs(ctx context.Context, dataBaseID, tableName string) ([]string, error)
}

type lockEntry struct {
	location LocationInfo
	userID   uint64
}

// Domain is one collaborative editing session. All mutable state below the
// dispatcher field is owned by the dispatcher: it is only read or written
// from dispatched actions, never under any other lock.
type Domain struct {
	dispatcher *dispatcher.Dispatcher
	sink       EventSink
	commit     CommitSink

	info       Info
	state      State
	ownerID    uint64
	rows       map[string]*RowOp
	committed  map[string]struct{}
	properties map[string]any
	users      map[uint64]*User
	joinOrder  []uint64
	locks      []lockEntry
}

func newDomain(info Info, properties map[string]any, committedIDs []string, sink EventSink, commit CommitSink) *Domain {
	if properties == nil {
		properties = map[string]any{}
	}
	d := &Domain{
		dispatcher: dispatcher.New("domain-" + string(info.ID)),
		sink:       sink,
		commit:     commit,
		info:       info,
		state:      StateCreating,
		rows:       map[string]*RowOp{},
		committed:  map[string]struct{}{},
		properties: properties,
		users:      map[uint64]*User{},
	}
	for _, id := range committedIDs {
		d.committed[id] = struct{}{}
	}
	// Creating -> Created happens synchronously inside the creation call;
	// the registry only exposes the domain once it is Created.
	d.state = StateCreated
	return d
}

// ID is immutable and safe to read without dispatch.
func (d *Domain) ID() ID {
	return d.info.ID
}

// Shutdown tears the domain's dispatcher down. Callers still holding the
// domain afterwards get DispatcherExpired errors.
func (d *Domain) Shutdown() {
	d.dispatcher.Shutdown()
}

// ----- guards, dispatcher context only -----

func (d *Domain) ensureCreated(ctx context.Context) error {
	if err := d.dispatcher.VerifyAccess(ctx); err != nil {
		return err
	}
	if d.state != StateCreated {
		return errors.DomainNotFound(string(d.info.ID))
	}
	return nil
}

func (d *Domain) participant(a auth.Authentication) (*User, error) {
	u, ok := d.users[a.UserID]
	if !ok {
		return nil, errors.PermissionDenied("Not a participant of this domain")
	}
	return u, nil
}

func (d *Domain) authorize(a auth.Authentication, required auth.Authority) error {
	if !a.IsAtLeast(required) {
		return errors.PermissionDenied(fmt.Sprintf("Operation requires %s authority", required))
	}
	return nil
}

func (d *Domain) ownerOrAdmin(a auth.Authentication) error {
	if a.UserID == d.ownerID || a.IsAtLeast(auth.Admin) {
		return nil
	}
	return errors.PermissionDenied("Only the owner or an admin may do this")
}

// touch stamps the audit fields and tells peers the domain info moved.
func (d *Domain) touch(a auth.Authentication, taskID string) {
	d.info.ModifierID = a.UserID
	d.info.ModifiedAt = time.Now().UTC()
	d.publish(EventDomainInfoChanged, taskID, InfoPayload{Info: d.info})
}

func (d *Domain) publish(eventType EventType, taskID string, payload any) {
	d.sink.Publish(Event{
		Type:     eventType,
		DomainID: d.info.ID,
		TaskID:   taskID,
		Payload:  payload,
	})
}

func (d *Domain) completeTask(taskID string) {
	d.publish(EventTaskCompleted, taskID, nil)
}

// ----- participant management -----

// AddUser joins a user to the session and returns the state snapshot their
// view starts from. The snapshot is captured under the dispatcher so it can
// never tear against a concurrent mutation.
func (d *Domain) AddUser(ctx context.Context, a auth.Authentication) (Snapshot, string, error) {
	taskID := NewTaskID()
	snapshot, err := dispatcher.Result(ctx, d.dispatcher, func(ctx context.Context) (Snapshot, error) {
		if err := d.ensureCreated(ctx); err != nil {
			return Snapshot{}, err
		}
		u, ok := d.users[a.UserID]
		if ok {
			// Rejoin after a detach only flips the connection state.
			if u.State != UserOnline {
				u.State = UserOnline
				d.publish(EventUserStateChanged, taskID, UserPayload{User: *u})
			}
		} else {
			u = &User{
				ID:       a.UserID,
				Name:     a.UserName,
				State:    UserOnline,
				JoinedAt: time.Now().UTC(),
			}
			d.users[a.UserID] = u
			d.joinOrder = append(d.joinOrder, a.UserID)
			if d.ownerID == 0 {
				d.ownerID = a.UserID
				d.publish(EventOwnerChanged, taskID, OwnerPayload{OwnerID: d.ownerID})
			}
			d.publish(EventUserAdded, taskID, UserPayload{User: *u})
		}
		snap := d.snapshot()
		d.completeTask(taskID)
		return snap, nil
	})
	return snapshot, taskID, err
}

// RemoveUser handles an explicit leave.
func (d *Domain) RemoveUser(ctx context.Context, a auth.Authentication) (string, error) {
	taskID := NewTaskID()
	err := d.dispatcher.Invoke(ctx, func(ctx context.Context) error {
		if err := d.ensureCreated(ctx); err != nil {
			return err
		}
		u, err := d.participant(a)
		if err != nil {
			return err
		}
		d.removeUser(u, ReasonLeft, "", taskID)
		d.completeTask(taskID)
		return nil
	})
	return taskID, err
}

// Kick forcibly removes a participant. Owner or admin only.
func (d *Domain) Kick(ctx context.Context, a auth.Authentication, userID uint64, comment string) (string, error) {
	taskID := NewTaskID()
	err := d.dispatcher.Invoke(ctx, func(ctx context.Context) error {
		if err := d.ensureCreated(ctx); err != nil {
			return err
		}
		if _, err := d.participant(a); err != nil {
			return err
		}
		if err := d.ownerOrAdmin(a); err != nil {
			return err
		}
		target, ok := d.users[userID]
		if !ok {
			return errors.PermissionDenied("User is not a participant").WithDetail("user_id", userID)
		}
		d.touch(a, taskID)
		d.removeUser(target, ReasonKicked, comment, taskID)
		d.completeTask(taskID)
		return nil
	})
	return taskID, err
}

// Drop removes a user because their connection or session went away.
// Unlike RemoveUser it is a no-op when the user is not a participant, since
// cleanup is best effort and may race with an explicit leave.
func (d *Domain) Drop(ctx context.Context, userID uint64, reason RemoveReason) error {
	taskID := NewTaskID()
	return d.dispatcher.Invoke(ctx, func(ctx context.Context) error {
		if err := d.ensureCreated(ctx); err != nil {
			return err
		}
		u, ok := d.users[userID]
		if !ok {
			return nil
		}
		d.removeUser(u, reason, "", taskID)
		d.completeTask(taskID)
		return nil
	})
}

// removeUser is the single removal path all three causes converge on.
// When the departing user owns the domain, ownership is handed to the
// longest-joined remaining participant before the removal event fires.
func (d *Domain) removeUser(u *User, reason RemoveReason, comment string, taskID string) {
	d.releaseLocks(u, taskID)

	for i, id := range d.joinOrder {
		if id == u.ID {
			d.joinOrder = append(d.joinOrder[:i], d.joinOrder[i+1:]...)
			break
		}
	}
	delete(d.users, u.ID)

	if d.ownerID == u.ID {
		d.ownerID = 0
		if len(d.joinOrder) > 0 {
			d.ownerID = d.joinOrder[0]
		}
		d.publish(EventOwnerChanged, taskID, OwnerPayload{OwnerID: d.ownerID})
	}

	d.publish(EventUserRemoved, taskID, UserPayload{User: *u, Reason: reason, Comment: comment})
}

func (d *Domain) releaseLocks(u *User, taskID string) {
	kept := d.locks[:0]
	released := false
	for _, l := range d.locks {
		if l.userID == u.ID {
			released = true
			continue
		}
		kept = append(kept, l)
	}
	d.locks = kept
	if released {
		u.IsEditing = false
		d.publish(EventUserEditEnded, taskID, UserPayload{User: *u})
	}
}

// SetUserLocation moves the caller's focus. Any participant may call.
func (d *Domain) SetUserLocation(ctx context.Context, a auth.Authentication, location LocationInfo) (string, error) {
	taskID := NewTaskID()
	err := d.dispatcher.Invoke(ctx, func(ctx context.Context) error {
		if err := d.ensureCreated(ctx); err != nil {
			return err
		}
		u, err := d.participant(a)
		if err != nil {
			return err
		}
		u.Location = location
		d.publish(EventUserLocationChanged, taskID, LocationPayload{UserID: u.ID, Location: location})
		d.completeTask(taskID)
		return nil
	})
	return taskID, err
}

// BeginUserEdit acquires the edit lock at a location. The acquisition is a
// compare-and-set: held by the caller is a no-op, held by anyone else fails
// immediately without waiting.
func (d *Domain) BeginUserEdit(ctx context.Context, a auth.Authentication, location LocationInfo) (string, error) {
	taskID := NewTaskID()
	err := d.dispatcher.Invoke(ctx, func(ctx context.Context) error {
		if err := d.ensureCreated(ctx); err != nil {
			return err
		}
		u, err := d.participant(a)
		if err != nil {
			return err
		}
		if err := d.authorize(a, auth.Member); err != nil {
			return err
		}
		for _, l := range d.locks {
			if !l.location.Overlaps(location) {
				continue
			}
			if l.userID == a.UserID {
				return nil
			}
			return errors.DomainLock("Location is being edited by another user", l.userID)
		}
		d.locks = append(d.locks, lockEntry{location: location, userID: a.UserID})
		u.IsEditing = true
		u.Location = location
		d.publish(EventUserEditBegun, taskID, UserPayload{User: *u})
		d.completeTask(taskID)
		return nil
	})
	return taskID, err
}

// EndUserEdit releases every lock the caller holds. Releasing without
// holding one is a no-op.
func (d *Domain) EndUserEdit(ctx context.Context, a auth.Authentication) (string, error) {
	taskID := NewTaskID()
	err := d.dispatcher.Invoke(ctx, func(ctx context.Context) error {
		if err := d.ensureCreated(ctx); err != nil {
			return err
		}
		u, err := d.participant(a)
		if err != nil {
			return err
		}
		d.releaseLocks(u, taskID)
		d.completeTask(taskID)
		return nil
	})
	return taskID, err
}

// SetOwner reassigns ownership. Current owner or admin only.
func (d *Domain) SetOwner(ctx context.Context, a auth.Authentication, userID uint64) (string, error) {
	taskID := NewTaskID()
	err := d.dispatcher.Invoke(ctx, func(ctx context.Context) error {
		if err := d.ensureCreated(ctx); err != nil {
			return err
		}
		if err := d.ownerOrAdmin(a); err != nil {
			return err
		}
		if _, ok := d.users[userID]; !ok {
			return errors.PermissionDenied("New owner must be a participant").WithDetail("user_id", userID)
		}
		if d.ownerID == userID {
			return nil
		}
		d.ownerID = userID
		d.touch(a, taskID)
		d.publish(EventOwnerChanged, taskID, OwnerPayload{OwnerID: userID})
		d.completeTask(taskID)
		return nil
	})
	return taskID, err
}

// ----- row commands -----

// NewRows validates and appends rows to the pending-add set, assigning
// server-side row IDs where the client left them empty. Validation covers
// every row before any is applied.
func (d *Domain) NewRows(ctx context.Context, a auth.Authentication, rows []Row) ([]Row, string, error) {
	taskID := NewTaskID()
	added, err := dispatcher.Result(ctx, d.dispatcher, func(ctx context.Context) ([]Row, error) {
		if err := d.ensureCreated(ctx); err != nil {
			return nil, err
		}
		if _, err := d.participant(a); err != nil {
			return nil, err
		}
		if err := d.authorize(a, auth.Member); err != nil {
			return nil, err
		}

		prepared := make([]Row, 0, len(rows))
		seen := map[string]struct{}{}
		for _, row := range rows {
			if row.ID == "" {
				row.ID = NewRowID()
			}
			if _, dup := seen[row.ID]; dup {
				return nil, errors.RowAlreadyExists(row.ID)
			}
			seen[row.ID] = struct{}{}
			if d.rowExists(row.ID) {
				return nil, errors.RowAlreadyExists(row.ID)
			}
			if row.Fields == nil {
				row.Fields = map[string]any{}
			}
			prepared = append(prepared, row)
		}

		for _, row := range prepared {
			if op, held := d.rows[row.ID]; held && op.Kind == RowOpRemove {
				// A pending remove only exists for a committed row, so
				// re-adding the key replaces the durable row. Folding into
				// a change keeps the commit from colliding with it.
				d.rows[row.ID] = &RowOp{Kind: RowOpChange, Row: row}
				continue
			}
			d.rows[row.ID] = &RowOp{Kind: RowOpAdd, Row: row}
		}
		d.touch(a, taskID)
		d.publish(EventRowAdded, taskID, RowsPayload{Rows: prepared})
		d.completeTask(taskID)
		return prepared, nil
	})
	return added, taskID, err
}

// rowExists reports whether a key is taken by a pending or committed row
// that has not been marked removed.
func (d *Domain) rowExists(rowID string) bool {
	if op, ok := d.rows[rowID]; ok {
		return op.Kind != RowOpRemove
	}
	_, ok := d.committed[rowID]
	return ok
}

// SetRows applies field-level changes to pending or committed rows.
func (d *Domain) SetRows(ctx context.Context, a auth.Authentication, rows []Row) ([]Row, string, error) {
	taskID := NewTaskID()
	changed, err := dispatcher.Result(ctx, d.dispatcher, func(ctx context.Context) ([]Row, error) {
		if err := d.ensureCreated(ctx); err != nil {
			return nil, err
		}
		if _, err := d.participant(a); err != nil {
			return nil, err
		}
		if err := d.authorize(a, auth.Member); err != nil {
			return nil, err
		}

		for _, row := range rows {
			if !d.rowExists(row.ID) {
				return nil, errors.RowNotFound(row.ID)
			}
		}

		result := make([]Row, 0, len(rows))
		for _, row := range rows {
			op, ok := d.rows[row.ID]
			if !ok {
				op = &RowOp{Kind: RowOpChange, Row: Row{ID: row.ID, Fields: map[string]any{}}}
				d.rows[row.ID] = op
			}
			for k, v := range row.Fields {
				op.Row.Fields[k] = v
			}
			result = append(result, op.Row)
		}
		d.touch(a, taskID)
		d.publish(EventRowChanged, taskID, RowsPayload{Rows: result})
		d.completeTask(taskID)
		return result, nil
	})
	return changed, taskID, err
}

// RemoveRows marks rows removed. Removing a row added earlier in the same
// uncommitted session nets out to nothing, which is not an error.
func (d *Domain) RemoveRows(ctx context.Context, a auth.Authentication, rows []Row) ([]Row, string, error) {
	taskID := NewTaskID()
	removed, err := dispatcher.Result(ctx, d.dispatcher, func(ctx context.Context) ([]Row, error) {
		if err := d.ensureCreated(ctx); err != nil {
			return nil, err
		}
		if _, err := d.participant(a); err != nil {
			return nil, err
		}
		if err := d.authorize(a, auth.Member); err != nil {
			return nil, err
		}

		for _, row := range rows {
			if !d.rowExists(row.ID) {
				return nil, errors.RowNotFound(row.ID)
			}
		}

		result := make([]Row, 0, len(rows))
		for _, row := range rows {
			op, pending := d.rows[row.ID]
			switch {
			case pending && op.Kind == RowOpAdd:
				// add-then-remove in the same session: net no-op
				delete(d.rows, row.ID)
				result = append(result, op.Row)
			case pending:
				op.Kind = RowOpRemove
				result = append(result, op.Row)
			default:
				d.rows[row.ID] = &RowOp{Kind: RowOpRemove, Row: Row{ID: row.ID}}
				result = append(result, Row{ID: row.ID})
			}
		}
		d.touch(a, taskID)
		d.publish(EventRowRemoved, taskID, RowsPayload{Rows: result})
		d.completeTask(taskID)
		return result, nil
	})
	return removed, taskID, err
}

// SetProperty updates a named edit property. The property must have been
// declared when the domain was created.
func (d *Domain) SetProperty(ctx context.Context, a auth.Authentication, name string, value any) (string, error) {
	taskID := NewTaskID()
	err := d.dispatcher.Invoke(ctx, func(ctx context.Context) error {
		if err := d.ensureCreated(ctx); err != nil {
			return err
		}
		if _, err := d.participant(a); err != nil {
			return err
		}
		if err := d.authorize(a, auth.Member); err != nil {
			return err
		}
		if _, ok := d.properties[name]; !ok {
			return errors.PropertyNotFound(name)
		}
		d.properties[name] = value
		d.touch(a, taskID)
		d.publish(EventPropertyChanged, taskID, PropertyPayload{Name: name, Value: value})
		d.completeTask(taskID)
		return nil
	})
	return taskID, err
}

// ----- finalization -----

// delete finalizes the session on the domain dispatcher. With force false
// the pending operations are committed to durable storage; any other
// participant still holding an edit lock blocks the commit. With force true
// (admin only) all pending state is discarded.
//
// The registry is responsible for removing the domain and broadcasting the
// deletion; this method only transitions the domain itself.
func (d *Domain) delete(ctx context.Context, a auth.Authentication, force bool, taskID string) (DeleteResult, error) {
	return dispatcher.Result(ctx, d.dispatcher, func(ctx context.Context) (DeleteResult, error) {
		if err := d.ensureCreated(ctx); err != nil {
			return DeleteResult{}, err
		}
		if force {
			if err := d.authorize(a, auth.Admin); err != nil {
				return DeleteResult{}, err
			}
			d.state = StateDeleted
			d.publish(EventDomainStateChanged, taskID, StatePayload{State: StateDeleted})
			return DeleteResult{Canceled: true}, nil
		}

		if err := d.ownerOrAdmin(a); err != nil {
			return DeleteResult{}, err
		}
		for _, l := range d.locks {
			if l.userID != a.UserID {
				return DeleteResult{}, errors.DomainEditing("Another participant is still editing")
			}
		}

		ops := d.pendingOps()
		committed, err := d.commit.CommitDomain(ctx, d.info.DataBaseID, d.info.ItemPath, ops)
		if err != nil {
			// Commit failed or was canceled: pending state stays untouched.
			return DeleteResult{}, err
		}

		d.rows = map[string]*RowOp{}
		d.state = StateDeleted
		d.publish(EventDomainStateChanged, taskID, StatePayload{State: StateDeleted})
		return DeleteResult{CommittedRows: committed}, nil
	})
}

// pendingOps returns the pending set in deterministic row-key order.
func (d *Domain) pendingOps() []RowOp {
	keys := make([]string, 0, len(d.rows))
	for k := range d.rows {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ops := make([]RowOp, 0, len(keys))
	for _, k := range keys {
		ops = append(ops, *d.rows[k])
	}
	return ops
}

// ----- accessors -----

// Metadata captures the domain summary under the dispatcher.
func (d *Domain) Metadata(ctx context.Context) (Metadata, error) {
	return dispatcher.Result(ctx, d.dispatcher, func(ctx context.Context) (Metadata, error) {
		if err := d.dispatcher.VerifyAccess(ctx); err != nil {
			return Metadata{}, err
		}
		return d.metadata(), nil
	})
}

func (d *Domain) metadata() Metadata {
	return Metadata{
		Info:    d.info,
		State:   d.state,
		OwnerID: d.ownerID,
		Users:   d.userList(),
	}
}

func (d *Domain) snapshot() Snapshot {
	rows := d.pendingOps()
	props := make(map[string]any, len(d.properties))
	for k, v := range d.properties {
		props[k] = v
	}
	return Snapshot{
		Info:       d.info,
		OwnerID:    d.ownerID,
		Rows:       rows,
		Properties: props,
		Users:      d.userList(),
	}
}

func (d *Domain) userList() []User {
	users := make([]User, 0, len(d.joinOrder))
	for _, id := range d.joinOrder {
		if u, ok := d.users[id]; ok {
			users = append(users, *u)
		}
	}
	return users
}
