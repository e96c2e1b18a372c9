package domain

import (
	"context"
	"sync"
	"testing"
	"time"

	"collaborative-table-editor/auth"
	apiError "collaborative-table-editor/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sinkRecorder collects published events in order.
type sinkRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (s *sinkRecorder) Publish(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *sinkRecorder) all() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

func (s *sinkRecorder) typesOf() []EventType {
	events := s.all()
	types := make([]EventType, 0, len(events))
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	return types
}

// fakeCommit is an in-memory commit sink.
type fakeCommit struct {
	mu        sync.Mutex
	rowIDs    []string
	committed []RowOp
	err       error
}

func (f *fakeCommit) CommitDomain(ctx context.Context, dataBaseID, tableName string, ops []RowOp) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.committed = append(f.committed, ops...)
	return int64(len(ops)), nil
}

func (f *fakeCommit) CommittedRowIDs(ctx context.Context, dataBaseID, tableName string) ([]string, error) {
	return f.rowIDs, nil
}

var (
	adminAuth = auth.Authentication{UserID: 1, UserName: "admin", Authority: auth.Admin, Token: "t-admin"}
	bobAuth   = auth.Authentication{UserID: 2, UserName: "bob", Authority: auth.Member, Token: "t-bob"}
	guestAuth = auth.Authentication{UserID: 3, UserName: "eve", Authority: auth.Guest, Token: "t-eve"}
)

func newTestDomain(t *testing.T, sink EventSink, commit CommitSink) *Domain {
	t.Helper()
	if sink == nil {
		sink = &sinkRecorder{}
	}
	if commit == nil {
		commit = &fakeCommit{}
	}
	now := time.Now().UTC()
	d := newDomain(Info{
		ID:         NewID(),
		DataBaseID: "db1",
		Type:       "table-content",
		ItemPath:   "orders",
		CreatorID:  adminAuth.UserID,
		CreatedAt:  now,
		ModifiedAt: now,
	}, map[string]any{"Comment": "", "IsFlag": false}, nil, sink, commit)
	t.Cleanup(d.Shutdown)
	return d
}

func join(t *testing.T, d *Domain, a auth.Authentication) Snapshot {
	t.Helper()
	snapshot, _, err := d.AddUser(context.Background(), a)
	require.NoError(t, err)
	return snapshot
}

func kindOf(t *testing.T, err error) apiError.Kind {
	t.Helper()
	var apiErr *apiError.APIError
	require.ErrorAs(t, err, &apiErr)
	return apiErr.Kind
}

func TestAddUser_FirstJoinerBecomesOwner(t *testing.T) {
	sink := &sinkRecorder{}
	d := newTestDomain(t, sink, nil)

	snapshot := join(t, d, adminAuth)

	assert.Equal(t, adminAuth.UserID, snapshot.OwnerID)
	assert.Len(t, snapshot.Users, 1)
	assert.Equal(t, []EventType{EventOwnerChanged, EventUserAdded, EventTaskCompleted}, sink.typesOf())
}

func TestAddUser_SnapshotCarriesPendingState(t *testing.T) {
	d := newTestDomain(t, nil, nil)
	join(t, d, adminAuth)

	_, _, err := d.NewRows(context.Background(), adminAuth, []Row{{ID: "r1", Fields: map[string]any{"Name": "x"}}})
	require.NoError(t, err)

	snapshot := join(t, d, bobAuth)
	require.Len(t, snapshot.Rows, 1)
	assert.Equal(t, "r1", snapshot.Rows[0].Row.ID)
	assert.Equal(t, RowOpAdd, snapshot.Rows[0].Kind)
	assert.Equal(t, "", snapshot.Properties["Comment"])
}

func TestNewRows_AssignsServerKeys(t *testing.T) {
	d := newTestDomain(t, nil, nil)
	join(t, d, adminAuth)

	rows, _, err := d.NewRows(context.Background(), adminAuth, []Row{{Fields: map[string]any{"Name": "x"}}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.NotEmpty(t, rows[0].ID)
}

func TestNewRows_KeyCollision(t *testing.T) {
	d := newTestDomain(t, nil, nil)
	join(t, d, adminAuth)

	_, _, err := d.NewRows(context.Background(), adminAuth, []Row{{ID: "r1"}})
	require.NoError(t, err)

	_, _, err = d.NewRows(context.Background(), adminAuth, []Row{{ID: "r1"}})
	assert.Equal(t, apiError.KindRowAlreadyExists, kindOf(t, err))
}

func TestNewRows_CollisionWithCommittedRow(t *testing.T) {
	sink := &sinkRecorder{}
	commit := &fakeCommit{rowIDs: []string{"existing"}}
	now := time.Now().UTC()
	d := newDomain(Info{ID: NewID(), DataBaseID: "db1", ItemPath: "orders", CreatedAt: now},
		nil, []string{"existing"}, sink, commit)
	t.Cleanup(d.Shutdown)
	join(t, d, adminAuth)

	_, _, err := d.NewRows(context.Background(), adminAuth, []Row{{ID: "existing"}})
	assert.Equal(t, apiError.KindRowAlreadyExists, kindOf(t, err))
}

func TestNewRows_ReaddAfterRemovingCommittedRow(t *testing.T) {
	commit := &fakeCommit{rowIDs: []string{"r1"}}
	now := time.Now().UTC()
	d := newDomain(Info{ID: NewID(), DataBaseID: "db1", ItemPath: "orders", CreatedAt: now},
		nil, []string{"r1"}, &sinkRecorder{}, commit)
	t.Cleanup(d.Shutdown)
	join(t, d, adminAuth)

	_, _, err := d.RemoveRows(context.Background(), adminAuth, []Row{{ID: "r1"}})
	require.NoError(t, err)

	rows, _, err := d.NewRows(context.Background(), adminAuth, []Row{{ID: "r1", Fields: map[string]any{"Name": "x"}}})
	require.NoError(t, err)
	require.Len(t, rows, 1)

	// The durable row still exists, so the re-add must land as a change,
	// not as an insert that would collide with it on commit.
	snapshot := join(t, d, bobAuth)
	require.Len(t, snapshot.Rows, 1)
	assert.Equal(t, RowOpChange, snapshot.Rows[0].Kind)
	assert.Equal(t, "x", snapshot.Rows[0].Row.Fields["Name"])

	result, err := d.delete(context.Background(), adminAuth, false, NewTaskID())
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.CommittedRows)
	require.Len(t, commit.committed, 1)
	assert.Equal(t, RowOpChange, commit.committed[0].Kind)
}

func TestNewRows_AllOrNothing(t *testing.T) {
	d := newTestDomain(t, nil, nil)
	join(t, d, adminAuth)

	// Second row collides, so the first must not be applied either.
	_, _, err := d.NewRows(context.Background(), adminAuth, []Row{{ID: "a"}, {ID: "a"}})
	require.Error(t, err)

	snapshot := join(t, d, bobAuth)
	assert.Empty(t, snapshot.Rows)
}

func TestSetRows_RowNotFound(t *testing.T) {
	d := newTestDomain(t, nil, nil)
	join(t, d, adminAuth)

	_, _, err := d.SetRows(context.Background(), adminAuth, []Row{{ID: "missing", Fields: map[string]any{"Name": "x"}}})
	assert.Equal(t, apiError.KindRowNotFound, kindOf(t, err))
}

func TestSetRows_MergesIntoPendingAdd(t *testing.T) {
	d := newTestDomain(t, nil, nil)
	join(t, d, adminAuth)

	_, _, err := d.NewRows(context.Background(), adminAuth, []Row{{ID: "r1", Fields: map[string]any{"Name": "x"}}})
	require.NoError(t, err)

	rows, _, err := d.SetRows(context.Background(), adminAuth, []Row{{ID: "r1", Fields: map[string]any{"Qty": 3}}})
	require.NoError(t, err)
	assert.Equal(t, "x", rows[0].Fields["Name"])
	assert.Equal(t, 3, rows[0].Fields["Qty"])

	snapshot := join(t, d, bobAuth)
	require.Len(t, snapshot.Rows, 1)
	assert.Equal(t, RowOpAdd, snapshot.Rows[0].Kind)
}

func TestRemoveRows_AfterAddIsNetNoop(t *testing.T) {
	d := newTestDomain(t, nil, nil)
	join(t, d, adminAuth)

	_, _, err := d.NewRows(context.Background(), adminAuth, []Row{{ID: "r1"}})
	require.NoError(t, err)

	_, _, err = d.RemoveRows(context.Background(), adminAuth, []Row{{ID: "r1"}})
	require.NoError(t, err)

	snapshot := join(t, d, bobAuth)
	assert.Empty(t, snapshot.Rows)
}

func TestRemoveRows_UnknownRow(t *testing.T) {
	d := newTestDomain(t, nil, nil)
	join(t, d, adminAuth)

	_, _, err := d.RemoveRows(context.Background(), adminAuth, []Row{{ID: "missing"}})
	assert.Equal(t, apiError.KindRowNotFound, kindOf(t, err))
}

func TestSetProperty(t *testing.T) {
	sink := &sinkRecorder{}
	d := newTestDomain(t, sink, nil)
	join(t, d, adminAuth)

	_, err := d.SetProperty(context.Background(), adminAuth, "Comment", "hello")
	require.NoError(t, err)

	_, err = d.SetProperty(context.Background(), adminAuth, "Nope", 1)
	assert.Equal(t, apiError.KindPropertyNotFound, kindOf(t, err))

	types := sink.typesOf()
	assert.Contains(t, types, EventPropertyChanged)
}

func TestCommands_RequireParticipation(t *testing.T) {
	d := newTestDomain(t, nil, nil)
	join(t, d, adminAuth)

	_, _, err := d.NewRows(context.Background(), bobAuth, []Row{{ID: "r1"}})
	assert.Equal(t, apiError.KindPermissionDenied, kindOf(t, err))

	_, err = d.SetUserLocation(context.Background(), bobAuth, LocationInfo{RowID: "r1"})
	assert.Equal(t, apiError.KindPermissionDenied, kindOf(t, err))
}

func TestCommands_GuestCannotMutate(t *testing.T) {
	d := newTestDomain(t, nil, nil)
	join(t, d, adminAuth)
	join(t, d, guestAuth)

	_, _, err := d.NewRows(context.Background(), guestAuth, []Row{{ID: "r1"}})
	assert.Equal(t, apiError.KindPermissionDenied, kindOf(t, err))

	// A guest participant may still move their focus.
	_, err = d.SetUserLocation(context.Background(), guestAuth, LocationInfo{RowID: "r1", Column: "Name"})
	assert.NoError(t, err)
}

func TestBeginUserEdit_MutualExclusion(t *testing.T) {
	d := newTestDomain(t, nil, nil)
	join(t, d, adminAuth)
	join(t, d, bobAuth)

	loc := LocationInfo{RowID: "r3", Column: "Name"}
	_, err := d.BeginUserEdit(context.Background(), adminAuth, loc)
	require.NoError(t, err)

	// Same cell and whole-row both overlap.
	_, err = d.BeginUserEdit(context.Background(), bobAuth, loc)
	assert.Equal(t, apiError.KindDomainLock, kindOf(t, err))
	_, err = d.BeginUserEdit(context.Background(), bobAuth, LocationInfo{RowID: "r3"})
	assert.Equal(t, apiError.KindDomainLock, kindOf(t, err))

	// Re-acquiring one's own lock is a no-op.
	_, err = d.BeginUserEdit(context.Background(), adminAuth, loc)
	assert.NoError(t, err)

	// A different row does not contend.
	_, err = d.BeginUserEdit(context.Background(), bobAuth, LocationInfo{RowID: "r4", Column: "Name"})
	assert.NoError(t, err)

	// Release, then the other user may take it.
	_, err = d.EndUserEdit(context.Background(), adminAuth)
	require.NoError(t, err)
	_, err = d.BeginUserEdit(context.Background(), bobAuth, loc)
	assert.NoError(t, err)
}

func TestSetOwner(t *testing.T) {
	sink := &sinkRecorder{}
	d := newTestDomain(t, sink, nil)
	join(t, d, adminAuth)
	join(t, d, bobAuth)

	// bob is not the owner and not an admin
	_, err := d.SetOwner(context.Background(), bobAuth, bobAuth.UserID)
	assert.Equal(t, apiError.KindPermissionDenied, kindOf(t, err))

	_, err = d.SetOwner(context.Background(), adminAuth, bobAuth.UserID)
	require.NoError(t, err)

	snapshot := join(t, d, guestAuth)
	assert.Equal(t, bobAuth.UserID, snapshot.OwnerID)
}

func TestOwnerDeparture_TransfersBeforeRemoval(t *testing.T) {
	sink := &sinkRecorder{}
	d := newTestDomain(t, sink, nil)
	join(t, d, adminAuth)
	join(t, d, bobAuth)

	_, err := d.RemoveUser(context.Background(), adminAuth)
	require.NoError(t, err)

	types := sink.typesOf()
	ownerIdx, removedIdx := -1, -1
	for i, typ := range types {
		// Skip the join-time owner event: the transfer is the last
		// OWNER_CHANGED published.
		if typ == EventOwnerChanged {
			ownerIdx = i
		}
		if typ == EventUserRemoved {
			removedIdx = i
		}
	}
	require.NotEqual(t, -1, ownerIdx)
	require.NotEqual(t, -1, removedIdx)
	assert.Less(t, ownerIdx, removedIdx)

	snapshot := join(t, d, guestAuth)
	assert.Equal(t, bobAuth.UserID, snapshot.OwnerID)
}

func TestKick_ReleasesLocksAndRemoves(t *testing.T) {
	sink := &sinkRecorder{}
	d := newTestDomain(t, sink, nil)
	join(t, d, adminAuth)
	join(t, d, bobAuth)

	loc := LocationInfo{RowID: "r1", Column: "Name"}
	_, err := d.BeginUserEdit(context.Background(), bobAuth, loc)
	require.NoError(t, err)

	_, err = d.Kick(context.Background(), adminAuth, bobAuth.UserID, "bye")
	require.NoError(t, err)

	// bob's lock is gone: admin can take it now.
	_, err = d.BeginUserEdit(context.Background(), adminAuth, loc)
	assert.NoError(t, err)

	var removed *Event
	for _, ev := range sink.all() {
		if ev.Type == EventUserRemoved {
			ev := ev
			removed = &ev
		}
	}
	require.NotNil(t, removed)
	payload := removed.Payload.(UserPayload)
	assert.Equal(t, ReasonKicked, payload.Reason)
	assert.Equal(t, "bye", payload.Comment)
}

func TestKick_RequiresOwnerOrAdmin(t *testing.T) {
	d := newTestDomain(t, nil, nil)
	join(t, d, adminAuth)
	join(t, d, bobAuth)

	_, err := d.Kick(context.Background(), bobAuth, adminAuth.UserID, "")
	assert.Equal(t, apiError.KindPermissionDenied, kindOf(t, err))
}

func TestDrop_NotAParticipantIsNoop(t *testing.T) {
	d := newTestDomain(t, nil, nil)
	join(t, d, adminAuth)

	assert.NoError(t, d.Drop(context.Background(), 999, ReasonClosed))
}

func TestDelete_BlockedByForeignLock(t *testing.T) {
	commit := &fakeCommit{}
	d := newTestDomain(t, nil, commit)
	join(t, d, adminAuth)
	join(t, d, bobAuth)

	_, err := d.BeginUserEdit(context.Background(), bobAuth, LocationInfo{RowID: "r1"})
	require.NoError(t, err)

	_, err = d.delete(context.Background(), adminAuth, false, NewTaskID())
	assert.Equal(t, apiError.KindDomainEditing, kindOf(t, err))
	assert.Empty(t, commit.committed)

	// The domain must still be alive and editable.
	meta, err := d.Metadata(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateCreated, meta.State)
}

func TestDelete_CommitsPendingOps(t *testing.T) {
	commit := &fakeCommit{}
	d := newTestDomain(t, nil, commit)
	join(t, d, adminAuth)

	_, _, err := d.NewRows(context.Background(), adminAuth, []Row{{ID: "r1", Fields: map[string]any{"Name": "x"}}})
	require.NoError(t, err)

	result, err := d.delete(context.Background(), adminAuth, false, NewTaskID())
	require.NoError(t, err)
	assert.False(t, result.Canceled)
	assert.Equal(t, int64(1), result.CommittedRows)
	require.Len(t, commit.committed, 1)
	assert.Equal(t, RowOpAdd, commit.committed[0].Kind)

	// Once deleted every further operation fails.
	_, _, err = d.NewRows(context.Background(), adminAuth, []Row{{ID: "r2"}})
	assert.Equal(t, apiError.KindDomainNotFound, kindOf(t, err))
}

func TestDelete_CommitFailureLeavesStateUntouched(t *testing.T) {
	commit := &fakeCommit{err: assert.AnError}
	d := newTestDomain(t, nil, commit)
	join(t, d, adminAuth)

	_, _, err := d.NewRows(context.Background(), adminAuth, []Row{{ID: "r1"}})
	require.NoError(t, err)

	_, err = d.delete(context.Background(), adminAuth, false, NewTaskID())
	require.Error(t, err)

	snapshot := join(t, d, bobAuth)
	assert.Len(t, snapshot.Rows, 1)

	meta, err := d.Metadata(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateCreated, meta.State)
}

func TestDelete_ForceRequiresAdmin(t *testing.T) {
	commit := &fakeCommit{}
	d := newTestDomain(t, nil, commit)
	join(t, d, adminAuth)
	join(t, d, bobAuth)
	_, err := d.SetOwner(context.Background(), adminAuth, bobAuth.UserID)
	require.NoError(t, err)

	// bob owns the domain but force discard stays admin-only.
	_, err = d.delete(context.Background(), bobAuth, true, NewTaskID())
	assert.Equal(t, apiError.KindPermissionDenied, kindOf(t, err))

	result, err := d.delete(context.Background(), adminAuth, true, NewTaskID())
	require.NoError(t, err)
	assert.True(t, result.Canceled)
	assert.Empty(t, commit.committed)
}

func TestConcurrentRowCommands_Serialize(t *testing.T) {
	d := newTestDomain(t, nil, nil)
	join(t, d, adminAuth)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				id := string(rune('a'+n)) + "-" + string(rune('0'+j))
				_, _, err := d.NewRows(context.Background(), adminAuth, []Row{{ID: id}})
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	snapshot := join(t, d, bobAuth)
	assert.Len(t, snapshot.Rows, 200)
}
