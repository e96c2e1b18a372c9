package domain

import (
	"context"
	"log"
	"time"

	"collaborative-table-editor/auth"
	"collaborative-table-editor/internal/dispatcher"
	"collaborative-table-editor/internal/errors"
	"collaborative-table-editor/internal/worker"
)

// CreateRequest describes the edit session a client wants to open.
type CreateRequest struct {
	DataBaseID   string
	Type         string
	ItemPath     string
	CategoryPath string
	Properties   map[string]any
}

// Context is the process-wide registry of live Domains. The registry map is
// guarded by the Context's own dispatcher, distinct from any Domain's.
// Cross-dispatcher work always flows Context -> Domain, never the reverse,
// so hand-offs cannot deadlock.
//
// The Context is also the single arbiter for deletion and owner-departure
// races: whatever reaches its dispatcher last wins.
type Context struct {
	dispatcher  *dispatcher.Dispatcher
	broadcaster *Broadcaster
	commit      CommitSink
	pool        *worker.Pool

	domains map[ID]*Domain
}

// NewContext builds the registry. The commit sink is where finished
// sessions land; the pool runs retirement work off the dispatchers.
func NewContext(commit CommitSink, pool *worker.Pool, queueSize int) *Context {
	return &Context{
		dispatcher:  dispatcher.New("domain-context"),
		broadcaster: NewBroadcaster(queueSize),
		commit:      commit,
		pool:        pool,
		domains:     map[ID]*Domain{},
	}
}

// Subscribe registers a peer for event callbacks and returns the snapshot
// of current domain metadata so late joiners converge without history.
func (c *Context) Subscribe(ctx context.Context, token string) (*Subscription, []Metadata, error) {
	sub := c.broadcaster.Subscribe(token)
	snapshot, err := c.Metadata(ctx)
	if err != nil {
		c.broadcaster.Unsubscribe(token)
		return nil, nil, err
	}
	return sub, snapshot, nil
}

// Unsubscribe drops a peer's callback queue.
func (c *Context) Unsubscribe(token string) {
	c.broadcaster.Unsubscribe(token)
}

// UnsubscribeIf drops the queue only if sub is still the one registered for
// the token, so a stale teardown cannot close a reconnected peer's queue.
func (c *Context) UnsubscribeIf(token string, sub *Subscription) {
	c.broadcaster.UnsubscribeIf(token, sub)
}

// Create opens a new Domain for an item. The creator joins as owner. The
// domain only becomes reachable once the registry insert completed, so no
// client command can observe a half-created session.
func (c *Context) Create(ctx context.Context, a auth.Authentication, req CreateRequest) (Metadata, string, error) {
	taskID := NewTaskID()
	if !a.IsAtLeast(auth.Member) {
		return Metadata{}, taskID, errors.PermissionDenied("Creating a domain requires member authority")
	}
	if req.DataBaseID == "" || req.ItemPath == "" {
		return Metadata{}, taskID, errors.ItemNotFound(req.ItemPath)
	}

	// Committed keys are loaded before the domain exists, off the registry
	// dispatcher, so lookups stay fast.
	committedIDs, err := c.commit.CommittedRowIDs(ctx, req.DataBaseID, req.ItemPath)
	if err != nil {
		return Metadata{}, taskID, errors.Internal(err)
	}

	now := time.Now().UTC()
	info := Info{
		ID:           NewID(),
		DataBaseID:   req.DataBaseID,
		Type:         req.Type,
		ItemPath:     req.ItemPath,
		CategoryPath: req.CategoryPath,
		CreatorID:    a.UserID,
		CreatedAt:    now,
		ModifierID:   a.UserID,
		ModifiedAt:   now,
	}

	meta, err := dispatcher.Result(ctx, c.dispatcher, func(ctx context.Context) (Metadata, error) {
		// One edit session per item: a second domain over the same table
		// would collide on commit.
		for _, existing := range c.domains {
			if existing.info.DataBaseID == req.DataBaseID && existing.info.ItemPath == req.ItemPath {
				return Metadata{}, errors.Conflict("Item is already being edited", nil).
					WithDetail("item_path", req.ItemPath)
			}
		}

		d := newDomain(info, req.Properties, committedIDs, c.broadcaster, c.commit)
		// The creator joins during construction, before the domain is
		// visible, so no dispatch hand-off is needed here.
		d.users[a.UserID] = &User{
			ID:       a.UserID,
			Name:     a.UserName,
			State:    UserOnline,
			JoinedAt: now,
		}
		d.joinOrder = append(d.joinOrder, a.UserID)
		d.ownerID = a.UserID

		c.domains[info.ID] = d
		meta := d.metadata()
		c.broadcaster.Publish(Event{
			Type:     EventDomainsCreated,
			DomainID: info.ID,
			TaskID:   taskID,
			Payload:  DomainsCreatedPayload{Domains: []Metadata{meta}},
		})
		return meta, nil
	})
	return meta, taskID, err
}

// Get looks a Domain up by ID.
func (c *Context) Get(ctx context.Context, id ID) (*Domain, error) {
	return dispatcher.Result(ctx, c.dispatcher, func(ctx context.Context) (*Domain, error) {
		d, ok := c.domains[id]
		if !ok {
			return nil, errors.DomainNotFound(string(id))
		}
		return d, nil
	})
}

// Delete finalizes a Domain and removes it from the registry. The domain
// commits (or discards, when forced) on its own dispatcher first; only a
// successful finalization reaches the registry removal and the broadcast.
func (c *Context) Delete(ctx context.Context, a auth.Authentication, id ID, force bool) (DeleteResult, string, error) {
	taskID := NewTaskID()
	d, err := c.Get(ctx, id)
	if err != nil {
		return DeleteResult{}, taskID, err
	}

	result, err := d.delete(ctx, a, force, taskID)
	if err != nil {
		return DeleteResult{}, taskID, err
	}

	err = c.dispatcher.Invoke(ctx, func(ctx context.Context) error {
		delete(c.domains, id)
		c.broadcaster.Publish(Event{
			Type:     EventDomainsDeleted,
			DomainID: id,
			TaskID:   taskID,
			Payload: DomainsDeletedPayload{
				Domains: []DeletedDomain{{DomainID: id, Canceled: result.Canceled, Result: result}},
			},
		})
		c.broadcaster.Publish(Event{Type: EventTaskCompleted, DomainID: id, TaskID: taskID})
		return nil
	})
	if err != nil {
		return DeleteResult{}, taskID, err
	}

	c.pool.Submit(func(ctx context.Context) error {
		d.Shutdown()
		return nil
	})
	return result, taskID, nil
}

// Metadata returns the summary of every live domain.
func (c *Context) Metadata(ctx context.Context) ([]Metadata, error) {
	domains, err := c.list(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]Metadata, 0, len(domains))
	for _, d := range domains {
		meta, err := d.Metadata(ctx)
		if err != nil {
			// Deleted between listing and query; skip it.
			continue
		}
		result = append(result, meta)
	}
	return result, nil
}

// MetadataByDataBase filters domain metadata to one logical database.
func (c *Context) MetadataByDataBase(ctx context.Context, dataBaseID string) ([]Metadata, error) {
	all, err := c.Metadata(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]Metadata, 0, len(all))
	for _, meta := range all {
		if meta.Info.DataBaseID == dataBaseID {
			result = append(result, meta)
		}
	}
	return result, nil
}

func (c *Context) list(ctx context.Context) ([]*Domain, error) {
	return dispatcher.Result(ctx, c.dispatcher, func(ctx context.Context) ([]*Domain, error) {
		domains := make([]*Domain, 0, len(c.domains))
		for _, d := range c.domains {
			domains = append(domains, d)
		}
		return domains, nil
	})
}

// DropUser removes a user from every domain they participate in, best
// effort. Used for connection loss and session expiry.
func (c *Context) DropUser(userID uint64, reason RemoveReason) {
	ctx := context.Background()
	domains, err := c.list(ctx)
	if err != nil {
		log.Printf("[DOMAIN] drop user %d: %v", userID, err)
		return
	}
	for _, d := range domains {
		d := d
		c.pool.Submit(func(ctx context.Context) error {
			err := d.Drop(ctx, userID, reason)
			if err != nil {
				// The domain may have been finalized meanwhile.
				log.Printf("[DOMAIN] drop user %d from %s: %v", userID, d.ID(), err)
			}
			return nil
		})
	}
}

// SubscriberCount reports live event subscribers.
func (c *Context) SubscriberCount() int {
	return c.broadcaster.Count()
}

// Shutdown tears down every domain and then the registry dispatcher.
func (c *Context) Shutdown() {
	domains, err := c.list(context.Background())
	if err == nil {
		for _, d := range domains {
			d.Shutdown()
		}
	}
	c.dispatcher.Shutdown()
}
