package presence

import (
	"context"
	"sort"
	"sync"
	"tapboard/src-server/model"
	"time"
)

type MemberLite struct {
	ID        string `json:"id"`
	Handle    string `json:"handle"`
	AvatarUrl string `json:"avatarUrl"`
	IsExec    bool   `json:"isExec"`
}

type LocationLite struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// One open session, denormalized with the member and location display
// fields the dashboard needs.
type ActiveSession struct {
	ID         string       `json:"id"`
	MemberID   string       `json:"memberId"`
	LocationID string       `json:"locationId"`
	CheckInAt  time.Time    `json:"since"`
	Notes      string       `json:"note,omitempty"`
	Member     MemberLite   `json:"member"`
	Location   LocationLite `json:"location"`
}

// Cache holds the full set of currently-open sessions in memory. It is
// a rebuildable projection of the store, never a second source of
// truth: mutations write the store first, then patch the cache in the
// same logical step.
type Cache struct {
	store Store

	mu       sync.RWMutex
	sessions map[string]ActiveSession
	hydrated bool
}

func NewCache(store Store) *Cache {
	return &Cache{
		store:    store,
		sessions: make(map[string]ActiveSession),
	}
}

func activeSessionFromModel(sess *model.Session) ActiveSession {
	record := ActiveSession{
		ID:         sess.ID,
		MemberID:   sess.MemberID,
		LocationID: sess.LocationID,
		CheckInAt:  sess.CheckInAt,
		Notes:      sess.Notes,
		Member:     MemberLite{ID: sess.MemberID, Handle: sess.MemberID},
		Location:   LocationLite{ID: sess.LocationID},
	}
	if sess.Member != nil {
		record.Member = MemberLite{
			ID:        sess.Member.ID,
			Handle:    sess.Member.Handle,
			AvatarUrl: sess.Member.AvatarUrl,
			IsExec:    sess.Member.IsExec,
		}
	}
	if sess.Location != nil {
		record.Location = LocationLite{
			ID:   sess.Location.ID,
			Name: sess.Location.Name,
		}
	}
	return record
}

func (c *Cache) hydrate(ctx context.Context) error {
	sessionModels, err := c.store.OpenSessions(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions = make(map[string]ActiveSession, len(sessionModels))
	for i := range sessionModels {
		c.sessions[sessionModels[i].ID] = activeSessionFromModel(&sessionModels[i])
	}
	c.hydrated = true
	return nil
}

// Full load from the store on first call, cheap no-op afterwards.
func (c *Cache) EnsureHydrated(ctx context.Context) error {
	c.mu.RLock()
	hydrated := c.hydrated
	c.mu.RUnlock()
	if hydrated {
		return nil
	}
	return c.hydrate(ctx)
}

// Unconditional full reload, used after bulk operations like an
// autokick sweep.
func (c *Cache) Refresh(ctx context.Context) error {
	return c.hydrate(ctx)
}

// Incremental fast-path after a single-session mutation: inserts or
// updates while the session is open, evicts once it has a checkout.
func (c *Cache) Upsert(sess *model.Session) {
	if sess == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if sess.CheckOutAt != nil {
		delete(c.sessions, sess.ID)
		return
	}
	c.sessions[sess.ID] = activeSessionFromModel(sess)
}

func (c *Cache) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, id)
}

// Current open-session list, most recent check-in first. Pure read.
func (c *Cache) Snapshot() []ActiveSession {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snapshot := make([]ActiveSession, 0, len(c.sessions))
	for _, record := range c.sessions {
		snapshot = append(snapshot, record)
	}
	sort.Slice(snapshot, func(i, j int) bool {
		return snapshot[i].CheckInAt.After(snapshot[j].CheckInAt)
	})
	return snapshot
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sessions)
}
