package presence

import (
	"context"
	"sync"
	"tapboard/src-server/model"
	"time"

	"github.com/google/uuid"
)

// Double-scan guard for the tap flow.
const DebounceWindow = 3000 * time.Millisecond

// Engine implements the per-member presence state machine: OUT <->
// IN, with at most one open session per member. The check-then-act
// sequence runs under a per-member lock so two concurrent requests
// for the same member can't both pass the "no open session" check.
type Engine struct {
	store Store
	cache *Cache
	hub   *Hub

	now func() time.Time

	locksMu     sync.Mutex
	memberLocks map[string]*sync.Mutex
}

type TapResult struct {
	Debounced bool
	// the resulting state: unchanged on a debounced tap, the
	// post-toggle state otherwise
	IsIn     bool
	Location LocationLite
	Since    time.Time
	Session  *model.Session
}

func NewEngine(store Store, cache *Cache, hub *Hub) *Engine {
	return &Engine{
		store:       store,
		cache:       cache,
		hub:         hub,
		now:         time.Now,
		memberLocks: make(map[string]*sync.Mutex),
	}
}

func (e *Engine) lockMember(memberID string) func() {
	e.locksMu.Lock()
	lock, ok := e.memberLocks[memberID]
	if !ok {
		lock = &sync.Mutex{}
		e.memberLocks[memberID] = lock
	}
	e.locksMu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// Creates an open session for the member at the location. The
// location must exist but may be inactive (admin corrections); the
// tap flow resolves active locations only before calling in here.
func (e *Engine) CheckIn(ctx context.Context, memberID, locationID, notes string) (*model.Session, error) {
	if memberID == "" || locationID == "" {
		return nil, &ValidationError{Msg: "memberId/locationId required"}
	}

	exists, err := e.store.MemberExists(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrMemberNotFound
	}
	if _, err := e.store.LocationByID(ctx, locationID); err != nil {
		return nil, err
	}

	unlock := e.lockMember(memberID)
	defer unlock()
	return e.checkInLocked(ctx, memberID, locationID, notes)
}

func (e *Engine) checkInLocked(ctx context.Context, memberID, locationID, notes string) (*model.Session, error) {
	open, err := e.store.OpenSessionForMember(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if open != nil {
		return nil, &AlreadyCheckedInError{SessionID: open.ID}
	}

	sess := &model.Session{
		ID:         uuid.NewString(),
		MemberID:   memberID,
		LocationID: locationID,
		CheckInAt:  e.now(),
		Notes:      notes,
	}
	if err := e.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}

	// reload with member/location for the denormalized cache entry
	full, err := e.store.SessionByID(ctx, sess.ID)
	if err != nil {
		return nil, err
	}

	e.cache.Upsert(full)
	e.hub.Publish()
	return full, nil
}

// Closes the member's open session.
func (e *Engine) CheckOut(ctx context.Context, memberID string) (*model.Session, error) {
	if memberID == "" {
		return nil, &ValidationError{Msg: "memberId required"}
	}

	unlock := e.lockMember(memberID)
	defer unlock()
	return e.checkOutLocked(ctx, memberID)
}

func (e *Engine) checkOutLocked(ctx context.Context, memberID string) (*model.Session, error) {
	open, err := e.store.OpenSessionForMember(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if open == nil {
		return nil, ErrNoOpenSession
	}

	closed, err := e.store.CloseSession(ctx, open.ID, e.now())
	if err != nil {
		return nil, err
	}

	e.cache.Upsert(closed)
	e.hub.Publish()
	return closed, nil
}

// The toggle entry point behind the QR/NFC flows. locRef is a
// location id or display name; only active locations resolve.
// A tap within the debounce window of the member's last event is a
// successful no-op: no store mutation, no broadcast.
func (e *Engine) Tap(ctx context.Context, memberID, locRef string) (*TapResult, error) {
	if locRef == "" {
		return nil, ErrLocationNotFound
	}
	location, err := e.store.ActiveLocationByRef(ctx, locRef)
	if err != nil {
		return nil, err
	}

	exists, err := e.store.MemberExists(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrMemberNotFound
	}

	unlock := e.lockMember(memberID)
	defer unlock()

	now := e.now()
	open, err := e.store.OpenSessionForMember(ctx, memberID)
	if err != nil {
		return nil, err
	}

	lastEventAt := func() *time.Time {
		if open != nil {
			return &open.CheckInAt
		}
		last, err := e.store.LastCheckOutAt(ctx, memberID)
		if err != nil {
			return nil
		}
		return last
	}()

	locationLite := LocationLite{ID: location.ID, Name: location.Name}

	if lastEventAt != nil && now.Sub(*lastEventAt) < DebounceWindow {
		return &TapResult{
			Debounced: true,
			IsIn:      open != nil,
			Location:  locationLite,
			Since:     now,
			Session:   open,
		}, nil
	}

	if open != nil {
		closed, err := e.checkOutLocked(ctx, memberID)
		if err != nil {
			return nil, err
		}
		return &TapResult{
			IsIn:     false,
			Location: locationLite,
			Since:    now,
			Session:  closed,
		}, nil
	}

	created, err := e.checkInLocked(ctx, memberID, location.ID, "")
	if err != nil {
		return nil, err
	}
	return &TapResult{
		IsIn:     true,
		Location: locationLite,
		Since:    now,
		Session:  created,
	}, nil
}

// The member's current state; session is nil when OUT.
func (e *Engine) Status(ctx context.Context, memberID string) (*model.Session, error) {
	return e.store.OpenSessionForMember(ctx, memberID)
}
