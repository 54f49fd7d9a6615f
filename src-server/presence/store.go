package presence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"tapboard/src-server/model"
	"time"

	"github.com/uptrace/bun"
)

// Store is the session-store adapter: everything the presence core
// needs from persistent storage, kept narrow so tests can run it
// against an in-memory database.
type Store interface {
	MemberExists(ctx context.Context, memberID string) (bool, error)
	Member(ctx context.Context, memberID string) (*model.Member, error)

	ActiveLocations(ctx context.Context) ([]model.Location, error)
	// resolves an id OR a display name to an active location
	ActiveLocationByRef(ctx context.Context, ref string) (*model.Location, error)
	LocationByID(ctx context.Context, id string) (*model.Location, error)

	// nil when the member has no open session
	OpenSessionForMember(ctx context.Context, memberID string) (*model.Session, error)
	// most recent checkout timestamp across the member's history,
	// nil when they have never checked out
	LastCheckOutAt(ctx context.Context, memberID string) (*time.Time, error)
	CreateSession(ctx context.Context, sess *model.Session) error
	CloseSession(ctx context.Context, id string, at time.Time) (*model.Session, error)
	SessionByID(ctx context.Context, id string) (*model.Session, error)

	// all open sessions joined with member/location, check-in desc
	OpenSessions(ctx context.Context) ([]model.Session, error)
	OpenSessionsOlderThan(ctx context.Context, cutoff time.Time) ([]model.Session, error)

	// sessions overlapping [from, to); empty memberID means all members
	SessionsOverlapping(ctx context.Context, memberID string, from, to time.Time) ([]model.Session, error)

	GetSettingInt(ctx context.Context, key string) (int, bool, error)
	UpsertSettingInt(ctx context.Context, key string, value int) error
}

type bunStore struct {
	db *bun.DB
}

func NewStore(db *bun.DB) Store {
	return &bunStore{db: db}
}

func (s *bunStore) MemberExists(ctx context.Context, memberID string) (bool, error) {
	return s.db.
		NewSelect().
		Model((*model.Member)(nil)).
		Where("id = ?", memberID).
		Exists(ctx)
}

func (s *bunStore) Member(ctx context.Context, memberID string) (*model.Member, error) {
	memberModel := new(model.Member)
	if err := s.db.
		NewSelect().
		Model(memberModel).
		Where("id = ?", memberID).
		Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMemberNotFound
		}
		return nil, fmt.Errorf("Member: %w", err)
	}
	return memberModel, nil
}

func (s *bunStore) ActiveLocations(ctx context.Context) ([]model.Location, error) {
	locationModels := make([]model.Location, 0)
	if err := s.db.
		NewSelect().
		Model(&locationModels).
		Where("active = ?", true).
		Order("name ASC").
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("ActiveLocations: %w", err)
	}
	return locationModels, nil
}

func (s *bunStore) ActiveLocationByRef(ctx context.Context, ref string) (*model.Location, error) {
	locationModel := new(model.Location)
	if err := s.db.
		NewSelect().
		Model(locationModel).
		Where("active = ?", true).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("id = ?", ref).WhereOr("name = ?", ref)
		}).
		Limit(1).
		Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrLocationNotFound
		}
		return nil, fmt.Errorf("ActiveLocationByRef: %w", err)
	}
	return locationModel, nil
}

func (s *bunStore) LocationByID(ctx context.Context, id string) (*model.Location, error) {
	locationModel := new(model.Location)
	if err := s.db.
		NewSelect().
		Model(locationModel).
		Where("id = ?", id).
		Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrLocationNotFound
		}
		return nil, fmt.Errorf("LocationByID: %w", err)
	}
	return locationModel, nil
}

func (s *bunStore) OpenSessionForMember(ctx context.Context, memberID string) (*model.Session, error) {
	sessionModel := new(model.Session)
	if err := s.db.
		NewSelect().
		Model(sessionModel).
		Where("member_id = ?", memberID).
		Where("check_out_at IS NULL").
		Order("check_in_at DESC").
		Limit(1).
		Relation("Member").
		Relation("Location").
		Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("OpenSessionForMember: %w", err)
	}
	return sessionModel, nil
}

func (s *bunStore) LastCheckOutAt(ctx context.Context, memberID string) (*time.Time, error) {
	sessionModel := new(model.Session)
	if err := s.db.
		NewSelect().
		Model(sessionModel).
		Where("member_id = ?", memberID).
		Where("check_out_at IS NOT NULL").
		Order("check_out_at DESC").
		Limit(1).
		Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("LastCheckOutAt: %w", err)
	}
	return sessionModel.CheckOutAt, nil
}

func (s *bunStore) CreateSession(ctx context.Context, sess *model.Session) error {
	if _, err := s.db.
		NewInsert().
		Model(sess).
		Exec(ctx); err != nil {
		return fmt.Errorf("CreateSession: %w", err)
	}
	return nil
}

func (s *bunStore) CloseSession(ctx context.Context, id string, at time.Time) (*model.Session, error) {
	if _, err := s.db.
		NewUpdate().
		Model((*model.Session)(nil)).
		Set("check_out_at = ?", at).
		Where("id = ?", id).
		Exec(ctx); err != nil {
		return nil, fmt.Errorf("CloseSession: %w", err)
	}
	return s.SessionByID(ctx, id)
}

func (s *bunStore) SessionByID(ctx context.Context, id string) (*model.Session, error) {
	sessionModel := new(model.Session)
	if err := s.db.
		NewSelect().
		Model(sessionModel).
		Where("session.id = ?", id).
		Relation("Member").
		Relation("Location").
		Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("SessionByID: %w", err)
	}
	return sessionModel, nil
}

func (s *bunStore) OpenSessions(ctx context.Context) ([]model.Session, error) {
	sessionModels := make([]model.Session, 0)
	if err := s.db.
		NewSelect().
		Model(&sessionModels).
		Where("check_out_at IS NULL").
		Order("check_in_at DESC").
		Relation("Member").
		Relation("Location").
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("OpenSessions: %w", err)
	}
	return sessionModels, nil
}

func (s *bunStore) OpenSessionsOlderThan(ctx context.Context, cutoff time.Time) ([]model.Session, error) {
	sessionModels := make([]model.Session, 0)
	if err := s.db.
		NewSelect().
		Model(&sessionModels).
		Where("check_out_at IS NULL").
		Where("check_in_at < ?", cutoff).
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("OpenSessionsOlderThan: %w", err)
	}
	return sessionModels, nil
}

func (s *bunStore) SessionsOverlapping(ctx context.Context, memberID string, from, to time.Time) ([]model.Session, error) {
	sessionModels := make([]model.Session, 0)
	query := s.db.
		NewSelect().
		Model(&sessionModels).
		Where("check_in_at < ?", to).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("check_out_at IS NULL").WhereOr("check_out_at > ?", from)
		}).
		Relation("Member")
	if memberID != "" {
		query = query.Where("member_id = ?", memberID)
	}

	if err := query.Scan(ctx); err != nil {
		return nil, fmt.Errorf("SessionsOverlapping: %w", err)
	}
	return sessionModels, nil
}

func (s *bunStore) GetSettingInt(ctx context.Context, key string) (int, bool, error) {
	settingModel := new(model.Setting)
	if err := s.db.
		NewSelect().
		Model(settingModel).
		Where("key = ?", key).
		Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("GetSettingInt: %w", err)
	}
	return settingModel.ValueInt, true, nil
}

func (s *bunStore) UpsertSettingInt(ctx context.Context, key string, value int) error {
	setting := &model.Setting{Key: key, ValueInt: value}
	return setting.Upsert(ctx, s.db)
}
