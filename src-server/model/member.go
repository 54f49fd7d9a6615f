package model

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

type Member struct {
	bun.BaseModel `bun:"table:members"`

	// stable external identity, the Discord user ID
	ID        string    `bun:"id,pk,notnull,unique"`
	Handle    string    `bun:"handle,notnull"`
	AvatarUrl string    `bun:"avatar_url"`
	IsExec    bool      `bun:"is_exec,notnull,default:false"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}

// Creates the member on first authentication, refreshes the display
// fields afterwards. IsExec is only ever changed by hand.
func (m *Member) Upsert(ctx context.Context, db bun.IDB) error {
	if m.ID == "" {
		return fmt.Errorf("member id is empty")
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}

	_, err := db.
		NewInsert().
		Model(m).
		On("CONFLICT (id) DO UPDATE").
		Set("handle = EXCLUDED.handle").
		Set("avatar_url = EXCLUDED.avatar_url").
		Exec(ctx)

	return err
}
