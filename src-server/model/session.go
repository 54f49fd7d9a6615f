package model

import (
	"time"

	"github.com/uptrace/bun"
)

// One open-to-close interval of a member being present at a location.
// A nil CheckOutAt means the session is still open; application logic
// keeps at most one open session per member.
type Session struct {
	bun.BaseModel `bun:"table:sessions"`

	ID         string     `bun:"id,pk,notnull,unique"`
	MemberID   string     `bun:"member_id,notnull"`
	LocationID string     `bun:"location_id,notnull"`
	CheckInAt  time.Time  `bun:"check_in_at,notnull"`
	CheckOutAt *time.Time `bun:"check_out_at"`
	Notes      string     `bun:"notes"`

	Member   *Member   `bun:"rel:belongs-to,join:member_id=id"`
	Location *Location `bun:"rel:belongs-to,join:location_id=id"`
}

func (s *Session) IsOpen() bool {
	return s.CheckOutAt == nil
}
