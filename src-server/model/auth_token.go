package model

import (
	"time"

	"github.com/uptrace/bun"
)

type AuthTokenPurposeType string

const (
	// one-time key handed out by the bot, exchanged for a session
	AUTH_TOKEN_PURPOSE_TEMP = AuthTokenPurposeType("temp")
	// backs the web client's session-secret cookie
	AUTH_TOKEN_PURPOSE_SESSION = AuthTokenPurposeType("session")
)

const (
	AuthTokenTempExpire    = 5 * time.Minute
	AuthTokenSessionExpire = 30 * 24 * time.Hour
)

type AuthToken struct {
	bun.BaseModel `bun:"table:auth_tokens"`

	Secret    string               `bun:"secret,pk,notnull,unique"`
	Purpose   AuthTokenPurposeType `bun:"purpose,notnull,type:varchar"`
	MemberID  string               `bun:"member_id,notnull"`
	CreatedAt time.Time            `bun:"created_at,notnull"`
}

func (t *AuthToken) Expired(now time.Time) bool {
	switch t.Purpose {
	case AUTH_TOKEN_PURPOSE_TEMP:
		return t.CreatedAt.Add(AuthTokenTempExpire).Before(now)
	default:
		return t.CreatedAt.Add(AuthTokenSessionExpire).Before(now)
	}
}
