package model

import (
	"context"

	"github.com/uptrace/bun"
)

const SETTING_AUTOKICK_MINUTES = "autokickMinutes"

type Setting struct {
	bun.BaseModel `bun:"table:settings"`

	Key      string `bun:"key,pk,notnull,unique"`
	ValueInt int    `bun:"value_int,notnull"`
}

func (s *Setting) Upsert(ctx context.Context, db bun.IDB) error {
	_, err := db.
		NewInsert().
		Model(s).
		On("CONFLICT (key) DO UPDATE").
		Set("value_int = EXCLUDED.value_int").
		Exec(ctx)

	return err
}
