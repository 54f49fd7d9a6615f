package model

import "github.com/uptrace/bun"

type Location struct {
	bun.BaseModel `bun:"table:locations"`

	ID   string `bun:"id,pk,notnull,unique"`
	Name string `bun:"name,notnull,unique"`
	// inactive locations are hidden from check-in but historical
	// sessions referencing them stay valid
	Active bool `bun:"active,notnull,default:true"`
}
