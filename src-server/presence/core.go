// Package presence is the presence session engine: the open/closed
// session state machine, the in-memory active-session cache, the
// autokick sweeper, and the stream fan-out hub. HTTP routes and the
// Discord handlers are thin consumers of this package.
package presence

import (
	"tapboard/src-server/utils"

	"github.com/uptrace/bun"
)

// Core bundles the presence components so they can be wired once in
// main and handed to routes and handlers together.
type Core struct {
	Store    Store
	Cache    *Cache
	Hub      *Hub
	Engine   *Engine
	Autokick *Autokick
}

func NewCore(db *bun.DB, metric *utils.Metric) *Core {
	store := NewStore(db)
	cache := NewCache(store)
	hub := NewHub(cache)
	return &Core{
		Store:    store,
		Cache:    cache,
		Hub:      hub,
		Engine:   NewEngine(store, cache, hub),
		Autokick: NewAutokick(store, cache, hub, metric),
	}
}
