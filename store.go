package main

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// SessionStore owns the in-memory sessions. A game is loaded from storage the
// first time someone uses it, kept resident while any reference is open, and
// persisted and evicted when the last reference closes. At most one in-memory
// copy of a game exists at a time, and all use of it is serialized by its
// loader's mutex.
type SessionStore struct {
	mu      sync.Mutex
	cfg     *Config
	storage *GameStorage
	loaders map[string]*gameLoader
}

func newSessionStore(cfg *Config, storage *GameStorage) *SessionStore {
	return &SessionStore{
		cfg:     cfg,
		storage: storage,
		loaders: make(map[string]*gameLoader),
	}
}

// Acquire returns a reference to the game's loader, creating the bookkeeping
// if needed. It always succeeds, even for ids no game was ever stored under;
// Use reports those as a nil game. Every Acquire must be paired with exactly
// one Release.
func (st *SessionStore) Acquire(gameID string) *GameRef {
	st.mu.Lock()
	defer st.mu.Unlock()

	loader, ok := st.loaders[gameID]
	if !ok {
		loader = &gameLoader{gameID: gameID, store: st}
		st.loaders[gameID] = loader
	}
	logf(st.cfg, "STORE: Access to loader of game %s (total loaders: %d)", gameID, len(st.loaders))

	loader.refCount.Add(1)
	return &GameRef{loader: loader}
}

func (st *SessionStore) removeLoaderIfUnused(gameID string) {
	st.mu.Lock()
	defer st.mu.Unlock()

	loader, ok := st.loaders[gameID]
	if ok && loader.refCount.Load() == 0 {
		delete(st.loaders, gameID)
		logf(st.cfg, "STORE: Removed unused loader for game %s (total loaders: %d)", gameID, len(st.loaders))
	}
}

// Shutdown persists any sessions still resident. Only meaningful once no new
// references are being handed out.
func (st *SessionStore) Shutdown() {
	st.mu.Lock()
	loaders := make([]*gameLoader, 0, len(st.loaders))
	for _, loader := range st.loaders {
		loaders = append(loaders, loader)
	}
	st.mu.Unlock()

	// loader locks are taken without holding the registry lock, the same
	// order Release uses
	for _, loader := range loaders {
		loader.mu.Lock()
		if loader.game != nil {
			loader.game.storeState()
			loader.game = nil
		}
		loader.mu.Unlock()
	}
}

// gameLoader is the per-game unit of concurrency: one mutex, one refcount,
// at most one loaded Game.
type gameLoader struct {
	mu       sync.Mutex
	gameID   string
	store    *SessionStore
	refCount atomic.Int64
	game     *Game
}

// load reads the game's snapshot. A missing or unreadable snapshot both come
// back as nil: an unknown game. Read errors are logged as the distinction
// matters operationally, not to the caller.
func (l *gameLoader) load() *Game {
	logf(l.store.cfg, "STORE: Loading game %s", l.gameID)

	state, err := l.store.storage.LoadState(l.gameID)
	if err != nil {
		fmt.Printf("%s | ERROR: STORE: loading game %s: %v\n", time.Now().Format(logDate), l.gameID, err)
		return nil
	}
	if state == nil {
		logf(l.store.cfg, "STORE: Cannot load unknown game %s (no state file)", l.gameID)
		return nil
	}
	return newGame(l.store.cfg, l.store.storage, l.gameID, state)
}

// GameRef is a scoped, reference-counted handle to one game. Use runs a
// callback under the game's exclusive lock; Release gives the reference back.
// Using or releasing an already-released reference is a programming error
// and panics.
type GameRef struct {
	loader *gameLoader
	closed bool
}

func (r *GameRef) GameID() string {
	return r.loader.gameID
}

func (r *GameRef) checkOpen() {
	if r.closed {
		panic("use of released game reference")
	}
	if r.loader.refCount.Load() <= 0 {
		panic("no more references to game " + r.loader.gameID)
	}
}

// SetNew installs a freshly created game. Only valid while nothing is loaded
// for this id.
func (r *GameRef) SetNew(game *Game) {
	r.loader.mu.Lock()
	defer r.loader.mu.Unlock()

	r.checkOpen()
	if r.loader.game != nil {
		panic("cannot set a new game while one is already loaded: " + r.loader.gameID)
	}
	r.loader.game = game
}

// Use runs fn against the loaded game under the per-game lock, loading it
// first if this reference set was previously empty. fn receives nil if no
// game was ever stored under this id.
func (r *GameRef) Use(fn func(game *Game)) {
	r.UseBool(func(game *Game) bool {
		fn(game)
		return false
	})
}

// UseBool is Use for callbacks that report whether the connection was bound
// to a player, which the router needs to decide whether to retain this
// reference.
func (r *GameRef) UseBool(fn func(game *Game) bool) bool {
	r.loader.mu.Lock()
	defer r.loader.mu.Unlock()

	r.checkOpen()

	if r.loader.game == nil {
		r.loader.game = r.loader.load()
	}

	return fn(r.loader.game)
}

// Release closes the reference. The last reference out persists the game and
// drops it from memory; a concurrent Acquire may then legitimately reload it
// right away. The loader bookkeeping is removed once unused.
func (r *GameRef) Release() {
	r.loader.mu.Lock()

	r.checkOpen()
	r.closed = true

	if r.loader.refCount.Load() == 1 {
		if r.loader.game != nil {
			r.loader.game.storeState()
			r.loader.game = nil
		}
	}

	// decrement only after storing, so the loader cannot be discarded while
	// the state write is still pending
	r.loader.refCount.Add(-1)
	r.loader.mu.Unlock()

	r.loader.store.removeLoaderIfUnused(r.loader.gameID)
}
