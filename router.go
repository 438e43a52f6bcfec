package main

import (
	"crypto/rand"
	"fmt"
	"regexp"
	"sync"
)

// Game ids are short codes people read out loud or type from a QR scan, so
// the alphabet leaves out characters that are easily confused (0/o, 1/l, ...).
const (
	gameIDAlphabet = "23456789abcdefghijkmnpqrstuvwxyz"
	gameIDLength   = 5
)

var gameIDPattern = regexp.MustCompile(fmt.Sprintf("^[%s]{%d}$", gameIDAlphabet, gameIDLength))

func validGameID(gameID string) bool {
	return gameIDPattern.MatchString(gameID)
}

// SessionRouter is the single entry point the transport calls. It maps
// connections to the game reference they are bound to and dispatches inbound
// actions under the store's lifecycle guard.
type SessionRouter struct {
	mu    sync.Mutex
	cfg   *Config
	store *SessionStore
	conns map[Conn]*GameRef

	// taken while generating a new game id, so two concurrent creations
	// cannot reserve the same code
	createMu sync.Mutex
}

func newSessionRouter(cfg *Config, store *SessionStore) *SessionRouter {
	return &SessionRouter{
		cfg:   cfg,
		store: store,
		conns: make(map[Conn]*GameRef),
	}
}

// CreateGame reserves a fresh game id, registers its creator and persists the
// empty lobby. It is independent of any connection: the creator's browser
// subsequently connects and accesses the game like everyone else.
func (rt *SessionRouter) CreateGame(playerID, name, face string) (string, error) {
	gameID, err := rt.reserveGameID()
	if err != nil {
		return "", err
	}

	state := newGameState()
	state.Players = append(state.Players, &Player{
		ID:        playerID,
		Name:      name,
		Face:      face,
		IsCreator: true,
	})

	ref := rt.store.Acquire(gameID)
	defer ref.Release()
	ref.SetNew(newGame(rt.cfg, rt.store.storage, gameID, state))

	logf(rt.cfg, "GAMES: Created game %s", gameID)
	return gameID, nil
}

func (rt *SessionRouter) reserveGameID() (string, error) {
	rt.createMu.Lock()
	defer rt.createMu.Unlock()

	for {
		gameID, err := newGameID()
		if err != nil {
			return "", err
		}
		if rt.store.storage.GameExists(gameID) {
			logf(rt.cfg, "GAMES: Retrying game id generation, %s already exists", gameID)
			continue
		}
		return gameID, rt.store.storage.CreateGameDir(gameID)
	}
}

func newGameID() (string, error) {
	buf := make([]byte, gameIDLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}

	out := make([]byte, gameIDLength)
	for i := range out {
		out[i] = gameIDAlphabet[int(buf[i])%len(gameIDAlphabet)]
	}
	return string(out), nil
}

// Access routes a connection's first contact with a game. The reference is
// retained for the connection only if the game actually bound it to a player.
func (rt *SessionRouter) Access(c Conn, gameID, playerID string) {
	rt.accessOrJoin(c, gameID, func(game *Game) bool {
		return game.Access(c, playerID)
	})
}

// Join routes a join request, with the same retention rule as Access.
func (rt *SessionRouter) Join(c Conn, gameID, playerID, name, face string) {
	rt.accessOrJoin(c, gameID, func(game *Game) bool {
		return game.Join(c, playerID, name, face)
	})
}

func (rt *SessionRouter) accessOrJoin(c Conn, gameID string, action func(game *Game) bool) {
	if !validGameID(gameID) {
		logf(rt.cfg, "GAMES: Client %s sent invalid game id %q", c.ID(), gameID)
		c.Send(newUnknownGameView())
		return
	}

	ref := rt.store.Acquire(gameID)
	added := ref.UseBool(func(game *Game) bool {
		if game == nil {
			c.Send(newUnknownGameView())
			return false
		}
		return action(game)
	})

	if added {
		rt.retain(c, ref)
	} else {
		ref.Release()
	}
}

func (rt *SessionRouter) retain(c Conn, ref *GameRef) {
	rt.mu.Lock()
	previous := rt.conns[c]
	rt.conns[c] = ref
	rt.mu.Unlock()

	if previous == nil {
		return
	}

	// A switched connection must be unbound from the old session, or its
	// stale entry would keep receiving pushes after teardown. Re-accessing
	// the same game keeps the fresh binding, so only the ref is returned.
	if previous.GameID() != ref.GameID() {
		logf(rt.cfg, "GAMES: Client %s unexpectedly switched games: %s -> %s", c.ID(), previous.GameID(), ref.GameID())
		previous.Use(func(game *Game) {
			if game != nil {
				game.Disconnect(c)
			}
		})
	}
	previous.Release()
}

func (rt *SessionRouter) refForConn(c Conn) *GameRef {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.conns[c]
}

// Start routes a start request from an already-bound connection.
func (rt *SessionRouter) Start(c Conn) {
	ref := rt.refForConn(c)
	if ref == nil {
		logf(rt.cfg, "GAMES: Cannot handle start, client %s unknown", c.ID())
		return
	}
	ref.Use(func(game *Game) {
		if game != nil {
			game.Start(c)
		}
	})
}

// SubmitText routes a phrase submission from an already-bound connection.
func (rt *SessionRouter) SubmitText(c Conn, text string) {
	ref := rt.refForConn(c)
	if ref == nil {
		logf(rt.cfg, "GAMES: Cannot handle type, client %s unknown", c.ID())
		return
	}
	ref.Use(func(game *Game) {
		if game != nil {
			game.SubmitText(c, text)
		}
	})
}

// SubmitImage routes a drawing submission from an already-bound connection.
func (rt *SessionRouter) SubmitImage(c Conn, image []byte) {
	ref := rt.refForConn(c)
	if ref == nil {
		logf(rt.cfg, "GAMES: Cannot handle drawing, client %s unknown", c.ID())
		return
	}
	ref.Use(func(game *Game) {
		if game != nil {
			game.SubmitImage(c, image)
		}
	})
}

// Disconnect runs the session's disconnect handling and gives the
// connection's reference back. The transport guarantees it fires exactly
// once per connection.
func (rt *SessionRouter) Disconnect(c Conn) {
	rt.mu.Lock()
	ref := rt.conns[c]
	delete(rt.conns, c)
	rt.mu.Unlock()

	if ref == nil {
		return
	}
	ref.Use(func(game *Game) {
		if game != nil {
			game.Disconnect(c)
		}
	})
	ref.Release()
}
