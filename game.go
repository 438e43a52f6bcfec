package main

import (
	"fmt"
	"strings"
	"time"
)

// Conn is one connected client. Send must not block: slow consumers are the
// transport's problem, not the session's.
type Conn interface {
	ID() string
	Send(view any)
}

const stateFilename = "state.json"

type gamePhase string

const (
	phaseWaitingForPlayers gamePhase = "WaitingForPlayers"
	phaseStarted           gamePhase = "Started"
	phaseFinished          gamePhase = "Finished"
)

// Player holds the data we store server-side. The id is secret: it is how a
// browser proves it owns a seat, so it must never reach other players.
type Player struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Face      string `json:"face"`
	IsCreator bool   `json:"isCreator"`
}

// PlayerInfo is the public projection of a Player, safe to broadcast.
type PlayerInfo struct {
	Name      string `json:"name"`
	Face      string `json:"face"`
	IsCreator bool   `json:"isCreator"`
}

func (p *Player) info() PlayerInfo {
	return PlayerInfo{
		Name:      p.Name,
		Face:      p.Face,
		IsCreator: p.IsCreator,
	}
}

const (
	elementTypeText  = "text"
	elementTypeImage = "image"
)

// StoryElement is one contribution to a story: either a phrase or the
// filename of a stored drawing. Immutable once written.
type StoryElement struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// Story has one element slot per round. A nil slot has not been filled yet.
type Story struct {
	Elements []*StoryElement `json:"elements"`
}

// GameState is the persisted snapshot of a game. It gets stored to and read
// from disk, so changes need to stay backwards compatible: add optional
// fields only, never remove or retype existing ones.
type GameState struct {
	Players []*Player `json:"players"`
	Round   int       `json:"round"`
	Phase   gamePhase `json:"state"`
	Matrix  [][]int   `json:"gameMatrix,omitempty"`
	Stories []*Story  `json:"stories,omitempty"`
}

func newGameState() *GameState {
	return &GameState{
		Players: []*Player{},
		Phase:   phaseWaitingForPlayers,
	}
}

// Game is one session's authoritative state plus the transient bookkeeping of
// which connections currently speak for which player. It is not safe for
// concurrent use: the owning gameLoader serializes all access.
type Game struct {
	id      string
	cfg     *Config
	storage *GameStorage
	state   *GameState

	connToPlayer  map[Conn]*Player
	playerToConns map[*Player]map[Conn]struct{}
}

func newGame(cfg *Config, storage *GameStorage, gameID string, state *GameState) *Game {
	return &Game{
		id:            gameID,
		cfg:           cfg,
		storage:       storage,
		state:         state,
		connToPlayer:  make(map[Conn]*Player),
		playerToConns: make(map[*Player]map[Conn]struct{}),
	}
}

func (g *Game) playerByID(playerID string) *Player {
	for _, p := range g.state.Players {
		if p.ID == playerID {
			return p
		}
	}
	return nil
}

func (g *Game) playerIndex(player *Player) int {
	for i, p := range g.state.Players {
		if p == player {
			return i
		}
	}
	return -1
}

func (g *Game) bindConn(c Conn, player *Player) {
	g.connToPlayer[c] = player
	conns, ok := g.playerToConns[player]
	if !ok {
		conns = make(map[Conn]struct{})
		g.playerToConns[player] = conns
	}
	conns[c] = struct{}{}
}

// Access handles a connection announcing itself with a playerId. Unknown
// players get a phase-dependent "please join" view and are not registered.
// Known players get the connection bound (additively, a player may have
// several tabs open) and their current view pushed. Returns whether the
// connection was bound, so the router knows to keep routing it here.
func (g *Game) Access(c Conn, playerID string) bool {
	player := g.playerByID(playerID)
	if player == nil {
		logf(g.cfg, "GAMES: %s: New player %s accessing via client %s", g.id, playerID, c.ID())
		c.Send(g.viewForNewcomer())
		return false
	}

	logf(g.cfg, "GAMES: %s: New client %s connected for known player %s", g.id, c.ID(), player.ID)
	g.bindConn(c, player)
	g.pushToPlayer(player)
	return true
}

// Join adds a new player to the lobby. Only valid while waiting for players;
// otherwise the newcomer view is sent instead. A playerId that already joined
// is treated as a re-join rather than duplicated.
func (g *Game) Join(c Conn, playerID, name, face string) bool {
	if g.state.Phase != phaseWaitingForPlayers {
		logf(g.cfg, "GAMES: %s: Join not possible in state %s", g.id, g.state.Phase)
		c.Send(g.viewForNewcomer())
		return false
	}

	logf(g.cfg, "GAMES: %s: Player %s joining with name %q via client %s", g.id, playerID, name, c.ID())
	player := g.playerByID(playerID)
	if player != nil {
		logf(g.cfg, "GAMES: %s: Player %s has already joined", g.id, playerID)
	} else {
		player = &Player{
			ID:   playerID,
			Name: name,
			Face: face,
		}
		g.state.Players = append(g.state.Players, player)
	}
	g.bindConn(c, player)
	g.pushToAll()
	return true
}

// Start begins the game. Only the creator may start, only from the lobby, and
// only with at least two players. A start that cannot proceed re-pushes the
// unchanged waiting view instead of failing hard.
func (g *Game) Start(c Conn) {
	player, ok := g.connToPlayer[c]
	if !ok {
		logf(g.cfg, "GAMES: %s: Cannot start game, client %s is not a known player", g.id, c.ID())
		return
	}
	if g.state.Phase != phaseWaitingForPlayers {
		logf(g.cfg, "GAMES: %s: Ignoring start in state %s", g.id, g.state.Phase)
		return
	}
	if !player.IsCreator {
		logf(g.cfg, "GAMES: %s: Non-creator %s cannot start the game (client: %s)", g.id, player.ID, c.ID())
		return
	}
	if len(g.state.Players) < 2 {
		logf(g.cfg, "GAMES: %s: Cannot start game with less than 2 players", g.id)
		g.pushToAll()
		return
	}

	logf(g.cfg, "GAMES: %s: Starting", g.id)

	matrix, err := generateRounds(len(g.state.Players))
	if err != nil {
		// unreachable: player count was checked above
		panic(fmt.Sprintf("game %s: %v", g.id, err))
	}

	g.state.Phase = phaseStarted
	g.state.Matrix = matrix
	g.state.Stories = make([]*Story, len(g.state.Players))
	for i := range g.state.Stories {
		g.state.Stories[i] = &Story{Elements: make([]*StoryElement, len(g.state.Players))}
	}

	g.storeState()
	g.pushToAll()
}

// SubmitText writes the submitting player's phrase into their current story
// slot. Only valid in a type round of a started game.
func (g *Game) SubmitText(c Conn, text string) {
	player, ok := g.connToPlayer[c]
	if !ok {
		logf(g.cfg, "GAMES: %s: Cannot type, client %s is not a known player", g.id, c.ID())
		return
	}
	if g.state.Phase != phaseStarted {
		logf(g.cfg, "GAMES: %s: Ignoring type in state %s", g.id, g.state.Phase)
		return
	}
	if !g.isTypeRound() {
		logf(g.cfg, "GAMES: %s: Ignoring type in draw round %d", g.id, g.state.Round)
		return
	}

	text = strings.TrimSpace(text)
	if text == "" {
		logf(g.cfg, "GAMES: %s: Rejecting empty text from player %s", g.id, player.ID)
		g.pushToPlayer(player)
		return
	}
	if runes := []rune(text); len(runes) > g.cfg.maxTextLength {
		text = string(runes[:g.cfg.maxTextLength])
	}

	story := g.currentStoryForPlayer(player)
	if story.Elements[g.state.Round] != nil {
		logf(g.cfg, "GAMES: %s: Player %s already submitted in round %d", g.id, player.ID, g.state.Round)
		return
	}
	story.Elements[g.state.Round] = &StoryElement{Type: elementTypeText, Content: text}

	g.checkRoundFinished()
	g.pushToAll()
}

// SubmitImage stores the submitted drawing and records its filename in the
// submitting player's current story slot. Only valid in a draw round of a
// started game.
func (g *Game) SubmitImage(c Conn, image []byte) {
	player, ok := g.connToPlayer[c]
	if !ok {
		logf(g.cfg, "GAMES: %s: Cannot draw, client %s is not a known player", g.id, c.ID())
		return
	}
	if g.state.Phase != phaseStarted {
		logf(g.cfg, "GAMES: %s: Ignoring draw in state %s", g.id, g.state.Phase)
		return
	}
	if g.isTypeRound() {
		logf(g.cfg, "GAMES: %s: Ignoring draw in type round %d", g.id, g.state.Round)
		return
	}
	if len(image) == 0 || len(image) > g.cfg.maxImageBytes {
		logf(g.cfg, "GAMES: %s: Rejecting drawing of %d bytes from player %s", g.id, len(image), player.ID)
		g.pushToPlayer(player)
		return
	}

	story := g.currentStoryForPlayer(player)
	if story.Elements[g.state.Round] != nil {
		logf(g.cfg, "GAMES: %s: Player %s already submitted in round %d", g.id, player.ID, g.state.Round)
		return
	}

	filename, err := g.storage.SaveImage(g.id, image)
	if err != nil {
		logf(g.cfg, "GAMES: %s: Error storing drawing from player %s: %v", g.id, player.ID, err)
		return
	}
	story.Elements[g.state.Round] = &StoryElement{Type: elementTypeImage, Content: filename}

	g.checkRoundFinished()
	g.pushToAll()
}

// Disconnect unbinds the connection from its player. While still waiting for
// players, a non-creator with no remaining connections gives up their seat;
// after start a seat always survives, so the player can reconnect later.
func (g *Game) Disconnect(c Conn) {
	player, ok := g.connToPlayer[c]
	if !ok {
		logf(g.cfg, "GAMES: %s: Client %s disconnect, not a player in this game", g.id, c.ID())
		return
	}
	delete(g.connToPlayer, c)

	logf(g.cfg, "GAMES: %s: Client %s of player %s disconnected", g.id, c.ID(), player.ID)

	conns := g.playerToConns[player]
	delete(conns, c)

	if g.state.Phase == phaseWaitingForPlayers && !player.IsCreator && len(conns) == 0 {
		logf(g.cfg, "GAMES: %s: Player %s has left the game", g.id, player.ID)
		for i, p := range g.state.Players {
			if p == player {
				g.state.Players = append(g.state.Players[:i], g.state.Players[i+1:]...)
				break
			}
		}
		delete(g.playerToConns, player)
		g.pushToAll()
	}
}

func (g *Game) currentStoryForPlayer(player *Player) *Story {
	return g.state.Stories[g.currentStoryIndexForPlayer(player)]
}

func (g *Game) currentStoryIndexForPlayer(player *Player) int {
	return g.state.Matrix[g.state.Round][g.playerIndex(player)]
}

// playerForStoryInRound finds who worked on a story in a given round: the
// player at the column position holding that story index in the round's
// matrix row.
func (g *Game) playerForStoryInRound(storyIndex, round int) *Player {
	for p, s := range g.state.Matrix[round] {
		if s == storyIndex {
			return g.state.Players[p]
		}
	}
	panic(fmt.Sprintf("game %s: story %d missing from round %d", g.id, storyIndex, round))
}

func (g *Game) isTypeRound() bool {
	return isTypeRound(g.state.Round)
}

func isTypeRound(round int) bool {
	return round%2 == 0
}

func (g *Game) hasPlayerFinishedCurrentRound(player *Player) bool {
	return g.currentStoryForPlayer(player).Elements[g.state.Round] != nil
}

func (g *Game) isCurrentRoundFinished() bool {
	for _, story := range g.state.Stories {
		if story.Elements[g.state.Round] == nil {
			return false
		}
	}
	return true
}

func (g *Game) checkRoundFinished() {
	if !g.isCurrentRoundFinished() {
		return
	}

	g.state.Round++
	if g.state.Round >= len(g.state.Matrix) {
		g.state.Phase = phaseFinished
	}

	g.storeState()
}

func (g *Game) storeState() {
	logf(g.cfg, "GAMES: %s: Storing state", g.id)
	if err := g.storage.SaveState(g.id, g.state); err != nil {
		fmt.Printf("%s | ERROR: GAMES: %s: storing state: %v\n", time.Now().Format(logDate), g.id, err)
	}
}

func (g *Game) pushToAll() {
	for _, player := range g.state.Players {
		g.pushToPlayer(player)
	}
}

func (g *Game) pushToPlayer(player *Player) {
	view := g.viewFor(player)
	for c := range g.playerToConns[player] {
		c.Send(view)
	}
}
