package main

import (
	"fmt"
	"strings"
	"testing"

	"github.com/spf13/afero"
)

type fakeConn struct {
	id    string
	views []any
}

func (f *fakeConn) ID() string {
	return f.id
}

func (f *fakeConn) Send(view any) {
	f.views = append(f.views, view)
}

func (f *fakeConn) last() any {
	if len(f.views) == 0 {
		return nil
	}
	return f.views[len(f.views)-1]
}

func testConfig() *Config {
	return &Config{
		maxImageBytes: 1 << 20,
		maxTextLength: 2000,
		storageDir:    "storage",
	}
}

func testStorage(t *testing.T, gameID string) *GameStorage {
	t.Helper()

	storage := newGameStorage(afero.NewMemMapFs(), "storage")
	if err := storage.CreateGameDir(gameID); err != nil {
		t.Fatalf("creating game dir: %v", err)
	}
	return storage
}

// newLobby returns a fresh game with its creator already connected.
func newLobby(t *testing.T) (*Game, *fakeConn) {
	t.Helper()

	const gameID = "abcde"
	state := newGameState()
	state.Players = append(state.Players, &Player{ID: "creator", Name: "Ada", Face: "a", IsCreator: true})

	game := newGame(testConfig(), testStorage(t, gameID), gameID, state)

	creator := &fakeConn{id: "conn-creator"}
	if !game.Access(creator, "creator") {
		t.Fatal("creator access should bind the connection")
	}
	return game, creator
}

func join(t *testing.T, game *Game, playerID, name string) *fakeConn {
	t.Helper()

	c := &fakeConn{id: "conn-" + playerID}
	if !game.Join(c, playerID, name, strings.ToUpper(playerID[:1])) {
		t.Fatalf("join of %s should bind the connection", playerID)
	}
	return c
}

func TestAccessUnknownPlayerGetsJoinPrompt(t *testing.T) {
	game, _ := newLobby(t)

	c := &fakeConn{id: "conn-x"}
	if game.Access(c, "stranger") {
		t.Fatal("unknown player must not be bound")
	}
	if _, ok := c.last().(joinView); !ok {
		t.Fatalf("expected join view, got %T", c.last())
	}
	if len(game.state.Players) != 1 {
		t.Fatalf("roster changed: %d players", len(game.state.Players))
	}
}

func TestJoinIsIdempotentPerPlayer(t *testing.T) {
	game, _ := newLobby(t)
	join(t, game, "bob", "Bob")

	again := &fakeConn{id: "conn-bob-2"}
	if !game.Join(again, "bob", "Bob", "B") {
		t.Fatal("re-join should still bind the connection")
	}
	if len(game.state.Players) != 2 {
		t.Fatalf("re-join duplicated the player: %d players", len(game.state.Players))
	}
}

func TestCreatorAndOthersSeeDifferentLobbyViews(t *testing.T) {
	game, creator := newLobby(t)
	bob := join(t, game, "bob", "Bob")

	if view, ok := creator.last().(waitForPlayersView); !ok {
		t.Fatalf("creator: expected waitForPlayers, got %T", creator.last())
	} else if len(view.Players) != 2 {
		t.Fatalf("creator sees %d players, want 2", len(view.Players))
	}

	if _, ok := bob.last().(waitForGameStartView); !ok {
		t.Fatalf("bob: expected waitForGameStart, got %T", bob.last())
	}
}

func TestLobbyViewsNeverLeakPlayerIDs(t *testing.T) {
	game, creator := newLobby(t)
	join(t, game, "bob", "Bob")

	view, ok := creator.last().(waitForPlayersView)
	if !ok {
		t.Fatalf("expected waitForPlayers, got %T", creator.last())
	}
	for _, info := range view.Players {
		if info.Name == "creator" || info.Name == "bob" {
			t.Fatalf("player id leaked as name: %q", info.Name)
		}
	}
}

func TestStartRequiresCreator(t *testing.T) {
	game, _ := newLobby(t)
	bob := join(t, game, "bob", "Bob")

	game.Start(bob)
	if game.state.Phase != phaseWaitingForPlayers {
		t.Fatalf("non-creator started the game: phase %s", game.state.Phase)
	}
}

func TestStartRequiresTwoPlayers(t *testing.T) {
	game, creator := newLobby(t)

	game.Start(creator)
	if game.state.Phase != phaseWaitingForPlayers {
		t.Fatalf("game started with one player: phase %s", game.state.Phase)
	}
	// the waiting view is re-pushed as a no-op error signal
	if _, ok := creator.last().(waitForPlayersView); !ok {
		t.Fatalf("expected waitForPlayers re-push, got %T", creator.last())
	}
}

func TestStartAllocatesMatrixAndStories(t *testing.T) {
	game, creator := newLobby(t)
	join(t, game, "bob", "Bob")
	join(t, game, "caro", "Caro")

	game.Start(creator)

	if game.state.Phase != phaseStarted {
		t.Fatalf("phase %s, want %s", game.state.Phase, phaseStarted)
	}
	if len(game.state.Matrix) != 3 {
		t.Fatalf("matrix has %d rounds, want 3", len(game.state.Matrix))
	}
	if len(game.state.Stories) != 3 {
		t.Fatalf("%d stories, want 3", len(game.state.Stories))
	}
	for i, story := range game.state.Stories {
		if len(story.Elements) != 3 {
			t.Fatalf("story %d has %d slots, want 3", i, len(story.Elements))
		}
	}
}

func TestJoinAfterStartRejected(t *testing.T) {
	game, creator := newLobby(t)
	join(t, game, "bob", "Bob")
	game.Start(creator)

	late := &fakeConn{id: "conn-late"}
	if game.Join(late, "late", "Late", "L") {
		t.Fatal("join after start must not bind")
	}
	if _, ok := late.last().(alreadyStartedView); !ok {
		t.Fatalf("expected alreadyStarted view, got %T", late.last())
	}
	if len(game.state.Players) != 2 {
		t.Fatalf("roster changed after rejected join: %d players", len(game.state.Players))
	}
}

func TestEmptyTextRejected(t *testing.T) {
	game, creator := newLobby(t)
	join(t, game, "bob", "Bob")
	game.Start(creator)

	game.SubmitText(creator, "   ")
	story := game.currentStoryForPlayer(game.state.Players[0])
	if story.Elements[0] != nil {
		t.Fatal("empty text was accepted")
	}
}

func TestOverlongTextTruncated(t *testing.T) {
	game, creator := newLobby(t)
	join(t, game, "bob", "Bob")
	game.cfg.maxTextLength = 10
	game.Start(creator)

	game.SubmitText(creator, strings.Repeat("x", 50))
	story := game.currentStoryForPlayer(game.state.Players[0])
	if story.Elements[0] == nil {
		t.Fatal("text was not accepted")
	}
	if got := len(story.Elements[0].Content); got != 10 {
		t.Fatalf("text truncated to %d characters, want 10", got)
	}
}

func TestDuplicateSubmitIgnored(t *testing.T) {
	game, creator := newLobby(t)
	join(t, game, "bob", "Bob")
	game.Start(creator)

	game.SubmitText(creator, "first")
	game.SubmitText(creator, "second")

	story := game.currentStoryForPlayer(game.state.Players[0])
	if story.Elements[0].Content != "first" {
		t.Fatalf("slot was overwritten: %q", story.Elements[0].Content)
	}
}

func TestSubmitImageDuringTypeRoundIgnored(t *testing.T) {
	game, creator := newLobby(t)
	join(t, game, "bob", "Bob")
	game.Start(creator)

	game.SubmitImage(creator, []byte("png"))
	story := game.currentStoryForPlayer(game.state.Players[0])
	if story.Elements[0] != nil {
		t.Fatal("drawing accepted during a type round")
	}
}

func TestLobbyDisconnectRemovesPlayer(t *testing.T) {
	game, creator := newLobby(t)
	bob := join(t, game, "bob", "Bob")

	game.Disconnect(bob)
	if len(game.state.Players) != 1 {
		t.Fatalf("bob should have left the roster: %d players", len(game.state.Players))
	}

	// the creator's seat survives a lobby disconnect
	game.Disconnect(creator)
	if len(game.state.Players) != 1 {
		t.Fatalf("creator was removed from the roster: %d players", len(game.state.Players))
	}
}

func TestLobbyDisconnectKeepsPlayerWithOtherConnections(t *testing.T) {
	game, _ := newLobby(t)
	first := join(t, game, "bob", "Bob")

	second := &fakeConn{id: "conn-bob-2"}
	if !game.Access(second, "bob") {
		t.Fatal("second connection should bind")
	}

	game.Disconnect(first)
	if len(game.state.Players) != 2 {
		t.Fatalf("bob removed while still connected elsewhere: %d players", len(game.state.Players))
	}
}

func TestDisconnectAfterStartKeepsSeat(t *testing.T) {
	game, creator := newLobby(t)
	bob := join(t, game, "bob", "Bob")
	game.Start(creator)

	game.Disconnect(bob)
	if len(game.state.Players) != 2 {
		t.Fatalf("seat lost after start: %d players", len(game.state.Players))
	}

	// and the player can reconnect with the same id
	back := &fakeConn{id: "conn-bob-2"}
	if !game.Access(back, "bob") {
		t.Fatal("reconnect should bind")
	}
}

func TestThreePlayerGameFlow(t *testing.T) {
	game, creator := newLobby(t)
	conns := map[string]*fakeConn{
		"creator": creator,
		"bob":     join(t, game, "bob", "Bob"),
		"caro":    join(t, game, "caro", "Caro"),
	}
	game.Start(creator)

	submitted := make(map[string]string) // "round/player id" -> text
	for round := 0; round < 3; round++ {
		if game.state.Round != round {
			t.Fatalf("round %d, want %d", game.state.Round, round)
		}

		for _, player := range game.state.Players {
			c := conns[player.ID]

			if isTypeRound(round) {
				view, ok := c.last().(typeView)
				if !ok {
					t.Fatalf("round %d: %s expected type view, got %T", round, player.ID, c.last())
				}
				if view.Round != round+1 || view.Rounds != 3 {
					t.Fatalf("round %d: got view round %d/%d", round, view.Round, view.Rounds)
				}
				if round == 0 && view.DrawingSrc != "" {
					t.Fatal("first round must not reference a drawing")
				}
				if round > 0 && (view.DrawingSrc == "" || view.Artist == nil) {
					t.Fatalf("round %d: type view missing drawing or artist", round)
				}

				text := fmt.Sprintf("round %d by %s", round, player.ID)
				submitted[fmt.Sprintf("%d/%s", round, player.ID)] = text
				game.SubmitText(c, text)
			} else {
				view, ok := c.last().(drawView)
				if !ok {
					t.Fatalf("round %d: %s expected draw view, got %T", round, player.ID, c.last())
				}
				if view.Text == "" {
					t.Fatalf("round %d: draw view missing text", round)
				}

				game.SubmitImage(c, []byte("fake png bytes"))
			}
		}
	}

	if game.state.Phase != phaseFinished {
		t.Fatalf("phase %s, want %s", game.state.Phase, phaseFinished)
	}
	if game.state.Round != 3 {
		t.Fatalf("round %d, want 3", game.state.Round)
	}

	view, ok := creator.last().(storiesView)
	if !ok {
		t.Fatalf("expected stories view, got %T", creator.last())
	}
	if len(view.Stories) != 3 {
		t.Fatalf("%d stories, want 3", len(view.Stories))
	}

	playerIDByName := make(map[string]string)
	for _, p := range game.state.Players {
		playerIDByName[p.Name] = p.ID
	}

	for storyIndex, story := range view.Stories {
		if len(story.Elements) != 3 {
			t.Fatalf("story %d has %d elements, want 3", storyIndex, len(story.Elements))
		}
		for round, element := range story.Elements {
			wantType := elementTypeText
			if !isTypeRound(round) {
				wantType = elementTypeImage
			}
			if element.Type != wantType {
				t.Fatalf("story %d round %d: type %s, want %s", storyIndex, round, element.Type, wantType)
			}

			// the element must be attributed to the player whose matrix
			// position held this story in this round
			author := game.playerForStoryInRound(storyIndex, round)
			if element.Player != author.info() {
				t.Fatalf("story %d round %d: attributed to %+v, want %+v", storyIndex, round, element.Player, author.info())
			}

			switch element.Type {
			case elementTypeText:
				want := submitted[fmt.Sprintf("%d/%s", round, playerIDByName[element.Player.Name])]
				if element.Content != want {
					t.Fatalf("story %d round %d: content %q, want %q", storyIndex, round, element.Content, want)
				}
			case elementTypeImage:
				if !strings.HasPrefix(element.Content, "/api/image/abcde/") || !strings.HasSuffix(element.Content, ".png") {
					t.Fatalf("story %d round %d: unexpected drawing src %q", storyIndex, round, element.Content)
				}
			}
		}
	}

	// a latecomer now sees the finished stories too
	late := &fakeConn{id: "conn-late"}
	if game.Access(late, "stranger") {
		t.Fatal("stranger must not be bound to a finished game")
	}
	if _, ok := late.last().(storiesView); !ok {
		t.Fatalf("expected stories view for latecomer, got %T", late.last())
	}
}

func TestWaitForRoundFinishListsPendingPlayers(t *testing.T) {
	game, creator := newLobby(t)
	conns := map[string]*fakeConn{
		"creator": creator,
		"bob":     join(t, game, "bob", "Bob"),
		"caro":    join(t, game, "caro", "Caro"),
	}
	game.Start(creator)

	game.SubmitText(creator, "done early")

	view, ok := conns["creator"].last().(waitForRoundFinishView)
	if !ok {
		t.Fatalf("expected waitForRoundFinish, got %T", conns["creator"].last())
	}
	if !view.IsTypeRound {
		t.Fatal("round 0 is a type round")
	}
	if len(view.WaitingForPlayers) != 2 {
		t.Fatalf("waiting for %d players, want 2", len(view.WaitingForPlayers))
	}

	// the others are still prompted to type
	if _, ok := conns["bob"].last().(typeView); !ok {
		t.Fatalf("bob: expected type view, got %T", conns["bob"].last())
	}
}
