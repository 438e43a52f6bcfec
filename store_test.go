package main

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
)

func testStore(t *testing.T) *SessionStore {
	t.Helper()
	return newSessionStore(testConfig(), newGameStorage(afero.NewMemMapFs(), "storage"))
}

// seedGame persists a minimal lobby snapshot so the store has something to
// load.
func seedGame(t *testing.T, store *SessionStore, gameID string) {
	t.Helper()

	if err := store.storage.CreateGameDir(gameID); err != nil {
		t.Fatalf("creating game dir: %v", err)
	}
	state := newGameState()
	state.Players = append(state.Players, &Player{ID: "creator", Name: "Ada", Face: "a", IsCreator: true})
	if err := store.storage.SaveState(gameID, state); err != nil {
		t.Fatalf("saving state: %v", err)
	}
}

func TestUseLoadsPersistedState(t *testing.T) {
	store := testStore(t)
	seedGame(t, store, "abcde")

	ref := store.Acquire("abcde")
	defer ref.Release()

	ref.Use(func(game *Game) {
		if game == nil {
			t.Fatal("expected a loaded game")
		}
		if len(game.state.Players) != 1 || !game.state.Players[0].IsCreator {
			t.Fatalf("unexpected players: %+v", game.state.Players)
		}
	})
}

func TestUseReportsUnknownGameAsNil(t *testing.T) {
	store := testStore(t)

	ref := store.Acquire("zzzzz")
	defer ref.Release()

	ref.Use(func(game *Game) {
		if game != nil {
			t.Fatal("expected nil game for unknown id")
		}
	})
}

func TestReleaseEvictsAndPersists(t *testing.T) {
	store := testStore(t)
	seedGame(t, store, "abcde")

	ref := store.Acquire("abcde")
	ref.Use(func(game *Game) {
		game.state.Players = append(game.state.Players, &Player{ID: "bob", Name: "Bob", Face: "b"})
	})
	ref.Release()

	store.mu.Lock()
	resident := len(store.loaders)
	store.mu.Unlock()
	if resident != 0 {
		t.Fatalf("%d loaders still resident after last release", resident)
	}

	// a fresh acquire must observe the persisted mutation, not stale memory
	ref = store.Acquire("abcde")
	defer ref.Release()
	ref.Use(func(game *Game) {
		if len(game.state.Players) != 2 {
			t.Fatalf("reloaded game has %d players, want 2", len(game.state.Players))
		}
		if game.state.Players[1].ID != "bob" {
			t.Fatalf("reloaded game lost bob: %+v", game.state.Players)
		}
	})
}

func TestConcurrentUseSerializes(t *testing.T) {
	store := testStore(t)
	seedGame(t, store, "abcde")

	var active atomic.Int32
	var overlap atomic.Bool
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		ref := store.Acquire("abcde")
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer ref.Release()

			for j := 0; j < 25; j++ {
				ref.Use(func(game *Game) {
					if active.Add(1) > 1 {
						overlap.Store(true)
					}
					time.Sleep(time.Millisecond)
					active.Add(-1)
				})
			}
		}()
	}
	wg.Wait()

	if overlap.Load() {
		t.Fatal("two Use callbacks ran concurrently for the same game")
	}
}

func TestRefCountKeepsGameResident(t *testing.T) {
	store := testStore(t)
	seedGame(t, store, "abcde")

	first := store.Acquire("abcde")
	second := store.Acquire("abcde")

	var loaded *Game
	first.Use(func(game *Game) { loaded = game })
	first.Release()

	// second ref still open, so the same in-memory game must survive
	second.Use(func(game *Game) {
		if game != loaded {
			t.Fatal("game was evicted while still referenced")
		}
	})
	second.Release()
}

func TestDoubleReleasePanics(t *testing.T) {
	store := testStore(t)

	ref := store.Acquire("abcde")
	ref.Release()

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on double release")
		}
	}()
	ref.Release()
}

func TestUseAfterReleasePanics(t *testing.T) {
	store := testStore(t)

	ref := store.Acquire("abcde")
	ref.Release()

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on use after release")
		}
	}()
	ref.Use(func(*Game) {})
}

func TestSetNewSurvivesRelease(t *testing.T) {
	store := testStore(t)
	if err := store.storage.CreateGameDir("abcde"); err != nil {
		t.Fatalf("creating game dir: %v", err)
	}

	state := newGameState()
	state.Players = append(state.Players, &Player{ID: "creator", Name: "Ada", Face: "a", IsCreator: true})

	ref := store.Acquire("abcde")
	ref.SetNew(newGame(store.cfg, store.storage, "abcde", state))
	ref.Release()

	// the release must have persisted the fresh game
	ref = store.Acquire("abcde")
	defer ref.Release()
	ref.Use(func(game *Game) {
		if game == nil {
			t.Fatal("new game was not persisted on release")
		}
	})
}

func TestStorageShardsGameDirs(t *testing.T) {
	storage := newGameStorage(afero.NewMemMapFs(), "storage")
	if err := storage.CreateGameDir("abcde"); err != nil {
		t.Fatalf("creating game dir: %v", err)
	}

	if exists, _ := afero.DirExists(storage.fs, "storage/games/ab/cde"); !exists {
		t.Fatal("game dir not sharded by id prefix")
	}
	if !storage.GameExists("abcde") {
		t.Fatal("GameExists should report the reserved id")
	}
	if storage.GameExists("vwxyz") {
		t.Fatal("GameExists reported an unreserved id")
	}
}

func TestStorageImageRoundtrip(t *testing.T) {
	storage := newGameStorage(afero.NewMemMapFs(), "storage")
	if err := storage.CreateGameDir("abcde"); err != nil {
		t.Fatalf("creating game dir: %v", err)
	}

	filename, err := storage.SaveImage("abcde", []byte("png bytes"))
	if err != nil {
		t.Fatalf("saving image: %v", err)
	}
	if !imageNamePattern.MatchString(filename) {
		t.Fatalf("unexpected image filename %q", filename)
	}

	image, err := storage.OpenImage("abcde", filename)
	if err != nil {
		t.Fatalf("opening image: %v", err)
	}
	defer image.Close()

	data, err := afero.ReadAll(image)
	if err != nil {
		t.Fatalf("reading image: %v", err)
	}
	if string(data) != "png bytes" {
		t.Fatalf("image content %q", data)
	}
}
