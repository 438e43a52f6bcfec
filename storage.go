/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// GameStorage persists game snapshots and drawings. Every game owns one
// directory, sharded by the first two characters of its id so a busy server
// does not pile thousands of entries into a single folder.
type GameStorage struct {
	fs   afero.Fs
	root string
}

func newGameStorage(fsys afero.Fs, storageDir string) *GameStorage {
	return &GameStorage{
		fs:   fsys,
		root: filepath.Join(storageDir, "games"),
	}
}

func (s *GameStorage) gameDir(gameID string) string {
	return filepath.Join(s.root, gameID[:2], gameID[2:])
}

// GameExists reports whether a directory has been reserved for the id.
func (s *GameStorage) GameExists(gameID string) bool {
	_, err := s.fs.Stat(s.gameDir(gameID))
	return err == nil
}

// CreateGameDir reserves the directory for a new game. Fails if the id is
// already taken.
func (s *GameStorage) CreateGameDir(gameID string) error {
	dir := s.gameDir(gameID)
	if _, err := s.fs.Stat(dir); err == nil {
		return fmt.Errorf("game directory already exists: %s", dir)
	}
	return s.fs.MkdirAll(dir, 0o755)
}

// LoadState reads a game's snapshot. Returns (nil, nil) for a game that has
// never been stored, so callers can treat it as unknown without an error.
func (s *GameStorage) LoadState(gameID string) (*GameState, error) {
	data, err := afero.ReadFile(s.fs, filepath.Join(s.gameDir(gameID), stateFilename))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	state := &GameState{}
	if err := json.Unmarshal(data, state); err != nil {
		return nil, err
	}
	return state, nil
}

// SaveState writes a game's snapshot.
func (s *GameStorage) SaveState(gameID string, state *GameState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return afero.WriteFile(s.fs, filepath.Join(s.gameDir(gameID), stateFilename), data, 0o644)
}

// SaveImage stores a drawing under a fresh random filename and returns that
// filename, which is what story elements reference.
func (s *GameStorage) SaveImage(gameID string, image []byte) (string, error) {
	filename := uuid.NewString() + ".png"
	path := filepath.Join(s.gameDir(gameID), filename)

	f, err := s.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if _, err := f.Write(image); err != nil {
		return "", err
	}
	return filename, nil
}

// OpenImage opens a stored drawing for reading.
func (s *GameStorage) OpenImage(gameID, filename string) (io.ReadCloser, error) {
	return s.fs.Open(filepath.Join(s.gameDir(gameID), filename))
}
