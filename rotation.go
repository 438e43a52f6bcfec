package main

import (
	"crypto/rand"
	"errors"
)

// generateRounds produces the matrix that determines how stories are passed
// between players round by round. The first index is the round number, the
// second the player position, and each entry is the index of the story that
// player works on in that round. The matrix is always quadratic, because the
// number of rounds equals the number of players (every player contributes to
// every story exactly once).
func generateRounds(players int) ([][]int, error) {
	if players < 2 {
		return nil, errors.New("can only generate a game for 2 or more players")
	}

	rounds := make([][]int, players)
	for r := range rounds {
		rounds[r] = make([]int, players)
	}

	if players%2 == 0 {
		generateForEven(rounds)
	} else {
		generateForOdd(rounds)
	}

	return rounds, nil
}

// generateForEven builds a "perfect" game: every player receives a story from
// every other player exactly once. After round r, player p hands their story
// to player p+1, then p-2, then p+3, then p-4 and so on (always modulo the
// player count). Around a table: pass one seat right, then two seats left,
// then three seats right...
func generateForEven(rounds [][]int) {
	for p := range rounds[0] {
		rounds[0][p] = p
	}

	sign := 1
	for r := 0; r < len(rounds)-1; r++ {
		current := rounds[r]
		next := rounds[r+1]
		for p := range current {
			next[floorMod(p+(r+1)*sign, len(next))] = current[p]
		}
		sign *= -1
	}
}

// generateForOdd handles the odd player counts, for which no perfect game
// exists. Build the naive rotation (always hand over to the next player),
// then shuffle the rounds after the first so the offset is at least not a
// predictable 1 every time.
func generateForOdd(rounds [][]int) {
	for p := range rounds[0] {
		rounds[0][p] = p
	}

	for r := 0; r < len(rounds)-1; r++ {
		current := rounds[r]
		next := rounds[r+1]
		for p := range current {
			next[floorMod(p+1, len(next))] = current[p]
		}
	}

	// Fisher-Yates over rounds[1:], using crypto/rand
	for i := len(rounds) - 1; i > 1; i-- {
		var b [1]byte
		if _, err := rand.Read(b[:]); err != nil {
			continue
		}
		j := 1 + int(b[0])%i
		rounds[i], rounds[j] = rounds[j], rounds[i]
	}
}

func floorMod(a, n int) int {
	return ((a % n) + n) % n
}
