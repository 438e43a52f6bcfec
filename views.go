package main

import "fmt"

// Per-player views, one struct per client screen. Every view carries a
// "state" discriminator the frontend switches on. This is a closed set:
// anything new the client should render gets its own struct here.

type joinView struct {
	State string `json:"state"`
}

type alreadyStartedView struct {
	State string `json:"state"`
}

type unknownGameView struct {
	State string `json:"state"`
}

type waitForPlayersView struct {
	State   string       `json:"state"`
	Players []PlayerInfo `json:"players"`
}

type waitForGameStartView struct {
	State   string       `json:"state"`
	Players []PlayerInfo `json:"players"`
}

type typeView struct {
	State  string `json:"state"`
	Round  int    `json:"round"`  // 1-based
	Rounds int    `json:"rounds"` // total
	// the drawing to describe, absent in the first round
	DrawingSrc string      `json:"drawingSrc,omitempty"`
	Artist     *PlayerInfo `json:"artist,omitempty"`
}

type drawView struct {
	State      string     `json:"state"`
	Round      int        `json:"round"`
	Rounds     int        `json:"rounds"`
	Text       string     `json:"text"`
	TextWriter PlayerInfo `json:"textWriter"`
}

type waitForRoundFinishView struct {
	State             string       `json:"state"`
	WaitingForPlayers []PlayerInfo `json:"waitingForPlayers"`
	IsTypeRound       bool         `json:"isTypeRound"`
}

type storiesView struct {
	State   string          `json:"state"`
	Stories []renderedStory `json:"stories"`
}

type renderedStory struct {
	Elements []renderedStoryElement `json:"elements"`
}

type renderedStoryElement struct {
	Type    string     `json:"type"`
	Content string     `json:"content"`
	Player  PlayerInfo `json:"player"`
}

func newJoinView() joinView {
	return joinView{State: "join"}
}

func newAlreadyStartedView() alreadyStartedView {
	return alreadyStartedView{State: "alreadyStartedGame"}
}

func newUnknownGameView() unknownGameView {
	return unknownGameView{State: "unknownGame"}
}

// viewForNewcomer is what a connection gets when its playerId is not part of
// this game: an invitation to join while the lobby is open, a polite refusal
// while running, the finished stories once over.
func (g *Game) viewForNewcomer() any {
	switch g.state.Phase {
	case phaseWaitingForPlayers:
		return newJoinView()
	case phaseStarted:
		return newAlreadyStartedView()
	case phaseFinished:
		return g.finishedView()
	default:
		panic(fmt.Sprintf("game %s: unknown phase %q", g.id, g.state.Phase))
	}
}

func (g *Game) viewFor(player *Player) any {
	switch g.state.Phase {
	case phaseWaitingForPlayers:
		return g.waitingView(player)
	case phaseStarted:
		return g.startedView(player)
	case phaseFinished:
		return g.finishedView()
	default:
		panic(fmt.Sprintf("game %s: unknown phase %q", g.id, g.state.Phase))
	}
}

func (g *Game) waitingView(player *Player) any {
	infos := playerInfos(g.state.Players)
	if player.IsCreator {
		return waitForPlayersView{State: "waitForPlayers", Players: infos}
	}
	return waitForGameStartView{State: "waitForGameStart", Players: infos}
}

func (g *Game) startedView(player *Player) any {
	if g.hasPlayerFinishedCurrentRound(player) {
		var waitingFor []PlayerInfo
		for _, p := range g.state.Players {
			if !g.hasPlayerFinishedCurrentRound(p) {
				waitingFor = append(waitingFor, p.info())
			}
		}
		return waitForRoundFinishView{
			State:             "waitForRoundFinish",
			WaitingForPlayers: waitingFor,
			IsTypeRound:       g.isTypeRound(),
		}
	}

	if g.isTypeRound() {
		return g.typeViewFor(player)
	}
	return g.drawViewFor(player)
}

func (g *Game) typeViewFor(player *Player) typeView {
	view := typeView{
		State:  "type",
		Round:  g.state.Round + 1,
		Rounds: len(g.state.Matrix),
	}
	if g.state.Round == 0 {
		return view
	}

	storyIndex := g.currentStoryIndexForPlayer(player)
	previous := g.state.Stories[storyIndex].Elements[g.state.Round-1]
	artist := g.playerForStoryInRound(storyIndex, g.state.Round-1).info()

	view.DrawingSrc = g.drawingSrc(previous.Content)
	view.Artist = &artist
	return view
}

func (g *Game) drawViewFor(player *Player) drawView {
	storyIndex := g.currentStoryIndexForPlayer(player)
	previous := g.state.Stories[storyIndex].Elements[g.state.Round-1]
	writer := g.playerForStoryInRound(storyIndex, g.state.Round-1)

	return drawView{
		State:      "draw",
		Round:      g.state.Round + 1,
		Rounds:     len(g.state.Matrix),
		Text:       previous.Content,
		TextWriter: writer.info(),
	}
}

// finishedView renders every completed story, each element attributed to the
// player whose matrix position held that story in that round.
func (g *Game) finishedView() storiesView {
	stories := make([]renderedStory, len(g.state.Stories))
	for storyIndex, story := range g.state.Stories {
		rendered := renderedStory{Elements: make([]renderedStoryElement, len(story.Elements))}
		for round, element := range story.Elements {
			content := element.Content
			if element.Type == elementTypeImage {
				content = g.drawingSrc(content)
			}
			rendered.Elements[round] = renderedStoryElement{
				Type:    element.Type,
				Content: content,
				Player:  g.playerForStoryInRound(storyIndex, round).info(),
			}
		}
		stories[storyIndex] = rendered
	}
	return storiesView{State: "stories", Stories: stories}
}

func (g *Game) drawingSrc(filename string) string {
	return g.cfg.prefix + "/api/image/" + g.id + "/" + filename
}

func playerInfos(players []*Player) []PlayerInfo {
	infos := make([]PlayerInfo, len(players))
	for i, p := range players {
		infos[i] = p.info()
	}
	return infos
}
