package main

import (
	"encoding/json"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

type createGameRequest struct {
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
	PlayerFace string `json:"playerFace"`
}

type createGameResponse struct {
	GameID string `json:"gameId"`
}

func (r createGameRequest) validate() bool {
	return validPlayerID(r.PlayerID) &&
		r.PlayerName != "" && len(r.PlayerName) <= maxNameLength &&
		r.PlayerFace != "" && len(r.PlayerFace) <= maxFaceLength
}

// serveCreateGame handles the stateless game-creation request: it reserves a
// fresh game code and registers the caller as its creator, independent of any
// websocket connection.
func serveCreateGame(cfg *Config, router *SessionRouter) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var request createGameRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&request); err != nil {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
		if !request.validate() {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}

		gameID, err := router.CreateGame(request.PlayerID, request.PlayerName, request.PlayerFace)
		if err != nil {
			http.Error(w, "game creation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		securityHeaders(cfg, w)
		_ = json.NewEncoder(w).Encode(createGameResponse{GameID: gameID})
	}
}

var imageNamePattern = regexp.MustCompile(`^[\w\-]+\.png$`)

// serveImage returns a stored drawing. Drawings are immutable once written,
// so they can be cached forever.
func serveImage(cfg *Config, storage *GameStorage, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		gameID := p.ByName("gameid")
		imageName := p.ByName("image")
		if !validGameID(gameID) || !imageNamePattern.MatchString(imageName) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}

		image, err := storage.OpenImage(gameID, imageName)
		if err != nil {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		defer image.Close()

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		securityHeaders(cfg, w)

		written, err := io.Copy(w, image)
		if err != nil {
			errs <- err

			return
		}

		logf(cfg, "SERVE: Drawing %s/%s (%s) to %s", gameID, imageName, humanReadableSize(written), realIP(r))
	}
}

// serveQR generates a PNG QR code pointing at the game URL, for sharing the
// lobby with the rest of the table.
func serveQR(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		gameID := p.ByName("gameid")
		if !validGameID(gameID) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}

		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}

		// we are at /game/:gameid/qr; strip the trailing "/qr" to get the game URL
		path := strings.TrimSuffix(r.URL.Path, "/qr")
		url := scheme + "://" + r.Host + path

		const qrSize = 320
		png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)
		_, _ = w.Write(png)
	}
}
