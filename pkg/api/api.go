package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/skip2/go-qrcode"

	"github.com/astromechza/scoreboard/pkg/broadcast"
	"github.com/astromechza/scoreboard/pkg/carddb"
	"github.com/astromechza/scoreboard/pkg/engine"
	"github.com/astromechza/scoreboard/pkg/journal"
	"github.com/astromechza/scoreboard/pkg/store"
	"github.com/astromechza/scoreboard/pkg/timer"
	"github.com/astromechza/scoreboard/pkg/viz"
)

// Submitter queues inbound events for the engine.
type Submitter interface {
	Submit(ctx context.Context, m broadcast.Message) error
}

// EventSource serves the journal of a saved game.
type EventSource interface {
	Entries(ctx context.Context, game string) ([]journal.Event, error)
}

type Server struct {
	Store     *store.Store
	Timer     *timer.Timer
	Cards     *carddb.Database
	Gateway   *broadcast.Gateway
	Engine    Submitter
	Journal   EventSource
	PublicDir string
	// Addr is the listen address, used to work out the url other devices on the network should join.
	Addr string
}

// Handler builds the router. Websocket connections are bound to ctx rather than to their request so they are torn
// down on shutdown.
func (s *Server) Handler(ctx context.Context) http.Handler {
	r := mux.NewRouter()
	r.Use(func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			m := httpsnoop.CaptureMetrics(handler, writer, request)
			slog.Info("handled", "method", request.Method, "url", request.URL, "duration", m.Duration, "status", m.Code)
		})
	})

	r.Methods(http.MethodGet).Path("/api/game").HandlerFunc(s.getGame)
	r.Methods(http.MethodGet).Path("/api/game/graph.svg").HandlerFunc(s.getGraph)
	r.Methods(http.MethodGet).Path("/api/database").HandlerFunc(s.getDatabase)
	r.Methods(http.MethodGet).Path("/api/timer").HandlerFunc(s.getTimer)
	r.Methods(http.MethodGet).Path("/api/games").HandlerFunc(s.listGames)
	r.Methods(http.MethodGet).Path("/api/games/{file}").HandlerFunc(s.getSavedGame)
	r.Methods(http.MethodGet).Path("/api/games/{file}/events").HandlerFunc(s.getGameEvents)
	r.Methods(http.MethodGet).Path("/api/join.png").HandlerFunc(s.getJoinCode)
	r.Methods(http.MethodGet).Path("/ws").HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		s.serveSocket(ctx, writer, request)
	})
	if s.PublicDir != "" {
		r.Methods(http.MethodGet).PathPrefix("/").Handler(http.FileServer(http.Dir(s.PublicDir)))
	}
	return r
}

func writeJSON(writer http.ResponseWriter, status int, value interface{}) {
	raw, err := json.Marshal(value)
	if err != nil {
		slog.Error("failed to encode response", "err", err)
		writer.WriteHeader(http.StatusInternalServerError)
		return
	}
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	if _, err := writer.Write(raw); err != nil {
		slog.Error("failed to write out", "err", err)
	}
}

func writeError(writer http.ResponseWriter, status int, err error) {
	writeJSON(writer, status, map[string]string{"error": err.Error()})
}

func (s *Server) getGame(writer http.ResponseWriter, request *http.Request) {
	doc, ok := s.Store.Current()
	if !ok {
		writeError(writer, http.StatusNotFound, store.ErrNoGame)
		return
	}
	writeJSON(writer, http.StatusOK, doc)
}

func (s *Server) getGraph(writer http.ResponseWriter, request *http.Request) {
	doc, ok := s.Store.Current()
	if !ok {
		writeError(writer, http.StatusNotFound, store.ErrNoGame)
		return
	}
	categories := doc.Settings.ObjectiveCategories
	raw, err := viz.SVG(doc, func(id string) int { return s.Cards.PointValue(id, categories...) })
	if err != nil {
		slog.Error("failed to render graph", "err", err)
		writer.WriteHeader(http.StatusInternalServerError)
		return
	}
	writer.Header().Set("Content-Type", "image/svg+xml")
	if _, err := writer.Write(raw); err != nil {
		slog.Error("failed to write out", "err", err)
	}
}

func (s *Server) getDatabase(writer http.ResponseWriter, request *http.Request) {
	if !s.Cards.Loaded() {
		writeError(writer, http.StatusNotFound, errors.New("card database not loaded"))
		return
	}
	writeJSON(writer, http.StatusOK, s.Cards.Raw())
}

func (s *Server) getTimer(writer http.ResponseWriter, request *http.Request) {
	writeJSON(writer, http.StatusOK, s.Timer.State())
}

func (s *Server) listGames(writer http.ResponseWriter, request *http.Request) {
	games, err := s.Store.List()
	if err != nil {
		slog.Error("failed to list games", "err", err)
		writeError(writer, http.StatusInternalServerError, err)
		return
	}
	if games == nil {
		games = []store.SavedGame{}
	}
	writeJSON(writer, http.StatusOK, games)
}

func savedGameStatus(err error) int {
	switch {
	case errors.Is(err, store.ErrBadFilename):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) getSavedGame(writer http.ResponseWriter, request *http.Request) {
	raw, err := s.Store.Raw(mux.Vars(request)["file"])
	if err != nil {
		writeError(writer, savedGameStatus(err), err)
		return
	}
	writer.Header().Set("Content-Type", "application/json")
	if _, err := writer.Write(raw); err != nil {
		slog.Error("failed to write out", "err", err)
	}
}

func (s *Server) getGameEvents(writer http.ResponseWriter, request *http.Request) {
	name := mux.Vars(request)["file"]
	if !store.ValidName(name) {
		writeError(writer, http.StatusBadRequest, store.ErrBadFilename)
		return
	}
	events := []journal.Event{}
	if s.Journal != nil {
		var err error
		if events, err = s.Journal.Entries(request.Context(), name); err != nil {
			slog.Error("failed to read journal", "game", name, "err", err)
			writeError(writer, http.StatusInternalServerError, err)
			return
		}
	}
	writeJSON(writer, http.StatusOK, events)
}

func (s *Server) getJoinCode(writer http.ResponseWriter, request *http.Request) {
	png, err := qrcode.Encode(JoinURL(s.Addr), qrcode.Medium, 256)
	if err != nil {
		slog.Error("failed to encode qr code", "err", err)
		writer.WriteHeader(http.StatusInternalServerError)
		return
	}
	writer.Header().Set("Content-Type", "image/png")
	if _, err := writer.Write(png); err != nil {
		slog.Error("failed to write out", "err", err)
	}
}

type serverIPPayload struct {
	Address string `json:"address"`
}

func (s *Server) serveSocket(ctx context.Context, writer http.ResponseWriter, request *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(writer, request, nil)
	if err != nil {
		slog.Error("failed to upgrade", "err", err)
		return
	}
	defer conn.Close()

	sub := s.Gateway.Subscribe(request.RemoteAddr)
	defer s.Gateway.Unsubscribe(sub)

	if frame, err := broadcast.Encode(engine.EventServerIP, serverIPPayload{Address: JoinURL(s.Addr)}); err == nil {
		s.Gateway.Send(sub, frame)
	}

	broadcast.Serve(ctx, conn, sub, func(m broadcast.Message) {
		if err := s.Engine.Submit(ctx, m); err != nil {
			slog.Warn("failed to submit event", "event", m.Event, "id", sub.ID, "err", err)
		}
	})
}

// JoinURL is the url other devices on the local network use to reach the server.
func JoinURL(listenAddr string) string {
	host, port, err := net.SplitHostPort(listenAddr)
	if err != nil {
		host, port = listenAddr, "80"
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = lanIP()
	}
	return "http://" + net.JoinHostPort(host, port) + "/"
}

func lanIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "localhost"
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() || ipNet.IP.To4() == nil {
			continue
		}
		if strings.HasPrefix(ipNet.IP.String(), "169.254.") {
			continue
		}
		return ipNet.IP.String()
	}
	return "localhost"
}
