// Package httpapi exposes an Agent over HTTP. Chat requests stream their
// events as server-sent events or as WebSocket text frames.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"github.com/m4xw311/dealgate/agent"
	"github.com/m4xw311/dealgate/session"
	"github.com/m4xw311/dealgate/stream"
)

// UserHeader carries the authenticated user id set by the fronting proxy.
const UserHeader = "X-User-ID"

const maxRequestBytes = 1 << 20

// Server provides the HTTP interface of the gateway.
type Server struct {
	agent    *agent.Agent
	router   *httprouter.Router
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewServer(a *agent.Agent, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		agent:  a,
		router: httprouter.New(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.POST("/v1/chat", s.handleChat)
	s.router.GET("/v1/chat/ws", s.handleChatWS)
	s.router.GET("/v1/tools", s.handleTools)
	s.router.GET("/healthz", s.handleHealth)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func callerFrom(r *http.Request) session.Caller {
	return session.Caller{UserID: r.Header.Get(UserHeader)}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req agent.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed request body: " + err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	sse, err := stream.NewSSEWriter(w)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	if err := s.agent.Handle(r.Context(), &req, callerFrom(r), sse); err != nil {
		s.logger.WarnContext(r.Context(), "chat request failed", "error", err)
	}
}

// handleChatWS serves any number of requests, one at a time, over a single
// connection. A client answers a confirmation by sending the next request.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WarnContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxRequestBytes)

	caller := callerFrom(r)
	out := stream.NewWSWriter(conn)
	for {
		var req agent.Request
		if err := conn.ReadJSON(&req); err != nil {
			switch err.(type) {
			case *json.SyntaxError, *json.UnmarshalTypeError:
				out.Emit(stream.ErrorEvent("malformed request"))
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.WarnContext(r.Context(), "websocket read failed", "error", err)
			}
			return
		}
		if err := s.agent.Handle(r.Context(), &req, caller, out); err != nil {
			s.logger.WarnContext(r.Context(), "chat request failed", "error", err)
		}
	}
}

// ToolInfo describes one registered tool.
type ToolInfo struct {
	Name                 string         `json:"name"`
	Description          string         `json:"description"`
	InputSchema          map[string]any `json:"input_schema"`
	RequiresConfirmation bool           `json:"requires_confirmation"`
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	infos := []ToolInfo{}
	for _, t := range s.agent.Registry.Tools() {
		infos = append(infos, ToolInfo{
			Name:                 t.Name(),
			Description:          t.Description(),
			InputSchema:          t.InputSchema(),
			RequiresConfirmation: t.RequiresConfirmation(),
		})
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "tools": s.agent.Registry.Len()})
}
