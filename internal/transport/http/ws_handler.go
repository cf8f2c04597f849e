package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"pair-game-service/internal/app"
	"pair-game-service/internal/domain"

	"github.com/gorilla/websocket"
)

type WSHandler struct {
	service  *app.GameService
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.GameService) *WSHandler {
	return &WSHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	Text string `json:"text"`
}

type gamePayload struct {
	GameID int64 `json:"gameId"`
}

type connectedPayload struct {
	GameID int64 `json:"gameId"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ServeWS upgrades the connection and serves pair game commands. The userId
// query parameter is the caller's identity, supplied by an upstream auth layer.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "missing userId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			return
		}
		switch inbound.Type {
		case "connect":
			gameID, err := h.service.ConnectToGame(r.Context(), userID)
			if err != nil {
				h.writeError(conn, err)
				continue
			}
			h.write(conn, outboundMessage[connectedPayload]{Type: "connected", Payload: connectedPayload{GameID: gameID}})
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				h.write(conn, outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Code: "badRequest", Message: "invalid answer payload"}})
				continue
			}
			view, err := h.service.RecordAnswer(r.Context(), userID, payload.Text)
			if err != nil {
				h.writeError(conn, err)
				continue
			}
			h.write(conn, outboundMessage[domain.AnswerView]{Type: "answerResult", Payload: view})
		case "current":
			view, err := h.service.GetCurrentGame(r.Context(), userID)
			if err != nil {
				h.writeError(conn, err)
				continue
			}
			h.write(conn, outboundMessage[domain.GameView]{Type: "game", Payload: view})
		case "game":
			var payload gamePayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				h.write(conn, outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Code: "badRequest", Message: "invalid game payload"}})
				continue
			}
			view, err := h.service.GetGame(r.Context(), userID, payload.GameID)
			if err != nil {
				h.writeError(conn, err)
				continue
			}
			h.write(conn, outboundMessage[domain.GameView]{Type: "game", Payload: view})
		default:
			h.write(conn, outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Code: "badRequest", Message: "unsupported message type"}})
		}
	}
}

func (h *WSHandler) writeError(conn *websocket.Conn, err error) {
	h.write(conn, outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{
		Code:    errorCode(err),
		Message: err.Error(),
	}})
}

func (h *WSHandler) write(conn *websocket.Conn, msg any) {
	if err := conn.WriteJSON(msg); err != nil {
		log.Printf("ws write error: %v", err)
	}
}

// errorCode maps domain failures onto the forbidden/notFound/internal taxonomy.
func errorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrAlreadyInGame),
		errors.Is(err, domain.ErrNotInActiveGame),
		errors.Is(err, domain.ErrAllQuestionsAnswered),
		errors.Is(err, domain.ErrNotGameParticipant):
		return "forbidden"
	case errors.Is(err, domain.ErrGameNotFound),
		errors.Is(err, domain.ErrNoCurrentGame):
		return "notFound"
	default:
		return "internal"
	}
}
