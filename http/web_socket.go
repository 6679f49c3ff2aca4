package http

import (
	"bytes"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	dicomweb "gitlab.com/medical-research/dicomweb"
	"gitlab.com/medical-research/dicomweb/logger"
)

// StatusMessage ends a STOW-RS WebSocket session.
type StatusMessage struct {
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

// handleStowClientWebSocket handles the "GET /dicom-web/servers/{name}/stow/ws"
// route. The client sends one STOW-RS client request and receives one
// progress message per flush, then a final status message.
func (s *Server) handleStowClientWebSocket(w http.ResponseWriter, r *http.Request) {
	server, err := s.Servers.FindServer(mux.Vars(r)["name"])
	if err != nil {
		Error(w, r, err)
		return
	}

	// The upgrader has already answered the client on failure.
	conn, err := s.WebSocketUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Ctx(r.Context()).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx := r.Context()
	log := logger.Ctx(ctx)

	_, p, err := conn.ReadMessage()
	if err != nil {
		log.Warn().Err(err).Msg("streamed request could not be read")
		return
	}

	req, err := decodeStowClientRequest(bytes.NewReader(p))
	if err != nil {
		writeStatus(conn, r, err)
		return
	}

	req.Progress = func(p dicomweb.FlushProgress) {
		if err := conn.WriteJSON(&p); err != nil {
			log.Warn().Err(err).Msg("progress could not be streamed to client")
		}
	}

	writeStatus(conn, r, s.StowClientService.SendResources(ctx, server, req))
}

func writeStatus(conn *websocket.Conn, r *http.Request, err error) {
	msg := &StatusMessage{Status: "success"}
	if err != nil {
		errorCount.WithLabelValues(dicomweb.ErrorCode(err)).Inc()
		if code := dicomweb.ErrorCode(err); code == dicomweb.EINTERNAL || code == dicomweb.ESTORE || code == dicomweb.EPROTOCOL {
			LogError(r, err)
		}
		msg = &StatusMessage{Error: dicomweb.ErrorMessage(err)}
	}

	if err := conn.WriteJSON(msg); err != nil {
		LogError(r, err)
		return
	}
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
