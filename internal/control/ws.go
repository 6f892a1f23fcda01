package control

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/siggen/internal/observe"
)

// opVoices is a websocket-only query returning every voice snapshot.
const opVoices = "voices"

// wsReadLimit caps a single websocket command message.
const wsReadLimit = 4 << 10

// Reply is the websocket response to one command.
type Reply struct {
	OK     bool        `json:"ok"`
	Error  string      `json:"error,omitempty"`
	Usage  bool        `json:"usage,omitempty"`
	Voices []VoiceView `json:"voices,omitempty"`
}

// serveWS upgrades the request and processes one JSON command per text
// message until the client goes away. Every command gets exactly one reply,
// in order.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("control: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(wsReadLimit)

	ctx := r.Context()
	s.log.Debug("control: websocket connected", "remote", r.RemoteAddr)

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil && websocket.CloseStatus(err) == -1 {
				s.log.Debug("control: websocket read failed", "remote", r.RemoteAddr, "err", err)
			}
			return
		}
		if typ != websocket.MessageText {
			conn.Close(websocket.StatusUnsupportedData, "commands are JSON text messages")
			return
		}
		if err := wsjson.Write(ctx, conn, s.handleMessage(ctx, data)); err != nil {
			return
		}
	}
}

func (s *Server) handleMessage(ctx context.Context, data []byte) Reply {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return Reply{Error: "decode command: " + err.Error()}
	}
	if cmd.Op == opVoices {
		return Reply{OK: true, Voices: viewsOf(s.eng.Voices())}
	}
	if err := s.Execute(ctx, cmd); err != nil {
		status, _ := classify(err)
		return Reply{Error: err.Error(), Usage: status == observe.StatusUsage}
	}
	return Reply{OK: true}
}
