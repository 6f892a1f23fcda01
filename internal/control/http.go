package control

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/MrWong99/siggen/pkg/synth"
)

// maxBodyBytes caps HTTP command bodies.
const maxBodyBytes = 4 << 10

// requestBody is the union of every HTTP command body. Pointer fields tell a
// missing field apart from a zero value.
type requestBody struct {
	Level      *float64 `json:"level"`
	Muted      *bool    `json:"muted"`
	Hz         *float64 `json:"hz"`
	Talker     *bool    `json:"talker"`
	Synced     *bool    `json:"synced"`
	Multiplier *float64 `json:"multiplier"`
}

// errorBody is the JSON response for failed requests.
type errorBody struct {
	Error string `json:"error"`
	Usage bool   `json:"usage,omitempty"`
}

type frequencyBody struct {
	Hz       float64 `json:"hz"`
	Fallback bool    `json:"fallback,omitempty"`
}

// Register adds the control routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/voices", s.listVoices)
	mux.HandleFunc("GET /v1/voices/{id}", s.getVoice)
	mux.HandleFunc("GET /v1/voices/{id}/frequency", s.getFrequency)
	mux.HandleFunc("GET /v1/groups/{group}/talker-frequency", s.getTalkerFrequency)

	mux.HandleFunc("POST /v1/voices/{id}/amplitude", s.voiceCommand(OpSetAmplitude, func(b requestBody, c *Command) error {
		if b.Level == nil {
			return errMissing("level")
		}
		c.Value = *b.Level
		return nil
	}))
	mux.HandleFunc("POST /v1/voices/{id}/mute", s.voiceCommand(OpMute, func(b requestBody, c *Command) error {
		if b.Muted == nil {
			return errMissing("muted")
		}
		c.Muted = *b.Muted
		return nil
	}))
	mux.HandleFunc("POST /v1/voices/{id}/frequency", s.voiceCommand(OpSetFrequency, func(b requestBody, c *Command) error {
		if b.Hz == nil {
			return errMissing("hz")
		}
		c.Value = *b.Hz
		return nil
	}))
	mux.HandleFunc("POST /v1/voices/{id}/sample-rate", s.voiceCommand(OpSetSampleRate, func(b requestBody, c *Command) error {
		if b.Hz == nil {
			return errMissing("hz")
		}
		c.Value = *b.Hz
		return nil
	}))
	mux.HandleFunc("POST /v1/voices/{id}/talker", s.voiceCommand(OpBecomeTalker, nil))
	mux.HandleFunc("POST /v1/voices/{id}/sync", s.voiceCommand(OpSetSyncState, func(b requestBody, c *Command) error {
		if b.Talker == nil || b.Synced == nil {
			return errMissing("talker and synced")
		}
		c.Talker, c.Synced = *b.Talker, *b.Synced
		return nil
	}))
	mux.HandleFunc("POST /v1/voices/{id}/multiplier", s.voiceCommand(OpSetMultiplier, func(b requestBody, c *Command) error {
		if b.Multiplier == nil {
			return errMissing("multiplier")
		}
		c.Value = *b.Multiplier
		return nil
	}))
	mux.HandleFunc("POST /v1/voices/{id}/resync", s.voiceCommand(OpResync, nil))
	mux.HandleFunc("POST /v1/sample-rate", s.setOutputSampleRate)

	mux.HandleFunc("GET /v1/ws", s.serveWS)
}

func errMissing(field string) error {
	return fmt.Errorf("missing field %s", field)
}

func (s *Server) listVoices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, viewsOf(s.eng.Voices()))
}

func (s *Server) getVoice(w http.ResponseWriter, r *http.Request) {
	id, ok := voiceID(w, r)
	if !ok {
		return
	}
	v, ok := s.eng.Voice(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("voice %d: %w", id, synth.ErrUnknownVoice))
		return
	}
	writeJSON(w, http.StatusOK, viewOf(v))
}

func (s *Server) getFrequency(w http.ResponseWriter, r *http.Request) {
	id, ok := voiceID(w, r)
	if !ok {
		return
	}
	hz, err := s.eng.EffectiveFrequency(id)
	if err != nil {
		_, code := classify(err)
		writeError(w, code, err)
		return
	}
	writeJSON(w, http.StatusOK, frequencyBody{Hz: hz})
}

func (s *Server) getTalkerFrequency(w http.ResponseWriter, r *http.Request) {
	group, err := strconv.Atoi(r.PathValue("group"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid group %q", r.PathValue("group")))
		return
	}
	hz, ok := s.eng.TalkerFrequency(group)
	writeJSON(w, http.StatusOK, frequencyBody{Hz: hz, Fallback: !ok})
}

// voiceCommand returns a handler that decodes the request body, lets fill
// copy its fields into a [Command] and executes it. A nil fill accepts an
// empty body. The response is the voice snapshot after the command.
func (s *Server) voiceCommand(op string, fill func(requestBody, *Command) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := voiceID(w, r)
		if !ok {
			return
		}
		body, err := decodeBody(w, r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		cmd := Command{Op: op, Voice: int(id)}
		if fill != nil {
			if err := fill(body, &cmd); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
		}
		if err := s.Execute(r.Context(), cmd); err != nil {
			_, code := classify(err)
			writeError(w, code, err)
			return
		}
		v, _ := s.eng.Voice(id)
		writeJSON(w, http.StatusOK, viewOf(v))
	}
}

func (s *Server) setOutputSampleRate(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if body.Hz == nil {
		writeError(w, http.StatusBadRequest, errMissing("hz"))
		return
	}
	if err := s.Execute(r.Context(), Command{Op: OpSetOutputSampleRate, Value: *body.Hz}); err != nil {
		_, code := classify(err)
		writeError(w, code, err)
		return
	}
	writeJSON(w, http.StatusOK, frequencyBody{Hz: *body.Hz})
}

// voiceID parses the {id} path value, writing a 400 response on failure.
func voiceID(w http.ResponseWriter, r *http.Request) (synth.VoiceID, bool) {
	raw := r.PathValue("id")
	n, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid voice id %q", raw))
		return 0, false
	}
	return synth.VoiceID(n), true
}

// decodeBody strictly decodes a JSON request body. An empty body yields the
// zero value.
func decodeBody(w http.ResponseWriter, r *http.Request) (requestBody, error) {
	var b requestBody
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&b); err != nil && !errors.Is(err, io.EOF) {
		return b, fmt.Errorf("decode body: %w", err)
	}
	return b, nil
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error(), Usage: status == http.StatusConflict})
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
