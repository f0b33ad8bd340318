package chatIO

import (
	"encoding/json"
	"net/http"
)

type apiReply struct {
	Status     string          `json:"status,omitempty"`
	SessionKey string          `json:"session_key,omitempty"`
	Text       string          `json:"text,omitempty"`
	Widget     json.RawMessage `json:"widget,omitempty"`
	Sender     string          `json:"sender,omitempty"`
}

// serveAPI answers the handshake and messages endpoints. POST speaks JSON,
// GET speaks JSONP. kind is ENVELOPE_HANDSHAKE for the handshake endpoint.
func (server *Server) serveAPI(w http.ResponseWriter, req *http.Request, kind EnvelopeType) {
	w.Header().Set("Access-Control-Allow-Origin", "*")

	switch req.Method {
	// preflight
	case http.MethodOptions:
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept")
		w.WriteHeader(http.StatusNoContent)

	// CORS: JSON in, JSON out
	case http.MethodPost:
		body := httpBody{}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
		if kind == ENVELOPE_HANDSHAKE {
			body.Type = ENVELOPE_HANDSHAKE
		}

		reply, isOK := server.answer(body)
		if !isOK {
			http.Error(w, "unsupported type", http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(reply); err != nil {
			server.log.Warn().Err(err).Msg("write reply")
		}

	// JSONP: query in, callback invocation out
	case http.MethodGet:
		query := req.URL.Query()
		callback := query.Get("callback")
		if !isCallbackName(callback) {
			http.Error(w, "invalid callback", http.StatusBadRequest)
			return
		}

		body := httpBody{
			Type:       EnvelopeType(query.Get("type")),
			Message:    query.Get("message"),
			SessionKey: query.Get("session_key"),
		}
		if kind == ENVELOPE_HANDSHAKE {
			body.Type = ENVELOPE_HANDSHAKE
		}

		reply, isOK := server.answer(body)
		if !isOK {
			http.Error(w, "unsupported type", http.StatusBadRequest)
			return
		}

		data, err := json.Marshal(reply)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/javascript")
		w.Write([]byte(callback + "(" + string(data) + ");"))

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (server *Server) answer(body httpBody) (apiReply, bool) {
	switch body.Type {
	case ENVELOPE_HANDSHAKE:
		s := server.createSession()
		return apiReply{Status: "success", SessionKey: s.ID()}, true

	case ENVELOPE_CONNECT:
		return apiReply{Status: "success", Text: welcomeText, Sender: "bot"}, true

	case ENVELOPE_MESSAGE:
		s := server.lookupSession(body.SessionKey)
		return apiReply{Status: "success", Text: server.reply(s, body.Message), Sender: "bot"}, true
	}
	return apiReply{}, false
}
