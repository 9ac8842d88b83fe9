package credential

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MrWong99/concierge/internal/observe"
	"github.com/MrWong99/concierge/pkg/realtime"
)

type handlerResponse struct {
	ClientSecret clientSecret `json:"client_secret"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// ServeHTTP mints one secret per request and answers with
//
//	{"client_secret":{"value":"ek_...","expires_at":1735689600}}
//
// Upstream failures map to 502 Bad Gateway. The response never contains
// the upstream error text, which may echo parts of the API key.
func (m *Minter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}
	log := observe.Logger(r.Context(), m.log)

	secret, err := m.mint(r.Context())
	if err != nil {
		log.Error("credential mint failed", "err", err)
		msg := "upstream session request failed"
		if errors.Is(err, realtime.ErrAuth) {
			msg = "upstream rejected the server credentials"
		}
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: msg})
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, handlerResponse{ClientSecret: secret})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
