package gateway

import (
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	timeauthority "github.com/mcdev12/bookiebutcher/go/clients/time_authority_client"
)

// TimeHandler serves the authoritative server time used for clock skew estimation.
type TimeHandler struct {
	clock clockwork.Clock
}

func NewTimeHandler(clock clockwork.Clock) *TimeHandler {
	return &TimeHandler{clock: clock}
}

func (h *TimeHandler) HandleTime(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, timeauthority.TimeResponse{
		ServerUTC:      h.clock.Now().UTC().Format(time.RFC3339Nano),
		ServerTimezone: "UTC",
	})
}

func (h *TimeHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET "+timeauthority.TimeEndpoint, h.HandleTime)
}
