package api

import "net/http"

// Routes wires the webhook endpoint and the liveness probe onto a
// fresh mux. The metrics endpoint is mounted by bootstrap so the
// promhttp handler stays out of this package.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+s.prefix+"/{provider}", s.handleWebhook)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	return mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, http.StatusOK, "ok")
}
