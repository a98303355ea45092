package api

import (
	"errors"
	"io"
	"net/http"

	"mailwatch/internal/track"
)

// handleWebhook is the single ingestion endpoint. Provider callers
// retry on 5xx, so everything past signature verification answers 202:
// a payload we cannot use will not become usable on redelivery.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	provider := r.PathValue("provider")
	if !s.registry.Supports(provider) {
		s.metrics.Rejected(provider, "unknown_provider")
		writeStatus(w, http.StatusBadRequest, "unknown provider")
		return
	}
	driver := s.registry.Resolve(provider)
	log := s.log.WithValues("provider", driver.Name())

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
	if err != nil {
		s.metrics.Rejected(driver.Name(), "body_read")
		writeStatus(w, http.StatusBadRequest, "unreadable body")
		return
	}
	fields, err := decodeBody(body)
	if err != nil {
		s.metrics.Rejected(driver.Name(), "malformed_json")
		writeStatus(w, http.StatusBadRequest, "malformed payload")
		return
	}

	env := &track.Envelope{Header: r.Header, Body: body, Fields: fields}
	if !driver.VerifySignature(r.Context(), env) {
		s.metrics.Rejected(driver.Name(), "invalid_signature")
		writeStatus(w, http.StatusBadRequest, "invalid signature")
		return
	}

	if hs, ok := driver.(track.Handshaker); ok {
		if hs.HandleHandshake(r.Context(), env.Fields) {
			log.Info("webhook handshake handled")
			writeStatus(w, http.StatusAccepted, "handshake accepted")
			return
		}
	}

	// The signature has served its purpose; keep it out of stored
	// payload data.
	delete(env.Fields, "Signature")

	ev, err := track.Normalize(driver, env)
	if err != nil {
		var unrecognized *track.UnrecognizedEventError
		if errors.As(err, &unrecognized) {
			log.Info("dropping unrecognized event")
			s.metrics.Rejected(driver.Name(), "unrecognized_event")
			writeStatus(w, http.StatusAccepted, "event ignored")
			return
		}
		log.Error(err, "webhook normalization failed")
		s.metrics.Rejected(driver.Name(), "normalize_error")
		writeStatus(w, http.StatusAccepted, "event ignored")
		return
	}

	if err := s.dispatcher.HandleEvent(r.Context(), ev); err != nil {
		// Redelivery would hit the same failure; log and acknowledge.
		log.Error(err, "event dispatch failed", "kind", string(ev.Kind))
	}
	s.metrics.EventNormalized(ev.Provider, string(ev.Kind))
	writeStatus(w, http.StatusAccepted, "accepted")
}
