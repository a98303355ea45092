package api

import (
	"encoding/json"
	"fmt"
	"net/http"
)

const maxWebhookBodyBytes = 1 << 20

// writeStatus replies with a short plain-text status line, the shape
// provider webhook callers expect.
func writeStatus(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	fmt.Fprintln(w, message)
}

// decodeBody parses the request body as a JSON object regardless of the
// declared content type. SNS posts notifications as text/plain, so the
// content type header is advisory here.
func decodeBody(body []byte) (map[string]interface{}, error) {
	var fields map[string]interface{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}
