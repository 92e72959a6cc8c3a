package metricshttp

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/syncore/coreserver/internal/logger"
)

// response is the standard health-check envelope, matching the teacher's
// status/timestamp/data/error shape.
type response struct {
	Status    string      `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		logger.Error("metricshttp: failed to encode response", "error", err)
		http.Error(w, `{"status":"error","error":"failed to encode response"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func healthyResponse(data interface{}) response {
	return response{Status: "healthy", Timestamp: time.Now().UTC(), Data: data}
}

func unhealthyResponse(data interface{}) response {
	return response{Status: "unhealthy", Timestamp: time.Now().UTC(), Data: data}
}
