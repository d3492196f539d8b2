package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/GoalPipe/internal/models"
)

// internalErrorBody is sent when an envelope cannot be encoded.
var internalErrorBody = mustMarshal(models.Error("Internal server error"))

func mustMarshal(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic("api: cannot encode static response: " + err.Error())
	}
	return data
}

// writeJSONResponse encodes response as the body with statusCode.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	body, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server writeJSONResponse marshal failed", "error", err, "status", statusCode)
		body, statusCode = internalErrorBody, http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(body); err != nil {
		slog.Error("Server writeJSONResponse write failed", "error", err)
	}
}

// methodNotAllowed rejects a request whose method is not allowed.
func methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
}
