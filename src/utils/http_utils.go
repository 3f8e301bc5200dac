package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// GenerateETag creates a SHA256 hash of the JSON representation of the data.
func GenerateETag(data interface{}) (string, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal data for ETag generation: %w", err)
	}
	hash := sha256.Sum256(jsonData)
	return hex.EncodeToString(hash[:]), nil
}

// SendJSONError writes {"error": message} with statusCode.
func SendJSONError(w http.ResponseWriter, log *slog.Logger, message string, statusCode int) {
	if log == nil {
		log = slog.Default()
	}
	log.Warn("Sending JSON error to client", "message", message, "statusCode", statusCode)
	SendJSON(w, log, statusCode, map[string]string{"error": message})
}

// SendJSON encodes data as the response body.
func SendJSON(w http.ResponseWriter, log *slog.Logger, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil && log != nil {
		log.Error("Error encoding JSON response", "error", err)
	}
}
