package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

var errBodyRequired = errors.New("request body is required")

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// WriteError is an exported helper for returning JSON API errors.
func WriteError(w http.ResponseWriter, status int, err error) {
	writeError(w, status, err)
}

// decodeJSON decodes exactly one JSON value into dest, rejecting trailing
// data. Fields dest does not declare are ignored.
func decodeJSON(r *http.Request, dest interface{}) error {
	if r.Body == nil {
		return errBodyRequired
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	decoder.UseNumber()
	if err := decoder.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return errBodyRequired
		}
		return err
	}
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("request body must contain a single JSON value")
	}
	return nil
}
