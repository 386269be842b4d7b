package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
)

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain a single JSON value")
	}
	return nil
}

func parseIntDefault(raw string, fallback int) int {
	if strings.TrimSpace(raw) == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func writeMappedError(r *http.Request, w http.ResponseWriter, operation string, err error) {
	status, code, msg := mapDomainError(err)
	writeFailure(r, w, operation, status, code, msg, err)
}

// writeValidationError reports malformed transport input. Domain validation errors go
// through writeMappedError instead.
func writeValidationError(r *http.Request, w http.ResponseWriter, operation string, err error) {
	writeFailure(r, w, operation, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), err)
}

func writeMissingBearerError(r *http.Request, w http.ResponseWriter, operation string) {
	writeFailure(r, w, operation, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token", nil)
}

func writeFailure(r *http.Request, w http.ResponseWriter, operation string, status int, code, msg string, err error) {
	logHTTPOperationError(r, operation, status, code, msg, err)
	writeError(w, status, code, msg)
}
