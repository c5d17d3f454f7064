package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/leapstack-labs/leapmetrics/internal/catalog"
	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

const maxBody = 1 << 20

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return &core.ValidationError{Path: "request body", Err: err}
	}
	return nil
}

// statusOf maps the error taxonomy onto HTTP status codes.
func statusOf(err error) (int, string) {
	var (
		dup  *core.DuplicateNameError
		val  *core.ValidationError
		conn *core.ConnectionError
		exec *core.ExecutionError
		orc  *core.OracleError
		depl *core.DeployError
	)
	switch {
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, core.ErrFeedbackAlreadySet):
		return http.StatusConflict, "feedback_already_set"
	case errors.Is(err, catalog.ErrNoFeedback):
		return http.StatusConflict, "no_feedback"
	case errors.As(err, &dup):
		return http.StatusConflict, "duplicate_name"
	case errors.As(err, &val):
		return http.StatusBadRequest, "validation"
	case errors.As(err, &conn):
		if conn.Kind == core.ConnUnreachable {
			return http.StatusBadGateway, string(conn.Kind)
		}
		if conn.Kind == core.ConnNameCollision {
			return http.StatusConflict, string(conn.Kind)
		}
		return http.StatusBadRequest, string(conn.Kind)
	case errors.As(err, &exec):
		return http.StatusUnprocessableEntity, "execution"
	case errors.As(err, &orc):
		return http.StatusBadGateway, "oracle"
	case errors.As(err, &depl):
		return http.StatusInternalServerError, fmt.Sprintf("deploy_%s", depl.Phase)
	}
	return http.StatusInternalServerError, ""
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Kind: kind})
}
