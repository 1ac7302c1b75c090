package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/me/ksched/pkg/model"
)

// requestID generates a unique request identifier.
func requestID() string {
	return "req_" + uuid.New().String()[:8]
}

// respondOK writes a success response with the standard envelope.
func respondOK(w http.ResponseWriter, reqID string, data any) {
	respondJSON(w, http.StatusOK, reqID, data, nil, nil)
}

// respondAccepted writes a 202 response for work that continues in the background.
func respondAccepted(w http.ResponseWriter, reqID string, data any) {
	respondJSON(w, http.StatusAccepted, reqID, data, nil, nil)
}

// respondList writes a success response with pagination.
func respondList(w http.ResponseWriter, reqID string, data any, pg *model.Pagination) {
	respondJSON(w, http.StatusOK, reqID, data, pg, nil)
}

// respondError writes an error response with the standard envelope.
func respondError(w http.ResponseWriter, reqID string, status int, apiErr *model.APIError) {
	respondJSON(w, status, reqID, nil, nil, apiErr)
}

// respondInternal reports an unexpected store or kernel failure.
func respondInternal(w http.ResponseWriter, reqID string, err error) {
	respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
}

// respondScenarioError maps a scenario parse failure to a 400.
func respondScenarioError(w http.ResponseWriter, reqID string, err error) {
	var kerr *model.KernelError
	if errors.As(err, &kerr) {
		respondError(w, reqID, http.StatusBadRequest, &model.APIError{Code: kerr.Code, Message: kerr.Message})
		return
	}
	respondError(w, reqID, http.StatusBadRequest, model.NewValidationError(err.Error()))
}

func respondJSON(w http.ResponseWriter, status int, reqID string, data any, pg *model.Pagination, apiErr *model.APIError) {
	resp := model.Response{
		RequestID:  reqID,
		Timestamp:  time.Now().UTC(),
		Data:       data,
		Pagination: pg,
		Error:      apiErr,
	}
	if apiErr != nil {
		resp.Status = "error"
	} else {
		resp.Status = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// queryInt reads an optional integer query parameter.
func queryInt(r *http.Request, name string) (int, *model.APIError) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, model.NewValidationError("invalid query parameter",
			model.FieldError{Field: name, Message: "must be an integer"})
	}
	return n, nil
}

// queryPage reads limit and offset.
func queryPage(r *http.Request) (limit, offset int, apiErr *model.APIError) {
	if limit, apiErr = queryInt(r, "limit"); apiErr != nil {
		return 0, 0, apiErr
	}
	if offset, apiErr = queryInt(r, "offset"); apiErr != nil {
		return 0, 0, apiErr
	}
	return limit, offset, nil
}
