package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Error *AppError `json:"error"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError renders err as {"error":{...}}. Server-side failures are logged
// with their internal cause, which never reaches the client.
func WriteError(w http.ResponseWriter, log *zap.Logger, err error) {
	appErr := FromError(err)
	if appErr == nil {
		appErr = ErrInternalServer
	}
	status := appErr.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
	}
	if status >= http.StatusInternalServerError && log != nil {
		log.Error(appErr.Message, zap.Error(appErr.Internal), zap.String("code", appErr.Code))
	}
	WriteJSON(w, status, errorBody{Error: appErr})
}

// DecodeJSON reads a size-capped JSON body into dst and validates it.
// Unknown fields are rejected.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return New("PAYLOAD_TOO_LARGE", "Request body too large", http.StatusRequestEntityTooLarge)
		case errors.Is(err, io.EOF):
			return NewBadRequest("Request body is empty")
		default:
			return NewBadRequest("Invalid JSON: " + err.Error())
		}
	}
	if err := Validate(dst); err != nil {
		return err
	}
	return nil
}
