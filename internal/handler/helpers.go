package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/safetyhub/internal/failure"
	"github.com/safetyhub/internal/logger"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("writeJSON encode: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeFailure maps an error kind to its HTTP status.
func writeFailure(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch failure.KindOf(err) {
	case failure.KindValidation:
		status = http.StatusBadRequest
	case failure.KindNotFound:
		status = http.StatusNotFound
	case failure.KindConflict:
		status = http.StatusConflict
	default:
		logger.Errorf("http: %v", err)
	}
	writeError(w, status, failure.Message(err))
}

// queryInt reads a positive int query parameter clamped to max.
func queryInt(r *http.Request, key string, defaultVal, max int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return defaultVal
	}
	if n > max {
		return max
	}
	return n
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeBody parses the JSON body into dst and validates it.
func decodeBody(r *http.Request, v *validator.Validate, op string, dst any) error {
	if err := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 64<<10)).Decode(dst); err != nil {
		return failure.Validation(op, "invalid body")
	}
	if err := v.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			field := fe.Namespace()
			if i := strings.IndexByte(field, '.'); i >= 0 {
				field = field[i+1:]
			}
			return failure.Validation(op, "%s failed %s", field, fe.Tag())
		}
		return failure.Validation(op, "invalid body")
	}
	return nil
}
