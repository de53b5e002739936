package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/apperr"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/auth"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/middleware"
)

var validate = validator.New()

func init() {
	// decimal.Decimal is a struct; validate it as a number
	validate.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if v, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := v.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
}

// decode reads a JSON body into req and runs its validate tags. On failure
// it has already written the response.
func decode(w http.ResponseWriter, r *http.Request, req interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body", "code": apperr.CodeValidation})
		return false
	}
	if err := validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			writeError(w, apperr.Validation("%v", err))
			return false
		}
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Tag()
		}
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "validation failed", "code": apperr.CodeValidation, "fields": fields})
		return false
	}
	return true
}

func actor(r *http.Request) auth.Actor {
	return middleware.ActorFromContext(r.Context())
}

// writeError maps err through apperr. Internal errors are logged, never echoed.
func writeError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	var e *apperr.Error
	if status >= http.StatusInternalServerError || !errors.As(err, &e) {
		log.Error().Err(err).Int("status", status).Msg("handler: request failed")
	}
	if status == http.StatusInternalServerError || e == nil {
		writeJSON(w, status, map[string]string{"error": "internal server error", "code": apperr.CodeInternal})
		return
	}
	body := map[string]any{"error": e.Message, "code": e.Code}
	if len(e.Details) > 0 {
		body["details"] = e.Details
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("handler: encode response")
	}
}

// queryTime parses an optional RFC 3339 or YYYY-MM-DD query parameter.
func queryTime(r *http.Request, key string) (time.Time, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02", raw, time.Local)
	if err != nil {
		return time.Time{}, apperr.Validation("%s must be RFC 3339 or YYYY-MM-DD", key)
	}
	if key == "to" {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
