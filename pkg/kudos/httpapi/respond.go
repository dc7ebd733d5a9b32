package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/language"

	"github.com/kudos-app/kudos/pkg/kudos/apperr"
	"github.com/kudos-app/kudos/pkg/kudos/i18n"
	"github.com/kudos-app/kudos/pkg/kudos/store"
)

type ctxKey int

const (
	ctxLang ctxKey = iota
	ctxActor
)

// errorEnvelope is the uniform error body: localized detail plus a
// stable, never-localized machine code.
type errorEnvelope struct {
	Detail string `json:"detail"`
	Code   string `json:"code"`
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encode failed", "error", err, "path", r.URL.Path)
	}
}

// writeError maps a domain error onto status code and envelope. Unknown
// errors become opaque 500s; the cause stays in the log.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	e, ok := apperr.As(err)
	if !ok {
		e = apperr.Internal(err)
	}

	status := statusFor(e)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "code", e.Code, "error", err)
	}

	tag := langFrom(r.Context())
	s.respond(w, r, status, errorEnvelope{
		Detail: i18n.T(tag, e.Detail),
		Code:   e.Code,
	})
}

func statusFor(e *apperr.Error) int {
	switch e.Kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindBusinessRule:
		// Structural rules (cycles) are semantic validation per the API
		// contract; the rest are plain 400s.
		if e.Code == "business_rule.dependency_cycle" || e.Code == "business_rule.group_cycle" {
			return http.StatusUnprocessableEntity
		}
		return http.StatusBadRequest
	case apperr.KindAuth:
		return http.StatusUnauthorized
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func langFrom(ctx context.Context) language.Tag {
	if tag, ok := ctx.Value(ctxLang).(language.Tag); ok {
		return tag
	}
	return language.Ukrainian
}

// decode parses the JSON body into v and runs struct validation.
func (s *Server) decode(r *http.Request, v any) error {
	if err := s.decodeJSON(r, v); err != nil {
		return err
	}
	return s.validateStruct(v)
}

func (s *Server) decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperr.Validation("error.validation").Wrap(err)
	}
	return nil
}

func (s *Server) validateStruct(v any) error {
	if err := s.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			field := strings.ToLower(verrs[0].Field())
			return apperr.Validation("error.validation").WithMeta("field", field)
		}
		return apperr.Validation("error.validation").Wrap(err)
	}
	return nil
}

// pageFrom reads the page/size query params; out-of-range values are
// normalized downstream.
func pageFrom(r *http.Request) store.Page {
	var p store.Page
	if v := r.URL.Query().Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			p.Number = n
		}
	}
	if v := r.URL.Query().Get("size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			p.Size = n
		}
	}
	return p
}
