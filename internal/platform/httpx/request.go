package httpx

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/audithub/internal/shared"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Actor returns the tenant and user attached by the tenant middleware.
func Actor(r *http.Request) shared.Actor {
	actor, _ := shared.ActorFromContext(r.Context())
	return actor
}

// IDParam parses a positive int64 route parameter.
func IDParam(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, shared.E(shared.KindValidation, "httpx.IDParam", "invalid %s %q", name, raw)
	}
	return id, nil
}

// IntQuery reads an optional integer query parameter.
func IntQuery(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, shared.E(shared.KindValidation, "httpx.IntQuery", "invalid %s %q", name, raw)
	}
	return value, nil
}

// DecodeAndValidate decodes a JSON body into target and runs its validate tags.
func DecodeAndValidate(r *http.Request, target any) error {
	const op = "httpx.DecodeAndValidate"
	if err := DecodeJSON(r, target); err != nil {
		return shared.E(shared.KindValidation, op, "malformed body: %v", err)
	}
	if err := validate.Struct(target); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s:%s", fe.Field(), fe.Tag()))
			}
			return shared.E(shared.KindValidation, op, "invalid fields %s", strings.Join(fields, ", "))
		}
		return shared.Wrap(shared.KindValidation, op, err)
	}
	return nil
}
