package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/repairdesk/repairdesk/internal/shared"
)

const maxBodyBytes = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// DecodeJSON decodes the request body into target and runs struct validation.
func DecodeJSON(r *http.Request, target any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return shared.Validationf("request body required")
		}
		return shared.Validationf("malformed json: %v", err)
	}
	return Validate(target)
}

// Validate runs the validator tags on target and converts failures to FieldErrors.
func Validate(target any) error {
	if err := validate.Struct(target); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return shared.Validationf("%v", err)
		}
		fields := shared.FieldErrors{}
		for _, fe := range verrs {
			fields.Add(fe.Field(), describe(fe))
		}
		return fields
	}
	return nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt", "gte", "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of %s", fe.Param())
	case "len":
		return fmt.Sprintf("must have length %s", fe.Param())
	default:
		return fmt.Sprintf("failed %s", fe.Tag())
	}
}

// PathInt64 parses a numeric chi URL parameter.
func PathInt64(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, shared.Validationf("invalid %s %q", name, raw)
	}
	return id, nil
}

// ActorFrom returns the actor resolved by the edge middleware.
func ActorFrom(r *http.Request) shared.Actor {
	if actor, ok := shared.ActorFromContext(r.Context()); ok {
		return actor
	}
	return shared.Actor{Name: "anonymous"}
}
