package handlers

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/fluentlens/fluentlens/internal/errors"
)

// maxBodyBytes caps request bodies accepted by JSON endpoints.
const maxBodyBytes = 1 << 20

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func requestValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(field reflect.StructField) string {
			name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// decodeAndValidate reads a JSON body into dst and runs struct validation.
// Unknown fields are rejected. Failures are written to w and reported as false.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	return decodeBody(w, r, dst, true)
}

// decodeLenient is decodeAndValidate for bodies that ignore extra fields.
func decodeLenient(w http.ResponseWriter, r *http.Request, dst any) bool {
	return decodeBody(w, r, dst, false)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any, strict bool) bool {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if strict {
		decoder.DisallowUnknownFields()
	}
	if err := decoder.Decode(dst); err != nil {
		respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "Request body must be a valid JSON report"))
		return false
	}

	if err := requestValidator().Struct(dst); err != nil {
		respondWithError(w, r, validationEnvelope(r, err))
		return false
	}
	return true
}

func validationEnvelope(r *http.Request, err error) error {
	envelope := apperrors.WrapValidationError(r.Context(), err, "Request validation failed")

	var fieldErrs validator.ValidationErrors
	if !stderrors.As(err, &fieldErrs) {
		return envelope
	}

	violations := make([]map[string]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		violations = append(violations, map[string]string{
			"field": trimNamespace(fe.Namespace()),
			"rule":  ruleOf(fe),
		})
	}
	return envelope.WithDetails(map[string]interface{}{"violations": violations})
}

// trimNamespace drops the struct name validator prefixes to every path.
func trimNamespace(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func ruleOf(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fmt.Sprintf("%s=%s", fe.Tag(), fe.Param())
}
