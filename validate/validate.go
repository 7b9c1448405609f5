// Package validate talks to the remote validation service and caches its
// verdicts per snapshot identity.
//
// The remote endpoint is consumed as an opaque contract: POST a step ID plus
// the flattened form data, get back a Result. Business rules live entirely on
// the server side. Transport failures are recovered locally into a synthetic
// Result (see [NetworkFailure]) and are never cached, so a later retry for
// the same snapshot issues a fresh call.
package validate

import "errors"

// FieldError is one server-reported problem with a field.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Result is the validation verdict for one snapshot identity.
type Result struct {
	OK              bool         `json:"ok"`
	Errors          []FieldError `json:"errors,omitempty"`
	MissingRequired []string     `json:"missing_required,omitempty"`
	Suggestions     []string     `json:"suggestions,omitempty"`
}

// ErrRemoteStatus is returned when the validation endpoint answers non-2xx.
var ErrRemoteStatus = errors.New("validate: remote returned non-2xx status")

// networkErrorMessage is deliberately generic: the real cause is logged, not
// shown to the user.
const networkErrorMessage = "Não foi possível validar agora. Suas respostas foram mantidas; tente novamente em instantes."

// NetworkFailure builds the synthetic Result used when the remote call fails.
// Callers must not cache it.
func NetworkFailure() Result {
	return Result{
		OK: false,
		Errors: []FieldError{{
			Field:   "system",
			Code:    "network_error",
			Message: networkErrorMessage,
		}},
	}
}
