package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
)

const (
	msgUnauthenticated   = "Unauthenticated."
	msgInvalidData       = "The given data was invalid."
	msgOrderFailed       = "Order creation failed"
	msgOrderNotFound     = "Order not found"
	msgProductNotFound   = "Product not found"
	msgInternal          = "Something went wrong"
	msgIdempotencyInUse  = "A request with this Idempotency-Key is still being processed"
	msgInsufficientStock = "Insufficient stock for %s"
)

type messageBody struct {
	Message string `json:"message"`
}

type validationBody struct {
	Message string              `json:"message"`
	Errors  map[string][]string `json:"errors"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, messageBody{Message: msg})
}

func writeValidation(w http.ResponseWriter, fields map[string][]string) {
	writeJSON(w, http.StatusUnprocessableEntity, validationBody{Message: msgInvalidData, Errors: fields})
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// pakai nama json supaya field error sama dengan body request
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// FormatValidationError turns validator errors into "items.0.quantity" style keys.
func FormatValidationError(err error) map[string][]string {
	out := map[string][]string{}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		out["body"] = []string{err.Error()}
		return out
	}
	for _, fe := range verrs {
		field := fieldPath(fe.Namespace())
		var msg string
		switch fe.Tag() {
		case "required":
			msg = fmt.Sprintf("The %s field is required.", field)
		case "min":
			msg = fmt.Sprintf("The %s field must have at least %s item(s).", field, fe.Param())
		case "gt":
			msg = fmt.Sprintf("The %s field must be greater than %s.", field, fe.Param())
		case "gte":
			msg = fmt.Sprintf("The %s field must be at least %s.", field, fe.Param())
		default:
			msg = fmt.Sprintf("The %s field is invalid.", field)
		}
		out[field] = append(out[field], msg)
	}
	return out
}

// fieldPath maps "CreateOrderRequest.items[1].quantity" to "items.1.quantity".
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		ns = rest
	}
	ns = strings.ReplaceAll(ns, "[", ".")
	return strings.ReplaceAll(ns, "]", "")
}

// domainValidationFields renders validation errors coming from the orders package.
func domainValidationFields(err error) map[string][]string {
	out := map[string][]string{}
	var nf *orders.ProductNotFoundError
	if errors.As(err, &nf) {
		field := nf.Field
		if field == "" {
			field = "items"
		}
		out[field] = append(out[field], fmt.Sprintf("The selected %s is invalid.", field))
		return out
	}
	var verrs orders.ValidationErrors
	if errors.As(err, &verrs) {
		for _, e := range verrs {
			out[e.Field] = append(out[e.Field], fmt.Sprintf("The %s field %s.", e.Field, e.Reason))
		}
		return out
	}
	var ve *orders.ValidationError
	if errors.As(err, &ve) {
		out[ve.Field] = append(out[ve.Field], fmt.Sprintf("The %s field %s.", ve.Field, ve.Reason))
		return out
	}
	out["items"] = []string{err.Error()}
	return out
}
