package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/Rrens/zyra/internal/api/response"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// decodeAndValidate reads a JSON body into dst and validates it. When
// optional is set an empty body is accepted. It writes the 400 response
// itself and reports whether the handler may continue.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any, optional bool) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if !(optional && errors.Is(err, io.EOF)) {
			response.BadRequest(w, "invalid request body")
			return false
		}
	}

	return validateStruct(w, dst)
}

func validateStruct(w http.ResponseWriter, v any) bool {
	err := validate.Struct(v)
	if err == nil {
		return true
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		response.BadRequest(w, err.Error())
		return false
	}

	fields := make(map[string]string)
	for _, e := range validationErrors {
		field := e.Field()
		switch e.Tag() {
		case "required":
			fields[field] = "field is required"
		case "max":
			fields[field] = "must be at most " + e.Param() + " characters"
		case "len":
			fields[field] = "must be exactly " + e.Param() + " characters"
		case "numeric":
			fields[field] = "must be numeric"
		case "lte":
			fields[field] = "must be at most " + e.Param()
		default:
			fields[field] = "validation failed on " + e.Tag()
		}
	}
	response.BadRequest(w, fields)
	return false
}
