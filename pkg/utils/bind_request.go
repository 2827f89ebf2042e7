package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"reflect"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/labstack/echo/v4"
)

// MaxBodySize caps decoded request bodies (1MB).
const MaxBodySize = 1 << 20

// DecodeJSON strictly decodes the JSON body into T. Non-JSON content types
// are rejected with 415, malformed bodies and unknown fields with 400.
func DecodeJSON[T any](c echo.Context) (T, error) {
	var v T

	req := c.Request()
	mediaType, _, err := mime.ParseMediaType(req.Header.Get(echo.HeaderContentType))
	if err != nil || mediaType != echo.MIMEApplicationJSON {
		return v, httperror.NewHTTPError(http.StatusUnsupportedMediaType, "content type must be application/json")
	}

	decoder := json.NewDecoder(io.LimitReader(req.Body, MaxBodySize))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&v); err != nil {
		return v, httperror.NewHTTPError(http.StatusBadRequest, describeDecodeError(err))
	}
	if decoder.More() {
		return v, httperror.NewHTTPError(http.StatusBadRequest, "request body must contain a single JSON value")
	}

	return v, nil
}

// BindRequest decodes and validates the body.
func BindRequest[T any](c echo.Context) (T, error) {
	v, err := DecodeJSON[T](c)
	if err != nil {
		return v, err
	}

	if v, err := Validate(v); err != nil {
		return v, httperror.WrapError(http.StatusBadRequest, err)
	}

	return v, nil
}

func describeDecodeError(err error) string {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.Is(err, io.EOF):
		return "request body is empty"
	case errors.As(err, &syntaxErr):
		return fmt.Sprintf("malformed JSON at offset %d", syntaxErr.Offset)
	case errors.As(err, &typeErr) && typeErr.Field == "":
		return fmt.Sprintf("request body must be a JSON %s", jsonKind(typeErr.Type))
	case errors.As(err, &typeErr):
		return fmt.Sprintf("field '%s' must be a JSON %s", typeErr.Field, jsonKind(typeErr.Type))
	default:
		return err.Error()
	}
}

// jsonKind names t the way clients see it, never as a Go type.
func jsonKind(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Struct, reflect.Map:
		return "object"
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "boolean"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "integer"
	case reflect.Float32, reflect.Float64:
		return "number"
	default:
		return "value"
	}
}
