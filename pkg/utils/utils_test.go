package utils

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string `json:"Name" validate:"required"`
	Count *int   `json:"Count" validate:"required,min=0,max=23"`
}

func newContext(body, contentType string) echo.Context {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	if contentType != "" {
		req.Header.Set(echo.HeaderContentType, contentType)
	}
	return echo.New().NewContext(req, httptest.NewRecorder())
}

func statusOf(t *testing.T, err error) int {
	t.Helper()
	require.Error(t, err)
	require.True(t, httperror.IsHTTPError(err), "expected HTTP error, got: %v", err)
	return httperror.GetStatusCode(err)
}

func TestBindRequest(t *testing.T) {
	v, err := BindRequest[sample](newContext(`{"Name":"a","Count":0}`, "application/json; charset=utf-8"))
	require.NoError(t, err)
	assert.Equal(t, "a", v.Name)
	assert.Equal(t, 0, *v.Count)
}

func TestBindRequest_Errors(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		contentType string
		status      int
	}{
		{"not json content type", `{"Name":"a","Count":1}`, "text/plain", http.StatusUnsupportedMediaType},
		{"missing content type", `{"Name":"a","Count":1}`, "", http.StatusUnsupportedMediaType},
		{"malformed", `{"Name":`, "application/json", http.StatusBadRequest},
		{"empty", ``, "application/json", http.StatusBadRequest},
		{"unknown field", `{"Name":"a","Count":1,"Extra":true}`, "application/json", http.StatusBadRequest},
		{"wrong type", `{"Name":"a","Count":"1"}`, "application/json", http.StatusBadRequest},
		{"missing required", `{"Name":"a"}`, "application/json", http.StatusBadRequest},
		{"out of range", `{"Name":"a","Count":24}`, "application/json", http.StatusBadRequest},
		{"trailing value", `{"Name":"a","Count":1} {}`, "application/json", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BindRequest[sample](newContext(tt.body, tt.contentType))
			assert.Equal(t, tt.status, statusOf(t, err))
		})
	}
}

func TestValidate_UsesJSONNames(t *testing.T) {
	_, err := Validate(sample{Name: ""})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "field 'Name' failed rule 'required'")
	assert.Contains(t, err.Error(), "field 'Count' failed rule 'required'")
}

func TestValidateValue(t *testing.T) {
	assert.NoError(t, ValidateValue(5, "min=1,max=100"))
	assert.Error(t, ValidateValue(101, "min=1,max=100"))
}

func TestDecodeJSON_TypeErrorsUseJSONNames(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"array for object", `[1]`, "request body must be a JSON object"},
		{"string for integer", `{"Name":"a","Count":"1"}`, "field 'Count' must be a JSON integer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeJSON[sample](newContext(tt.body, "application/json"))
			assert.Equal(t, http.StatusBadRequest, statusOf(t, err))
			assert.Contains(t, err.Error(), tt.want)
			assert.NotContains(t, err.Error(), "utils.sample")
		})
	}

	_, err := DecodeJSON[[]sample](newContext(`{"Name":"a"}`, "application/json"))
	assert.Contains(t, err.Error(), "request body must be a JSON array")
}
