package httputil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/medflow/medtrack/pkg/actor"
	"github.com/medflow/medtrack/pkg/errors"
	"github.com/medflow/medtrack/pkg/logger"
	"github.com/medflow/medtrack/pkg/permissions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedAuth map[string]*actor.Actor

func (f fixedAuth) Authenticate(token string) (*actor.Actor, error) {
	if a, ok := f[token]; ok {
		return a, nil
	}
	return nil, errors.TokenInvalid()
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body Response
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.NotNil(t, body.Error, rr.Body.String())
	return body.Error.Code
}

var echoActor = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, actor.OrSystem(r.Context()).ID)
})

func TestAuthenticate(t *testing.T) {
	auth := fixedAuth{"good": {ID: "u-1", Role: actor.RoleProvider}}
	h := Authenticate(auth, logger.Nop())(echoActor)

	tests := []struct {
		name   string
		path   string
		header string
		status int
	}{
		{"health is open", "/health", "", http.StatusOK},
		{"metrics is open", "/metrics", "", http.StatusOK},
		{"missing header", "/api/v1/pharmacy/medications", "", http.StatusUnauthorized},
		{"not a bearer", "/api/v1/pharmacy/medications", "Basic abc", http.StatusUnauthorized},
		{"empty bearer", "/api/v1/pharmacy/medications", "Bearer   ", http.StatusUnauthorized},
		{"unknown token", "/api/v1/pharmacy/medications", "Bearer nope", http.StatusUnauthorized},
		{"valid token", "/api/v1/pharmacy/medications", "Bearer good", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			assert.Equal(t, tt.status, rr.Code, rr.Body.String())
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer good")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Contains(t, rr.Body.String(), `"u-1"`)
}

func TestRequirePermission(t *testing.T) {
	h := RequirePermission(permissions.LotsWrite)(echoActor)

	serve := func(a *actor.Actor) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPut, "/lots/1/quantity", nil)
		if a != nil {
			req = req.WithContext(actor.WithActor(req.Context(), a))
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	rr := serve(nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = serve(&actor.Actor{ID: "p", Role: actor.RoleProvider})
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, "FORBIDDEN", errorCode(t, rr))
	assert.Contains(t, rr.Body.String(), "provider")

	assert.Equal(t, http.StatusOK, serve(&actor.Actor{ID: "ph", Role: actor.RolePharmacist}).Code)
	assert.Equal(t, http.StatusOK, serve(&actor.Actor{ID: "a", Role: actor.RoleAdmin}).Code)
}

func TestDecodeStrict(t *testing.T) {
	var target struct {
		Notes *string `json:"notes"`
	}

	req := httptest.NewRequest(http.MethodPatch, "/", strings.NewReader(`{"notes":"x"}`))
	require.NoError(t, DecodeStrict(req, &target))
	assert.Equal(t, "x", *target.Notes)

	req = httptest.NewRequest(http.MethodPatch, "/", strings.NewReader(`{"quantity":3}`))
	err := DecodeStrict(req, &target)
	require.Error(t, err)
	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Contains(t, appErr.Details, "quantity")

	req = httptest.NewRequest(http.MethodPatch, "/", strings.NewReader(``))
	assert.ErrorIs(t, DecodeStrict(req, &target), errors.ErrBadRequest)
}

func TestValidate_UsesJSONNames(t *testing.T) {
	type body struct {
		MedicationID string `json:"medication_id" validate:"required"`
		Quantity     int    `json:"quantity" validate:"gt=0"`
	}

	err := Validate(body{Quantity: 0})
	require.Error(t, err)
	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "this field is required", appErr.Details["medication_id"])
	assert.Equal(t, "must be greater than 0", appErr.Details["quantity"])

	assert.NoError(t, Validate(body{MedicationID: "m", Quantity: 1}))
}

func TestError_UnknownErrorIsInternal(t *testing.T) {
	rr := httptest.NewRecorder()
	Error(rr, assert.AnError)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "INTERNAL_ERROR", errorCode(t, rr))
}

func TestLogger_TagsRequestID(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewWithWriter("pharmacy-service", "production", &buf)
	h := RequestID(Logger(log)(echoActor))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/pharmacy/medications", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, "req-42", rr.Header().Get("X-Request-ID"))
	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "req-42", line["request_id"])
	assert.Equal(t, float64(http.StatusOK), line["status"])
	assert.Equal(t, "HTTP request", line["message"])
}

func TestRecoverer_LogsRequestID(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewWithWriter("pharmacy-service", "production", &buf)
	boom := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") })
	h := RequestID(Recoverer(log)(boom))

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-ID", "req-7")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, buf.String(), `"request_id":"req-7"`)
	assert.Contains(t, buf.String(), `"panic":"boom"`)
}

func TestQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=20&offset=-3&page=x", nil)
	assert.Equal(t, 20, QueryInt(req, "limit", 50))
	assert.Equal(t, 0, QueryInt(req, "offset", 0))
	assert.Equal(t, 1, QueryInt(req, "page", 1))
	assert.Equal(t, 7, QueryInt(req, "missing", 7))
}
