package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/oralvis/apiserver/internal/auth"
	"github.com/oralvis/apiserver/types"
	"github.com/stretchr/testify/require"
)

var (
	techIdentity    = types.Identity{ID: 1, Role: types.RoleTechnician, Name: "John Smith"}
	dentistIdentity = types.Identity{ID: 2, Role: types.RoleDentist, Name: "Dr. Sarah Johnson"}
)

func newIssuer(t *testing.T) *auth.TokenIssuer {
	t.Helper()
	issuer, err := auth.NewTokenIssuer("test-secret", time.Hour)
	require.NoError(t, err)
	return issuer
}

func bearerFor(t *testing.T, issuer *auth.TokenIssuer, identity types.Identity) string {
	t.Helper()
	token, err := issuer.Issue(identity)
	require.NoError(t, err)
	return "Bearer " + token
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}
