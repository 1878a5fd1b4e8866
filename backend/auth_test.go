// Copyright 2025 The InspiraStock Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/gonzagiaco/inspirastock-bf21a350-sub001/internal/auth"
)

func TestTokenRoundTrip(t *testing.T) {
	j := NewJWTAuth("test-secret")

	token, err := j.GenerateToken("user-1", "device-a", time.Hour)
	require.NoError(t, err)

	claims, err := j.ValidateToken(token)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.Subject)
	require.Equal(t, "device-a", claims.DeviceID)
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	j := NewJWTAuth("test-secret")

	token, err := j.GenerateToken("user-1", "device-a", -time.Minute)
	require.NoError(t, err)

	_, err = j.ValidateToken(token)
	require.Error(t, err)
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	token, err := NewJWTAuth("secret-a").GenerateToken("user-1", "device-a", time.Hour)
	require.NoError(t, err)

	_, err = NewJWTAuth("secret-b").ValidateToken(token)
	require.Error(t, err)
}

func TestValidateTokenRequiresSubjectAndDevice(t *testing.T) {
	secret := []byte("test-secret")
	expiry := jwt.NewNumericDate(time.Now().Add(time.Hour))

	noDevice, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1", ExpiresAt: expiry},
	}).SignedString(secret)
	require.NoError(t, err)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		DeviceID:         "device-a",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: expiry},
	}).SignedString(secret)
	require.NoError(t, err)

	j := NewJWTAuth("test-secret")
	_, err = j.ValidateToken(noDevice)
	require.ErrorContains(t, err, "device")
	_, err = j.ValidateToken(noSubject)
	require.ErrorContains(t, err, "subject")
}

func TestMiddlewarePopulatesIdentity(t *testing.T) {
	j := NewJWTAuth("test-secret")
	token, err := j.GenerateToken("user-7", "tablet", time.Hour)
	require.NoError(t, err)

	var gotUser, gotDevice string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, _ = auth.GetUserID(r.Context())
		gotDevice, _ = auth.GetDeviceID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/tables/products", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	j.Middleware(next).ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "user-7", gotUser)
	require.Equal(t, "tablet", gotDevice)
}

func TestMiddlewareRejectsBadTokens(t *testing.T) {
	j := NewJWTAuth("test-secret")
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("next handler must not run")
	})

	cases := map[string]string{
		"missing header": "",
		"wrong scheme":   "Basic dXNlcjpwdw==",
		"empty bearer":   "Bearer ",
		"garbage token":  "Bearer not-a-token",
	}
	for name, header := range cases {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/tables/products", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		j.Middleware(next).ServeHTTP(rec, req)

		require.Equal(t, http.StatusUnauthorized, rec.Code, name)
		require.Contains(t, rec.Body.String(), `"success":false`, name)
	}
}
