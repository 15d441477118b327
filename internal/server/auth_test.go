package server

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang.org/x/crypto/bcrypt"
)

func authHash(t *testing.T, key string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func getWithAuth(t *testing.T, url, key string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestRequireKey_NoHashPassesThrough(t *testing.T) {
	ts, _ := setupTestServer(t, "")

	resp, err := http.Get(ts.URL + "/api/users?excluding=nobody")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRequireKey_ValidKey(t *testing.T) {
	ts, _ := setupTestServer(t, authHash(t, "test-api-key"))

	resp := getWithAuth(t, ts.URL+"/api/users?excluding=nobody", "test-api-key")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRequireKey_WrongKey(t *testing.T) {
	ts, _ := setupTestServer(t, authHash(t, "test-api-key"))

	resp := getWithAuth(t, ts.URL+"/api/users?excluding=nobody", "wrong-key")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRequireKey_MissingHeader(t *testing.T) {
	ts, _ := setupTestServer(t, authHash(t, "test-api-key"))

	resp := getWithAuth(t, ts.URL+"/api/users?excluding=nobody", "")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRequireKey_MalformedHeader(t *testing.T) {
	ts, _ := setupTestServer(t, authHash(t, "test-api-key"))

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/users?excluding=nobody", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestBearerToken(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "http://example.com", nil)

	_, ok := bearerToken(req)
	assert.False(t, ok)

	req.Header.Set("Authorization", "Bearer abc123")
	token, ok := bearerToken(req)
	assert.True(t, ok)
	assert.Equal(t, "abc123", token)
}
