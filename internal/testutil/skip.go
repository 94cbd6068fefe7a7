// Package testutil holds helpers shared by package tests.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
)

// SkipIfNoNetwork skips the test if SUPPORTDESK_TEST_SKIP_NETWORK is set.
// Use this for tests that listen on loopback, which sandboxed runners may
// not allow.
func SkipIfNoNetwork(t *testing.T) {
	t.Helper()
	if os.Getenv("SUPPORTDESK_TEST_SKIP_NETWORK") != "" {
		t.Skip("skipping network test: SUPPORTDESK_TEST_SKIP_NETWORK is set")
	}
}

// NewServer starts an httptest server for handler and closes it when the
// test ends. It skips the test when networking is disabled.
func NewServer(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	SkipIfNoNetwork(t)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}
