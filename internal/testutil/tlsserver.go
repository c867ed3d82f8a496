// Copyright 2026 the ldapauthn contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package testutil contains helpers shared by tests.
package testutil

import (
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
)

// TLSTestServer starts a TLS server which answers with the given handler, and returns its
// CA bundle in PEM format along with its host:port address. The server is closed when the
// test ends.
func TLSTestServer(t *testing.T, handler http.HandlerFunc) (caBundlePEM string, address string) {
	t.Helper()

	server := httptest.NewTLSServer(handler)
	t.Cleanup(server.Close)

	caBundle := string(pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: server.Certificate().Raw,
	}))
	return caBundle, server.Listener.Addr().String()
}
