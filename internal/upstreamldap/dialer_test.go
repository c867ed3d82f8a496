// Copyright 2026 the ldapauthn contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package upstreamldap

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go.ldapauthn.dev/internal/endpointaddr"
	"go.ldapauthn.dev/internal/serverpool"
	"go.ldapauthn.dev/internal/testutil"
)

func serverSpecFor(t *testing.T, address string, useTLS bool) serverpool.ServerSpec {
	t.Helper()
	host, portStr, err := net.SplitHostPort(address)
	require.NoError(t, err)
	port, err := strconv.ParseUint(portStr, 10, 16)
	require.NoError(t, err)
	return serverpool.ServerSpec{
		HostPort:       endpointaddr.HostPort{Host: host, Port: uint16(port), UseTLS: useTLS},
		ConnectTimeout: 2 * time.Second,
	}
}

func TestRealTLSDialing(t *testing.T) {
	caBundle, address := testutil.TLSTestServer(t, func(w http.ResponseWriter, r *http.Request) {})

	t.Run("the TLS handshake succeeds against a trusted server", func(t *testing.T) {
		p := New(testProviderConfig(func(c *ProviderConfig) { c.CABundle = []byte(caBundle) }))
		conn, err := p.dial(context.Background(), serverSpecFor(t, address, true))
		require.NoError(t, err)
		require.NotNil(t, conn)
		_ = conn.Close()
	})

	t.Run("a server signed by an untrusted CA is rejected", func(t *testing.T) {
		p := New(testProviderConfig(nil)) // no CA bundle means the system roots
		_, err := p.dial(context.Background(), serverSpecFor(t, address, true))
		require.ErrorContains(t, err, "certificate signed by unknown authority")
	})

	t.Run("a malformed CA bundle is rejected before dialing", func(t *testing.T) {
		p := New(testProviderConfig(func(c *ProviderConfig) { c.CABundle = []byte("not a pem") }))
		_, err := p.dial(context.Background(), serverSpecFor(t, address, true))
		require.ErrorContains(t, err, "could not parse CA bundle")
	})

	t.Run("an unreachable server is rejected", func(t *testing.T) {
		listener, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		closedAddress := listener.Addr().String()
		require.NoError(t, listener.Close())

		p := New(testProviderConfig(func(c *ProviderConfig) { c.CABundle = []byte(caBundle) }))
		_, err = p.dial(context.Background(), serverSpecFor(t, closedAddress, true))
		require.ErrorContains(t, err, "connection refused")
	})

	t.Run("a cancelled context aborts the dial", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		p := New(testProviderConfig(func(c *ProviderConfig) { c.CABundle = []byte(caBundle) }))
		_, err := p.dial(ctx, serverSpecFor(t, address, true))
		require.ErrorContains(t, err, "operation was canceled")
	})
}
