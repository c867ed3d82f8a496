// Copyright 2026 the ldapauthn contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package ldapauthn

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"go.ldapauthn.dev/internal/config/authenticator"
	"go.ldapauthn.dev/internal/here"
)

func validSpec() *authenticator.AuthenticatorSpec {
	return &authenticator.AuthenticatorSpec{
		ServerHosts:      authenticator.HostList{"dc1.example.com"},
		BindUserDN:       "cn=service,dc=example,dc=com",
		BindUserPassword: "some-bind-password",
		UserSearchBase:   "ou=users,dc=example,dc=com",
		UserSearchFilter: "(uid={username})",
	}
}

func TestNew(t *testing.T) {
	t.Run("a valid spec assembles", func(t *testing.T) {
		a, err := New(validSpec())
		require.NoError(t, err)
		require.NotNil(t, a)
	})

	t.Run("a nil spec is rejected", func(t *testing.T) {
		_, err := New(nil)
		require.EqualError(t, err, "spec must not be nil")
	})

	t.Run("a malformed username pattern is rejected", func(t *testing.T) {
		spec := validSpec()
		spec.UsernamePattern = "[a-z"
		_, err := New(spec)
		require.ErrorContains(t, err, "compile usernamePattern")
	})

	t.Run("an unreadable CA bundle is rejected", func(t *testing.T) {
		spec := validSpec()
		spec.TLSCABundlePath = filepath.Join(t.TempDir(), "does-not-exist.pem")
		_, err := New(spec)
		require.ErrorContains(t, err, "read CA bundle")
	})
}

func TestFromConfigFile(t *testing.T) {
	t.Run("a valid config file assembles", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "authenticator.yaml")
		require.NoError(t, os.WriteFile(path, []byte(here.Doc(`
			---
			serverHosts: dc1.example.com
			bindUserDN: cn=service,dc=example,dc=com
			bindUserPassword: some-bind-password
			userSearchBase: ou=users,dc=example,dc=com
			userSearchFilter: (uid={username})
		`)), 0600))

		a, err := FromConfigFile(path)
		require.NoError(t, err)
		require.NotNil(t, a)
	})

	t.Run("an invalid config file is rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "authenticator.yaml")
		require.NoError(t, os.WriteFile(path, []byte("bindUserDN: cn=service,dc=example,dc=com\n"), 0600))

		_, err := FromConfigFile(path)
		require.EqualError(t, err, "validate: serverHosts must contain at least one directory server host")
	})
}
