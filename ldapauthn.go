// Copyright 2026 the ldapauthn contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package ldapauthn authenticates username/password pairs against a pool of LDAP
// directory servers, authorizes the user's group memberships, and optionally provisions
// a local home directory for the authenticated user.
package ldapauthn

import (
	"context"

	"github.com/pkg/errors"

	"go.ldapauthn.dev/internal/authenticators"
	"go.ldapauthn.dev/internal/config/authenticator"
	"go.ldapauthn.dev/internal/homedir"
	"go.ldapauthn.dev/internal/serverpool"
	"go.ldapauthn.dev/internal/upstreamldap"
)

// Authenticator bundles the directory-backed authentication decision engine with the
// optional local home directory provisioner.
type Authenticator struct {
	provider    *upstreamldap.Provider
	provisioner *homedir.Provisioner
}

var (
	_ authenticators.UserAuthenticator = &Authenticator{}
	_ authenticators.UserProvisioner   = &Authenticator{}
)

// New assembles an Authenticator from a spec. The spec is expected to have been validated
// by its loader; New only rejects what it cannot assemble.
func New(spec *authenticator.AuthenticatorSpec) (*Authenticator, error) {
	if spec == nil {
		return nil, errors.New("spec must not be nil")
	}

	pattern, err := spec.CompiledUsernamePattern()
	if err != nil {
		return nil, errors.Wrap(err, "compile usernamePattern")
	}

	caBundle, err := spec.CABundle()
	if err != nil {
		return nil, err
	}

	pool := serverpool.Build(spec.ServerHosts, serverpool.Options{
		Port:           spec.ServerPort,
		UseTLS:         spec.ServerUseSSL,
		ConnectTimeout: spec.ConnectTimeout(),
		Strategy:       spec.PoolStrategy(),
		Policy:         spec.PoolPolicy(),
	})

	provider := upstreamldap.New(upstreamldap.ProviderConfig{
		Name:         spec.Name,
		Pool:         pool,
		CABundle:     caBundle,
		BindDN:       spec.BindUserDN,
		BindPassword: spec.BindUserPassword,
		UserSearch: upstreamldap.UserSearchConfig{
			Base:                spec.UserSearchBase,
			Filter:              spec.UserSearchFilter,
			MembershipAttribute: spec.UserMembershipAttribute,
		},
		GroupSearch: upstreamldap.GroupSearchConfig{
			FilterGroups:      spec.FilterByGroup == nil || *spec.FilterByGroup,
			Base:              spec.GroupSearchBase,
			Filter:            spec.GroupSearchFilter,
			AllowedGroups:     spec.AllowedGroups,
			AllowNestedGroups: spec.AllowNestedGroups,
		},
		UsernamePattern: pattern,
		ReceiveTimeout:  spec.ReceiveTimeout(),
	})

	return &Authenticator{
		provider:    provider,
		provisioner: homedir.New(spec.CreateUserHomeDir, spec.CreateUserHomeDirCommand),
	}, nil
}

// FromConfigFile loads, defaults, and validates a spec from a YAML file and assembles an
// Authenticator from it. The configured log level is applied to the process globally.
func FromConfigFile(path string) (*Authenticator, error) {
	spec, err := authenticator.FromPath(path)
	if err != nil {
		return nil, err
	}
	return New(spec)
}

// AuthenticateUser authenticates a username/password pair. Implements
// authenticators.UserAuthenticator.
func (a *Authenticator) AuthenticateUser(ctx context.Context, username, password string) (*authenticators.Response, bool) {
	return a.provider.AuthenticateUser(ctx, username, password)
}

// AddUser ensures the named user has a local home directory. Implements
// authenticators.UserProvisioner.
func (a *Authenticator) AddUser(username string) error {
	return a.provisioner.AddUser(username)
}
