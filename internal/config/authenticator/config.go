// Copyright 2026 the ldapauthn contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package authenticator contains functionality to load/store the authenticator
// configuration from/to a file.
package authenticator

import (
	"os"
	"regexp"
	"runtime"
	"time"

	"github.com/pkg/errors"
	"sigs.k8s.io/yaml"

	"go.ldapauthn.dev/internal/constable"
	"go.ldapauthn.dev/internal/plog"
	"go.ldapauthn.dev/internal/serverpool"
)

const (
	defaultMembershipAttribute = "memberOf"

	errNoServerHosts    = constable.Error("serverHosts must contain at least one directory server host")
	errNoBindDN         = constable.Error("bindUserDN must not be empty")
	errNoBindPassword   = constable.Error("bindUserPassword must not be empty")
	errNoUserSearchBase = constable.Error("userSearchBase must not be empty")
	errNoUserFilter     = constable.Error("userSearchFilter must not be empty")
	errNegativeTimeout  = constable.Error("timeout seconds must not be negative")
)

// FromPath loads an AuthenticatorSpec from a YAML file, applies defaults, validates it,
// and applies the configured log level to the process globally.
func FromPath(path string) (*AuthenticatorSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read file")
	}

	var spec AuthenticatorSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, errors.Wrap(err, "decode yaml")
	}

	maybeSetDefaults(&spec)

	if err := validate(&spec); err != nil {
		return nil, errors.Wrap(err, "validate")
	}

	if err := plog.ValidateAndSetLogLevelGlobally(spec.LogLevel); err != nil {
		return nil, errors.Wrap(err, "validate logLevel")
	}

	return &spec, nil
}

func maybeSetDefaults(spec *AuthenticatorSpec) {
	if spec.UserMembershipAttribute == "" {
		spec.UserMembershipAttribute = defaultMembershipAttribute
	}
	if spec.FilterByGroup == nil {
		t := true
		spec.FilterByGroup = &t
	}
	if !spec.ServerPoolActive.IsSet {
		spec.ServerPoolActive = BoolOrInt{IsSet: true, Bool: true}
	}
	if spec.CreateUserHomeDirCommand == nil && runtime.GOOS == "linux" {
		spec.CreateUserHomeDirCommand = []string{"mkhomedir_helper"}
	}
}

func validate(spec *AuthenticatorSpec) error {
	if len(spec.ServerHosts) == 0 {
		return errNoServerHosts
	}
	if spec.BindUserDN == "" {
		return errNoBindDN
	}
	if spec.BindUserPassword == "" {
		return errNoBindPassword
	}
	if spec.UserSearchBase == "" {
		return errNoUserSearchBase
	}
	if spec.UserSearchFilter == "" {
		return errNoUserFilter
	}
	if spec.ServerConnectTimeoutSeconds < 0 || spec.ServerReceiveTimeoutSeconds < 0 {
		return errNegativeTimeout
	}
	if _, err := serverpool.ParseStrategy(spec.ServerPoolStrategy); err != nil {
		return err
	}
	if _, err := spec.CompiledUsernamePattern(); err != nil {
		return errors.Wrap(err, "compile usernamePattern")
	}
	return nil
}

// ConnectTimeout is the per-server dial bound. Zero means the dialer's default.
func (s *AuthenticatorSpec) ConnectTimeout() time.Duration {
	return time.Duration(s.ServerConnectTimeoutSeconds) * time.Second
}

// ReceiveTimeout bounds each request/response exchange on an open connection.
func (s *AuthenticatorSpec) ReceiveTimeout() time.Duration {
	return time.Duration(s.ServerReceiveTimeoutSeconds) * time.Second
}

func (s *AuthenticatorSpec) PoolStrategy() serverpool.Strategy {
	strategy, _ := serverpool.ParseStrategy(s.ServerPoolStrategy)
	return strategy
}

// PoolPolicy maps the two union-typed availability settings onto the pool policy: a
// boolean toggles the behavior, while an integer toggles it and carries its magnitude
// (maximum cycles for the active check, reinsertion seconds for exhaustion).
func (s *AuthenticatorSpec) PoolPolicy() serverpool.Policy {
	var policy serverpool.Policy
	if s.ServerPoolActive.IsSet {
		policy.CheckActive = s.ServerPoolActive.Bool
		if s.ServerPoolActive.IsInt {
			policy.MaxCycles = s.ServerPoolActive.Int
		}
	}
	if s.ServerPoolExhaust.IsSet {
		policy.Exhaust = s.ServerPoolExhaust.Bool
		if s.ServerPoolExhaust.IsInt {
			policy.ReinsertAfter = time.Duration(s.ServerPoolExhaust.Int) * time.Second
		}
	}
	return policy
}

// CompiledUsernamePattern compiles the configured username pattern anchored to the whole
// username, or nil when no pattern is configured.
func (s *AuthenticatorSpec) CompiledUsernamePattern() (*regexp.Regexp, error) {
	if s.UsernamePattern == "" {
		return nil, nil
	}
	return regexp.Compile("^(?:" + s.UsernamePattern + ")$")
}

// CABundle reads the configured CA bundle file, or nil when none is configured.
func (s *AuthenticatorSpec) CABundle() ([]byte, error) {
	if s.TLSCABundlePath == "" {
		return nil, nil
	}
	bundle, err := os.ReadFile(s.TLSCABundlePath)
	if err != nil {
		return nil, errors.Wrap(err, "read CA bundle")
	}
	return bundle, nil
}
