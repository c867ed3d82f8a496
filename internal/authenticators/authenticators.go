// Copyright 2026 the ldapauthn contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package authenticators contains the authenticator interfaces consumed by host
// authentication frameworks.
package authenticators

import "context"

// UserInfo describes an authenticated user.
type UserInfo struct {
	// Name is the canonical (normalized) username.
	Name string

	// Groups are the directory group identifiers the user was authorized against.
	Groups []string
}

// UserAuthenticator authenticates a username/password pair.
//
// The return values should be as follows.
//  1. For a successful authentication: a response whose Name is the canonical username, and true.
//  2. For any rejection, whatever the cause: nil and false.
//
// There is deliberately no error return and no rejection reason in the response: callers must
// never learn why an authentication attempt failed. Diagnostics are written only to the
// internal log sink.
type UserAuthenticator interface {
	AuthenticateUser(ctx context.Context, username, password string) (*Response, bool)
}

// UserProvisioner prepares local resources for a user before the host framework adds them.
type UserProvisioner interface {
	AddUser(username string) error
}

type Response struct {
	User UserInfo
}
