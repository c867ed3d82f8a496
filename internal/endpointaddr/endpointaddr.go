// Copyright 2026 the ldapauthn contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package endpointaddr implements parsing and validation of the directory server host
// specifications accepted by the authenticator configuration.
package endpointaddr

import (
	"fmt"
	"net"
	"regexp"
	"strconv"
)

const (
	// SchemePlain is the URL scheme for a cleartext directory connection which will be
	// upgraded via StartTLS before any bind.
	SchemePlain = "ldap"
	// SchemeTLS is the URL scheme for a directory connection encrypted from the first byte.
	SchemeTLS = "ldaps"

	// DefaultPlainPort is the well-known directory port for cleartext connections.
	DefaultPlainPort uint16 = 389
	// DefaultTLSPort is the well-known directory port for TLS connections.
	DefaultTLSPort uint16 = 636
)

// A hostname label is 1-63 alphanumeric or hyphen characters with no leading or trailing hyphen.
const hostnameLabel = `[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?`

// An octet of a dotted-quad IPv4 address, 0-255 with no leading-zero padding requirements.
const ipv4Octet = `([0-9]|[1-9][0-9]|1[0-9]{2}|2[0-4][0-9]|25[0-5])`

// A host specification must take exactly one of three shapes: a dotted-quad IPv4 address,
// a multi-label DNS hostname, or a full scheme://hostname:port URL where the port is exactly
// three digits. Inputs are expected to be lowercased by the caller before validation.
var (
	ipv4Pattern     = regexp.MustCompile(`^(` + ipv4Octet + `\.){3}` + ipv4Octet + `$`)
	hostnamePattern = regexp.MustCompile(`^(` + hostnameLabel + `\.)+` + hostnameLabel + `$`)
	urlPattern      = regexp.MustCompile(`^(ldaps?)://((` + hostnameLabel + `\.)+` + hostnameLabel + `):([0-9]{3})$`)
)

// Validate reports whether host matches one of the three accepted host spec shapes.
// It is a pure function with no I/O: no DNS resolution is ever attempted.
func Validate(host string) bool {
	switch {
	case ipv4Pattern.MatchString(host):
		return true
	case hostnamePattern.MatchString(host):
		return true
	case urlPattern.MatchString(host):
		return true
	default:
		return false
	}
}

// HostPort is a host spec decomposed into the parts needed to open a connection.
type HostPort struct {
	// Host is the validated hostname or IPv4 address part of the input.
	Host string

	// Port is the validated port number, which may be a default.
	Port uint16

	// UseTLS records whether the connection should be encrypted from the first byte
	// (as opposed to upgraded via StartTLS after connecting).
	UseTLS bool
}

// Endpoint is the "host:port" string for this HostPort, suitable for net.Dial.
func (h HostPort) Endpoint() string {
	return net.JoinHostPort(h.Host, strconv.Itoa(int(h.Port)))
}

// Parse validates a host spec and decomposes it into a HostPort. For the URL shape, the
// scheme decides TLS usage and the URL's own port wins; the bare hostname and IPv4 shapes
// take the provided defaults. A defaultPort of 0 selects the well-known directory port for
// the defaultTLS mode.
func Parse(spec string, defaultPort uint16, defaultTLS bool) (HostPort, error) {
	if defaultPort == 0 {
		if defaultTLS {
			defaultPort = DefaultTLSPort
		} else {
			defaultPort = DefaultPlainPort
		}
	}

	if m := urlPattern.FindStringSubmatch(spec); m != nil {
		port, err := strconv.ParseUint(m[len(m)-1], 10, 16)
		if err != nil {
			return HostPort{}, fmt.Errorf("invalid port in host spec %q: %w", spec, err)
		}
		return HostPort{Host: m[2], Port: uint16(port), UseTLS: m[1] == SchemeTLS}, nil
	}

	if ipv4Pattern.MatchString(spec) || hostnamePattern.MatchString(spec) {
		return HostPort{Host: spec, Port: defaultPort, UseTLS: defaultTLS}, nil
	}

	return HostPort{}, fmt.Errorf("host %q is not a valid IPv4 address, hostname, or directory URL", spec)
}
