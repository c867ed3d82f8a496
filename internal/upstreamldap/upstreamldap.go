// Copyright 2026 the ldapauthn contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package upstreamldap implements the authentication decision engine: it validates the
// supplied credentials, connects to the directory server pool with the configured service
// identity, locates the one directory entry for the user, checks group membership, and
// finally proves the password by rebinding as the discovered entry.
package upstreamldap

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-ldap/ldap/v3"

	"go.ldapauthn.dev/internal/authenticators"
	"go.ldapauthn.dev/internal/plog"
	"go.ldapauthn.dev/internal/serverpool"
)

const (
	userSearchFilterInterpolationMarker  = "{username}"
	groupSearchFilterInterpolationMarker = "{group}"

	// A size limit of 2 on the user search is enough to distinguish "exactly one" from
	// "not exactly one" without fetching a potentially huge result set.
	userSearchSizeLimit = 2

	searchTimeLimitSeconds = 90
)

// Conn abstracts the directory communication protocol (mostly for testing).
type Conn interface {
	Bind(username, password string) error

	Search(searchRequest *ldap.SearchRequest) (*ldap.SearchResult, error)

	SetTimeout(timeout time.Duration)

	Close() error
}

// Our Conn type is a subset of the ldap.Client interface, which is implemented by ldap.Conn.
var _ Conn = &ldap.Conn{}

// Dialer is a factory of Conn for one pool member, and the resulting Conn can then be used
// to interact with the directory server.
type Dialer interface {
	Dial(ctx context.Context, server serverpool.ServerSpec) (Conn, error)
}

// DialerFunc makes it easy to use a func as a Dialer.
type DialerFunc func(ctx context.Context, server serverpool.ServerSpec) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, server serverpool.ServerSpec) (Conn, error) {
	return f(ctx, server)
}

// UserSearchConfig contains information about how to search for the authenticating user.
type UserSearchConfig struct {
	// Base is the base DN for the user search.
	Base string

	// Filter is the filter for the user search. Occurrences of "{username}" are replaced
	// with the normalized, filter-escaped username.
	Filter string

	// MembershipAttribute is the attribute from which the user's group memberships are read.
	MembershipAttribute string
}

// GroupSearchConfig contains information about how group membership is authorized.
type GroupSearchConfig struct {
	// FilterGroups enables group-membership authorization. When false, every user located
	// by a unique search result is authorized.
	FilterGroups bool

	// Base is the base DN for nested group searches.
	Base string

	// Filter is the filter for nested group searches. Occurrences of "{group}" are replaced
	// with the filter-escaped group identifier being expanded.
	Filter string

	// AllowedGroups are the group identifiers whose members may authenticate.
	AllowedGroups []string

	// AllowNestedGroups enables recursive expansion of AllowedGroups into all of their
	// transitively nested member groups.
	AllowNestedGroups bool
}

// ProviderConfig includes all of the settings for connecting to the directory server pool
// and searching for users and groups.
type ProviderConfig struct {
	// Name is a display name for this provider, used only in log messages.
	Name string

	// Pool is the set of directory servers to connect to. A nil or empty pool causes every
	// authentication attempt to be rejected.
	Pool *serverpool.Pool

	// PEM-encoded CA cert bundle to trust when connecting to the directory servers. When
	// nil the system roots are used.
	CABundle []byte

	// BindDN is the service account identity used for the search bind.
	BindDN string

	// BindPassword is the service account secret used for the search bind.
	BindPassword string

	UserSearch UserSearchConfig

	GroupSearch GroupSearchConfig

	// UsernamePattern, when non-nil, must fully match the normalized username. The pattern
	// is expected to be anchored by the caller.
	UsernamePattern *regexp.Regexp

	// ReceiveTimeout bounds each request/response exchange on an open connection.
	ReceiveTimeout time.Duration

	// Dialer exists to enable testing. When nil, a production dialer with
	// TLS-upgrade-before-bind semantics is used.
	Dialer Dialer
}

// Provider performs authentication decisions against the configured directory.
// It is safe for concurrent use: each authentication attempt owns its own connection.
type Provider struct {
	c ProviderConfig
}

var _ authenticators.UserAuthenticator = &Provider{}

func New(config ProviderConfig) *Provider {
	return &Provider{c: config}
}

// GetConfig is a copy of the configuration the provider was built with.
func (p *Provider) GetConfig() ProviderConfig {
	return p.c
}

func (p *Provider) GetName() string {
	return p.c.Name
}

// NormalizeUsername maps a raw username onto its canonical form: whitespace-trimmed and
// lowercased. It is idempotent and performs no I/O. Filter escaping deliberately does not
// happen here; it is applied exactly once at the filter interpolation point so that the
// canonical name stays readable.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// validUsername reports whether a normalized username may be used in a search. Empty
// usernames and usernames containing "/" are never valid. When a username pattern is
// configured the whole value must match it.
func (p *Provider) validUsername(username string) bool {
	if username == "" {
		return false
	}
	if strings.Contains(username, "/") {
		return false
	}
	if p.c.UsernamePattern == nil {
		return true
	}
	return p.c.UsernamePattern.MatchString(username)
}

// AuthenticateUser authenticates a username/password pair and returns the canonical
// username on success. Implements authenticators.UserAuthenticator.
//
// Every failure, whatever its cause, results in (nil, false) with the reason written only
// to the log: callers never learn why an authentication attempt was rejected.
func (p *Provider) AuthenticateUser(ctx context.Context, username, password string) (*authenticators.Response, bool) {
	username = NormalizeUsername(username)
	if !p.validUsername(username) {
		plog.Info("rejecting authentication attempt with unsupported username")
		return nil, false
	}
	if strings.TrimSpace(password) == "" {
		plog.Info("rejecting authentication attempt with empty password", "username", username)
		return nil, false
	}

	if !p.validSettings() {
		return nil, false
	}

	conn := p.connect(ctx)
	if conn == nil {
		plog.Warning("could not establish a directory connection with the service bind identity",
			"bindDN", p.c.BindDN)
		return nil, false
	}
	defer conn.release()

	permitted := p.permittedGroups(conn.conn)

	entry, ok := p.searchForUser(conn.conn, username)
	if !ok {
		return nil, false
	}

	groups, ok := p.authorizeMemberships(entry, permitted, username)
	if !ok {
		return nil, false
	}

	// The user's password is only ever presented to the directory after the DN has been
	// authoritatively resolved by the service-bound search above.
	if !conn.rebind(entry.DN, password) {
		return nil, false
	}

	plog.Debug("authenticated user", "username", username, "dn", entry.DN)
	return &authenticators.Response{User: authenticators.UserInfo{Name: username, Groups: groups}}, true
}

// validSettings checks the configuration that is required before any connection may be
// attempted. Failures here are operator misconfiguration and log at error severity.
func (p *Provider) validSettings() bool {
	if p.c.Pool.Len() == 0 {
		plog.Error("no directory server hosts configured, a connection requires at least 1 valid host", nil)
		return false
	}
	required := []struct {
		name  string
		value string
	}{
		{"bindDN", p.c.BindDN},
		{"bindPassword", p.c.BindPassword},
		{"userSearchBase", p.c.UserSearch.Base},
		{"userSearchFilter", p.c.UserSearch.Filter},
	}
	for _, setting := range required {
		if strings.TrimSpace(setting.value) == "" {
			plog.Error("required setting is undefined or blank", nil, "setting", setting.name)
			return false
		}
	}
	return true
}

// connection owns one live directory session for the duration of one authentication
// attempt. At most one identity is bound at any instant; the underlying protocol unbinds
// the prior identity as part of every bind.
type connection struct {
	conn        Conn
	releaseOnce sync.Once
}

// rebind replaces the bound identity on the open connection, reporting whether the new
// bind succeeded. An invalid-credentials result is an expected rejection; anything else
// is logged as infrastructure trouble. Both reject.
func (c *connection) rebind(dn, password string) bool {
	if err := c.conn.Bind(dn, password); err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultInvalidCredentials) {
			plog.DebugErr("user bind with the supplied password was rejected by the directory", err, "dn", dn)
		} else {
			plog.WarningErr("user bind with the supplied password failed", err, "dn", dn)
		}
		return false
	}
	return true
}

// release closes the connection. It is idempotent and safe on a connection whose service
// bind never succeeded.
func (c *connection) release() {
	c.releaseOnce.Do(func() {
		_ = c.conn.Close()
	})
}

// connect walks the pool per its strategy and availability policy and returns the first
// connection that could be dialed, encrypted, and bound with the service identity. Dial
// and bind failures are logged and the next candidate is tried; total failure returns nil
// rather than propagating, so the orchestrator decides what a missing connection means.
func (p *Provider) connect(ctx context.Context) *connection {
	for cycle := 0; cycle < p.c.Pool.Cycles(); cycle++ {
		for _, server := range p.c.Pool.Candidates() {
			conn, err := p.dial(ctx, server)
			if err != nil {
				plog.WarningErr("could not open a connection to directory server", err, "server", server.Endpoint())
				p.c.Pool.MarkOffline(server)
				continue
			}
			if p.c.ReceiveTimeout > 0 {
				conn.SetTimeout(p.c.ReceiveTimeout)
			}
			if err := conn.Bind(p.c.BindDN, p.c.BindPassword); err != nil {
				plog.WarningErr("service bind to directory server failed", err,
					"server", server.Endpoint(), "bindDN", p.c.BindDN)
				_ = conn.Close()
				continue
			}
			return &connection{conn: conn}
		}
	}
	return nil
}

func (p *Provider) dial(ctx context.Context, server serverpool.ServerSpec) (Conn, error) {
	if p.c.Dialer != nil {
		return p.c.Dialer.Dial(ctx, server)
	}
	return p.dialTLS(ctx, server)
}

// dialTLS is the default implementation of the Dialer, used when Dialer is nil.
// The connection is always encrypted before any credential is transmitted: ldaps servers
// are dialed with TLS from the first byte, and plain servers are upgraded via StartTLS
// immediately after connecting. The go-ldap library does not support dialing with a
// context.Context, so we dial ourselves, heavily inspired by ldap.DialURL.
func (p *Provider) dialTLS(ctx context.Context, server serverpool.ServerSpec) (Conn, error) {
	tlsConfig, err := p.tlsConfig(server.Host)
	if err != nil {
		return nil, ldap.NewError(ldap.ErrorNetwork, err)
	}

	netDialer := &net.Dialer{Timeout: server.ConnectTimeout}

	if server.UseTLS {
		tlsDialer := &tls.Dialer{NetDialer: netDialer, Config: tlsConfig}
		c, err := tlsDialer.DialContext(ctx, "tcp", server.Endpoint())
		if err != nil {
			return nil, ldap.NewError(ldap.ErrorNetwork, err)
		}
		conn := ldap.NewConn(c, true)
		conn.Start()
		return conn, nil
	}

	c, err := netDialer.DialContext(ctx, "tcp", server.Endpoint())
	if err != nil {
		return nil, ldap.NewError(ldap.ErrorNetwork, err)
	}
	conn := ldap.NewConn(c, false)
	conn.Start()
	if err := conn.StartTLS(tlsConfig); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

func (p *Provider) tlsConfig(serverName string) (*tls.Config, error) {
	var rootCAs *x509.CertPool // nil means use the system roots
	if p.c.CABundle != nil {
		rootCAs = x509.NewCertPool()
		if !rootCAs.AppendCertsFromPEM(p.c.CABundle) {
			return nil, fmt.Errorf("could not parse CA bundle")
		}
	}
	return &tls.Config{MinVersion: tls.VersionTLS12, RootCAs: rootCAs, ServerName: serverName}, nil
}

// permittedGroups assembles the permitted-group set for this authentication attempt: the
// configured allow-list, unioned with the nested expansion of every allowed group when
// nested expansion is enabled. Returns nil when group filtering is disabled.
func (p *Provider) permittedGroups(conn Conn) map[string]bool {
	if !p.c.GroupSearch.FilterGroups {
		return nil
	}
	permitted := make(map[string]bool, len(p.c.GroupSearch.AllowedGroups))
	for _, group := range p.c.GroupSearch.AllowedGroups {
		permitted[group] = true
	}
	if !p.c.GroupSearch.AllowNestedGroups {
		return permitted
	}
	if strings.TrimSpace(p.c.GroupSearch.Base) == "" || strings.TrimSpace(p.c.GroupSearch.Filter) == "" {
		plog.Error("nested group expansion is enabled but groupSearchBase or groupSearchFilter is blank, skipping expansion", nil)
		return permitted
	}
	visited := make(map[string]bool)
	for _, group := range p.c.GroupSearch.AllowedGroups {
		for _, nested := range p.resolveNestedGroups(conn, group, visited) {
			permitted[nested] = true
		}
	}
	return permitted
}

// resolveNestedGroups searches for the groups whose membership filter references group and
// recurses into each discovered group to find its own nested memberships. The shared
// visited set makes repeated discovery idempotent, so the traversal terminates even when
// the directory contains membership cycles, and its depth is bounded by the number of
// distinct groups rather than a fixed constant.
func (p *Provider) resolveNestedGroups(conn Conn, group string, visited map[string]bool) []string {
	result, err := conn.Search(p.groupSearchRequest(group))
	if err != nil {
		plog.WarningErr("nested group search failed", err, "group", group)
		return nil
	}
	var nested []string
	for _, entry := range result.Entries {
		if entry.DN == "" || visited[entry.DN] {
			continue
		}
		visited[entry.DN] = true
		nested = append(nested, entry.DN)
		nested = append(nested, p.resolveNestedGroups(conn, entry.DN, visited)...)
	}
	return nested
}

// searchForUser runs the one user search of this authentication attempt and enforces that
// it located exactly one well-formed entry. Ambiguity is never resolved by picking one.
func (p *Provider) searchForUser(conn Conn, username string) (*ldap.Entry, bool) {
	result, err := conn.Search(p.userSearchRequest(username))
	if err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultSizeLimitExceeded) {
			plog.Debug("user search found more than one result", "username", username)
		} else {
			plog.WarningErr("user search failed", err, "username", username)
		}
		return nil, false
	}
	if len(result.Entries) == 0 {
		plog.Debug("user search found no results", "username", username)
		return nil, false
	}
	if len(result.Entries) > 1 {
		plog.Debug("user search found more than one result, please narrow the search to 1 result",
			"username", username, "results", len(result.Entries))
		return nil, false
	}
	entry := result.Entries[0]
	if entry.DN == "" {
		plog.Debug("user search result has an undefined or null DN", "username", username)
		return nil, false
	}
	return entry, true
}

// authorizeMemberships intersects the found user's membership values with the permitted
// set. With group filtering disabled every located user is authorized and keeps all of
// their memberships; a missing membership attribute rejects in either mode.
func (p *Provider) authorizeMemberships(entry *ldap.Entry, permitted map[string]bool, username string) ([]string, bool) {
	memberships := entry.GetAttributeValues(p.c.UserSearch.MembershipAttribute)
	if len(memberships) == 0 {
		plog.Debug("user search result has an undefined or null membership attribute",
			"username", username, "attribute", p.c.UserSearch.MembershipAttribute)
		return nil, false
	}

	if !p.c.GroupSearch.FilterGroups {
		return memberships, true
	}

	var intersection []string
	for _, membership := range memberships {
		if permitted[membership] {
			intersection = append(intersection, membership)
		}
	}
	if len(intersection) == 0 {
		plog.Debug("user is not a member of any permitted group", "username", username)
		return nil, false
	}
	sort.Strings(intersection)
	return intersection, true
}

func (p *Provider) userSearchRequest(username string) *ldap.SearchRequest {
	return &ldap.SearchRequest{
		BaseDN:       p.c.UserSearch.Base,
		Scope:        ldap.ScopeWholeSubtree,
		DerefAliases: ldap.DerefAlways,
		SizeLimit:    userSearchSizeLimit,
		TimeLimit:    searchTimeLimitSeconds,
		TypesOnly:    false,
		Filter:       interpolateFilter(p.c.UserSearch.Filter, userSearchFilterInterpolationMarker, username),
		Attributes:   []string{p.c.UserSearch.MembershipAttribute},
		Controls:     nil,
	}
}

func (p *Provider) groupSearchRequest(group string) *ldap.SearchRequest {
	return &ldap.SearchRequest{
		BaseDN:       p.c.GroupSearch.Base,
		Scope:        ldap.ScopeWholeSubtree,
		DerefAliases: ldap.DerefAlways,
		SizeLimit:    0, // unlimited
		TimeLimit:    searchTimeLimitSeconds,
		TypesOnly:    false,
		Filter:       interpolateFilter(p.c.GroupSearch.Filter, groupSearchFilterInterpolationMarker, group),
		Attributes:   []string{},
		Controls:     nil,
	}
}

// interpolateFilter substitutes value into every occurrence of marker in the filter
// template. The value is untrusted input, so it is escaped before being included in the
// filter to prevent query injection.
func interpolateFilter(filterTemplate, marker, value string) string {
	filter := strings.ReplaceAll(filterTemplate, marker, ldap.EscapeFilter(value))
	if strings.HasPrefix(filter, "(") && strings.HasSuffix(filter, ")") {
		return filter
	}
	return "(" + filter + ")"
}
