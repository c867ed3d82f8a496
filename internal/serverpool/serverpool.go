// Copyright 2026 the ldapauthn contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package serverpool turns the raw directory server host configuration into a pool of
// validated server descriptors with a selection strategy and an availability policy.
package serverpool

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"go.ldapauthn.dev/internal/endpointaddr"
	"go.ldapauthn.dev/internal/plog"
)

// Strategy selects the order in which pool members are offered for a connection attempt.
type Strategy int

const (
	// First always offers the servers in their configured order.
	First Strategy = iota
	// RoundRobin rotates the starting server between connection attempts sharing a pool.
	RoundRobin
	// Random offers the servers in a fresh random order for every connection attempt.
	Random
)

func (s Strategy) String() string {
	switch s {
	case RoundRobin:
		return "ROUND_ROBIN"
	case Random:
		return "RANDOM"
	default:
		return "FIRST"
	}
}

// ParseStrategy parses the configuration spelling of a Strategy. The empty string means First.
func ParseStrategy(raw string) (Strategy, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "", "FIRST":
		return First, nil
	case "ROUND_ROBIN":
		return RoundRobin, nil
	case "RANDOM":
		return Random, nil
	default:
		return First, fmt.Errorf("unsupported server pool strategy %q, valid choices are FIRST, ROUND_ROBIN and RANDOM", raw)
	}
}

// Policy is the pool availability policy.
type Policy struct {
	// CheckActive enables skipping of servers previously observed to be unavailable.
	CheckActive bool

	// MaxCycles bounds how many passes over the pool a single connection attempt may make
	// before giving up. Zero means a single pass.
	MaxCycles int

	// Exhaust removes unavailable servers from consideration. With a zero ReinsertAfter the
	// removal lasts for the pool's lifetime; otherwise the server becomes eligible again
	// once the duration has passed.
	Exhaust       bool
	ReinsertAfter time.Duration
}

// ServerSpec describes one validated directory server.
type ServerSpec struct {
	endpointaddr.HostPort

	// ConnectTimeout bounds the TCP/TLS dial to this server. Zero means no explicit bound.
	ConnectTimeout time.Duration
}

// Options carries the uniform settings applied to every host while building a pool.
type Options struct {
	Port           uint16
	UseTLS         bool
	ConnectTimeout time.Duration
	Strategy       Strategy
	Policy         Policy
}

// Pool is an immutable ordered collection of validated servers plus selection state.
// The server list is frozen at Build time; only availability bookkeeping mutates afterwards.
type Pool struct {
	servers  []ServerSpec
	strategy Strategy
	policy   Policy

	mu           sync.Mutex
	nextStart    int
	offlineUntil map[string]time.Time

	now func() time.Time
}

// Build validates each raw host and assembles the pool. Hosts are trimmed and lowercased
// before validation. Processing stops at the first invalid host: the remainder of the list
// is intentionally dropped rather than skipped, so a typo cannot silently reorder failover.
// Returns nil when no valid server survives.
func Build(rawHosts []string, opts Options) *Pool {
	var servers []ServerSpec
	for _, raw := range rawHosts {
		host := strings.ToLower(strings.TrimSpace(raw))
		hostPort, err := endpointaddr.Parse(host, opts.Port, opts.UseTLS)
		if err != nil {
			plog.WarningErr("dropping directory server host not supplied in an approved format, along with the remainder of the host list", err, "host", host)
			break
		}
		servers = append(servers, ServerSpec{HostPort: hostPort, ConnectTimeout: opts.ConnectTimeout})
	}
	if len(servers) == 0 {
		return nil
	}
	return &Pool{
		servers:      servers,
		strategy:     opts.Strategy,
		policy:       opts.Policy,
		offlineUntil: make(map[string]time.Time),
		now:          time.Now,
	}
}

// Len is the number of servers in the pool. A nil pool has length zero.
func (p *Pool) Len() int {
	if p == nil {
		return 0
	}
	return len(p.servers)
}

// Cycles is how many passes over the candidate list one connection attempt should make.
func (p *Pool) Cycles() int {
	if p == nil {
		return 0
	}
	if p.policy.CheckActive && p.policy.MaxCycles > 0 {
		return p.policy.MaxCycles
	}
	return 1
}

// Candidates returns the servers eligible for one pass of a connection attempt, ordered
// per the pool's strategy. Servers marked offline under an Exhaust policy are excluded
// until their reinsertion deadline passes.
func (p *Pool) Candidates() []ServerSpec {
	ordered := make([]ServerSpec, len(p.servers))
	copy(ordered, p.servers)

	switch p.strategy {
	case RoundRobin:
		p.mu.Lock()
		start := p.nextStart % len(ordered)
		p.nextStart++
		p.mu.Unlock()
		ordered = append(ordered[start:], ordered[:start]...)
	case Random:
		rand.Shuffle(len(ordered), func(i, j int) {
			ordered[i], ordered[j] = ordered[j], ordered[i]
		})
	}

	if !p.policy.Exhaust {
		return ordered
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	eligible := ordered[:0]
	for _, server := range ordered {
		until, offline := p.offlineUntil[server.Endpoint()]
		if offline {
			if until.IsZero() || now.Before(until) {
				continue
			}
			delete(p.offlineUntil, server.Endpoint()) // reinsertion timeout expired
		}
		eligible = append(eligible, server)
	}
	return eligible
}

// MarkOffline records that a server could not be reached. It only has an effect under an
// Exhaust policy; the always-active policy re-probes every server on every attempt.
func (p *Pool) MarkOffline(server ServerSpec) {
	if !p.policy.Exhaust {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	var until time.Time // zero time means offline for the pool's lifetime
	if p.policy.ReinsertAfter > 0 {
		until = p.now().Add(p.policy.ReinsertAfter)
	}
	p.offlineUntil[server.Endpoint()] = until
}
