// Copyright 2026 the ldapauthn contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package serverpool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go.ldapauthn.dev/internal/endpointaddr"
)

func endpoints(servers []ServerSpec) []string {
	out := make([]string, 0, len(servers))
	for _, s := range servers {
		out = append(out, s.Endpoint())
	}
	return out
}

func TestBuild(t *testing.T) {
	tests := []struct {
		name          string
		rawHosts      []string
		opts          Options
		wantNil       bool
		wantEndpoints []string
	}{
		{
			name:          "valid hosts get the uniform port",
			rawHosts:      []string{"dc1.example.com", "dc2.example.com"},
			opts:          Options{Port: 389},
			wantEndpoints: []string{"dc1.example.com:389", "dc2.example.com:389"},
		},
		{
			name:          "hosts are trimmed and lowercased before validation",
			rawHosts:      []string{"  DC1.Example.COM  "},
			opts:          Options{Port: 389},
			wantEndpoints: []string{"dc1.example.com:389"},
		},
		{
			name:          "URL-form host overrides the uniform port",
			rawHosts:      []string{"ldaps://dc1.example.com:636", "dc2.example.com"},
			opts:          Options{Port: 389},
			wantEndpoints: []string{"dc1.example.com:636", "dc2.example.com:389"},
		},
		{
			name:          "first invalid host drops the remainder of the list",
			rawHosts:      []string{"dc1.example.com", "bad..host", "dc2.example.com"},
			opts:          Options{Port: 389},
			wantEndpoints: []string{"dc1.example.com:389"},
		},
		{
			name:     "invalid first host yields no pool",
			rawHosts: []string{"not a host", "dc1.example.com"},
			opts:     Options{Port: 389},
			wantNil:  true,
		},
		{
			name:    "empty host list yields no pool",
			wantNil: true,
		},
	}
	for _, test := range tests {
		tt := test
		t.Run(tt.name, func(t *testing.T) {
			pool := Build(tt.rawHosts, tt.opts)
			if tt.wantNil {
				require.Nil(t, pool)
				require.Equal(t, 0, pool.Len())
				return
			}
			require.NotNil(t, pool)
			require.Equal(t, len(tt.wantEndpoints), pool.Len())
			require.Equal(t, tt.wantEndpoints, endpoints(pool.Candidates()))
		})
	}
}

func TestBuildAppliesUniformTLSAndTimeout(t *testing.T) {
	pool := Build([]string{"dc1.example.com", "ldap://dc2.example.com:389"}, Options{
		Port:           636,
		UseTLS:         true,
		ConnectTimeout: 5 * time.Second,
	})
	require.NotNil(t, pool)

	servers := pool.Candidates()
	require.Len(t, servers, 2)
	require.Equal(t, ServerSpec{
		HostPort:       endpointaddr.HostPort{Host: "dc1.example.com", Port: 636, UseTLS: true},
		ConnectTimeout: 5 * time.Second,
	}, servers[0])
	// the URL form decided its own port and TLS mode, the timeout is still uniform
	require.Equal(t, ServerSpec{
		HostPort:       endpointaddr.HostPort{Host: "dc2.example.com", Port: 389},
		ConnectTimeout: 5 * time.Second,
	}, servers[1])
}

func TestStrategies(t *testing.T) {
	hosts := []string{"dc1.example.com", "dc2.example.com", "dc3.example.com"}
	all := []string{"dc1.example.com:389", "dc2.example.com:389", "dc3.example.com:389"}

	t.Run("FIRST preserves the configured order on every attempt", func(t *testing.T) {
		pool := Build(hosts, Options{Port: 389, Strategy: First})
		require.Equal(t, all, endpoints(pool.Candidates()))
		require.Equal(t, all, endpoints(pool.Candidates()))
	})

	t.Run("ROUND_ROBIN rotates the starting server between attempts", func(t *testing.T) {
		pool := Build(hosts, Options{Port: 389, Strategy: RoundRobin})
		require.Equal(t, []string{all[0], all[1], all[2]}, endpoints(pool.Candidates()))
		require.Equal(t, []string{all[1], all[2], all[0]}, endpoints(pool.Candidates()))
		require.Equal(t, []string{all[2], all[0], all[1]}, endpoints(pool.Candidates()))
		require.Equal(t, []string{all[0], all[1], all[2]}, endpoints(pool.Candidates()))
	})

	t.Run("RANDOM returns a permutation of the full pool", func(t *testing.T) {
		pool := Build(hosts, Options{Port: 389, Strategy: Random})
		require.ElementsMatch(t, all, endpoints(pool.Candidates()))
	})
}

func TestParseStrategy(t *testing.T) {
	for raw, want := range map[string]Strategy{
		"":            First,
		"FIRST":       First,
		"first":       First,
		"ROUND_ROBIN": RoundRobin,
		" random ":    Random,
	} {
		got, err := ParseStrategy(raw)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	_, err := ParseStrategy("LEAST_CONNECTIONS")
	require.EqualError(t, err, `unsupported server pool strategy "LEAST_CONNECTIONS", valid choices are FIRST, ROUND_ROBIN and RANDOM`)
}

func TestCycles(t *testing.T) {
	require.Equal(t, 0, (*Pool)(nil).Cycles())

	pool := Build([]string{"dc1.example.com"}, Options{Port: 389})
	require.Equal(t, 1, pool.Cycles())

	pool = Build([]string{"dc1.example.com"}, Options{Port: 389, Policy: Policy{CheckActive: true, MaxCycles: 3}})
	require.Equal(t, 3, pool.Cycles())

	// MaxCycles without CheckActive has nothing to bound
	pool = Build([]string{"dc1.example.com"}, Options{Port: 389, Policy: Policy{MaxCycles: 3}})
	require.Equal(t, 1, pool.Cycles())
}

func TestExhaustPolicy(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }

	t.Run("offline servers are removed for the pool lifetime when no reinsertion timeout is set", func(t *testing.T) {
		pool := Build([]string{"dc1.example.com", "dc2.example.com"}, Options{Port: 389, Policy: Policy{Exhaust: true}})
		pool.now = clock

		pool.MarkOffline(pool.Candidates()[0])
		require.Equal(t, []string{"dc2.example.com:389"}, endpoints(pool.Candidates()))

		now = now.Add(24 * time.Hour)
		require.Equal(t, []string{"dc2.example.com:389"}, endpoints(pool.Candidates()))
	})

	t.Run("offline servers are reinserted after the timeout expires", func(t *testing.T) {
		now = time.Now()
		pool := Build([]string{"dc1.example.com", "dc2.example.com"}, Options{
			Port:   389,
			Policy: Policy{Exhaust: true, ReinsertAfter: time.Minute},
		})
		pool.now = clock

		pool.MarkOffline(pool.Candidates()[0])
		require.Equal(t, []string{"dc2.example.com:389"}, endpoints(pool.Candidates()))

		now = now.Add(2 * time.Minute)
		require.Equal(t, []string{"dc1.example.com:389", "dc2.example.com:389"}, endpoints(pool.Candidates()))
	})

	t.Run("MarkOffline is a no-op without the exhaust policy", func(t *testing.T) {
		pool := Build([]string{"dc1.example.com"}, Options{Port: 389, Policy: Policy{CheckActive: true}})
		pool.MarkOffline(pool.Candidates()[0])
		require.Equal(t, []string{"dc1.example.com:389"}, endpoints(pool.Candidates()))
	})
}
