// Copyright 2026 the ldapauthn contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package authenticator

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"go.ldapauthn.dev/internal/plog"
)

// HostList is the directory server host list. In YAML it may be written either as a
// sequence of host specs or as a single whitespace-delimited string.
type HostList []string

func (l *HostList) UnmarshalJSON(b []byte) error {
	var scalar string
	if err := json.Unmarshal(b, &scalar); err == nil {
		*l = strings.Fields(scalar)
		return nil
	}
	var list []string
	if err := json.Unmarshal(b, &list); err != nil {
		return errors.New("must be a string or a list of strings")
	}
	*l = list
	return nil
}

// GroupList is a list of group identifiers. In YAML a scalar is one identifier, never a
// whitespace-delimited list: group DNs legitimately contain spaces.
type GroupList []string

func (l *GroupList) UnmarshalJSON(b []byte) error {
	var scalar string
	if err := json.Unmarshal(b, &scalar); err == nil {
		*l = GroupList{scalar}
		return nil
	}
	var list []string
	if err := json.Unmarshal(b, &list); err != nil {
		return errors.New("must be a string or a list of strings")
	}
	*l = list
	return nil
}

// BoolOrInt is a setting that may be written as a boolean or as an integer, with the
// integer carrying an extra magnitude (a cycle count or a number of seconds).
type BoolOrInt struct {
	IsSet bool
	IsInt bool
	Bool  bool
	Int   int
}

func (v *BoolOrInt) UnmarshalJSON(b []byte) error {
	var asBool bool
	if err := json.Unmarshal(b, &asBool); err == nil {
		*v = BoolOrInt{IsSet: true, Bool: asBool}
		return nil
	}
	var asInt int
	if err := json.Unmarshal(b, &asInt); err != nil {
		return errors.New("must be a boolean or an integer")
	}
	*v = BoolOrInt{IsSet: true, IsInt: true, Bool: asInt != 0, Int: asInt}
	return nil
}

// AuthenticatorSpec is the authenticator configuration file format.
type AuthenticatorSpec struct {
	// Name is an optional display name used in log messages.
	Name string `json:"name,omitempty"`

	ServerHosts                 HostList  `json:"serverHosts"`
	ServerPort                  uint16    `json:"serverPort,omitempty"`
	ServerUseSSL                bool      `json:"serverUseSSL,omitempty"`
	ServerConnectTimeoutSeconds int       `json:"serverConnectTimeoutSeconds,omitempty"`
	ServerReceiveTimeoutSeconds int       `json:"serverReceiveTimeoutSeconds,omitempty"`
	ServerPoolStrategy          string    `json:"serverPoolStrategy,omitempty"`
	ServerPoolActive            BoolOrInt `json:"serverPoolActive,omitempty"`
	ServerPoolExhaust           BoolOrInt `json:"serverPoolExhaust,omitempty"`

	// TLSCABundlePath optionally points at a PEM file of CA certificates to trust when
	// connecting to the directory servers.
	TLSCABundlePath string `json:"tlsCABundlePath,omitempty"`

	BindUserDN       string `json:"bindUserDN"`
	BindUserPassword string `json:"bindUserPassword"`

	UserSearchBase          string `json:"userSearchBase"`
	UserSearchFilter        string `json:"userSearchFilter"`
	UserMembershipAttribute string `json:"userMembershipAttribute,omitempty"`

	FilterByGroup     *bool     `json:"filterByGroup,omitempty"`
	GroupSearchBase   string    `json:"groupSearchBase,omitempty"`
	GroupSearchFilter string    `json:"groupSearchFilter,omitempty"`
	AllowedGroups     GroupList `json:"allowedGroups,omitempty"`
	AllowNestedGroups bool      `json:"allowNestedGroups,omitempty"`

	UsernamePattern string `json:"usernamePattern,omitempty"`

	CreateUserHomeDir        bool     `json:"createUserHomeDir,omitempty"`
	CreateUserHomeDirCommand []string `json:"createUserHomeDirCommand,omitempty"`

	LogLevel plog.LogLevel `json:"logLevel,omitempty"`
}
