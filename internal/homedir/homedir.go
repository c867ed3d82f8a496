// Copyright 2026 the ldapauthn contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package homedir provisions local home directories for directory-authenticated users
// before the host framework adds them.
package homedir

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"os/user"
	"strings"
	"time"

	"github.com/pkg/errors"

	"go.ldapauthn.dev/internal/authenticators"
	"go.ldapauthn.dev/internal/plog"
)

// usernamePlaceholder is replaced with the username in every configured command argument.
const usernamePlaceholder = "USERNAME"

const defaultRunTimeout = time.Minute

// Runner executes one external command. It exists to enable testing.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) error
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if s := strings.TrimSpace(stderr.String()); s != "" {
			return errors.Errorf("%s %v: %s", name, args, s)
		}
		return err
	}
	return nil
}

// Provisioner ensures a local home directory exists for a user, optionally creating it
// with a configured helper command.
type Provisioner struct {
	enabled bool
	command []string
	timeout time.Duration

	runner     Runner
	lookupHome func(username string) (string, error)
	isDir      func(path string) bool
}

var _ authenticators.UserProvisioner = &Provisioner{}

// New builds a Provisioner. The command's arguments may contain the USERNAME placeholder;
// the username itself is always appended as the final argument.
func New(enabled bool, command []string) *Provisioner {
	return &Provisioner{
		enabled:    enabled,
		command:    command,
		timeout:    defaultRunTimeout,
		runner:     execRunner{},
		lookupHome: lookupHome,
		isDir:      isDir,
	}
}

// AddUser checks that the named user exists locally and has a home directory, creating
// the directory with the configured command when creation is enabled. A user unknown to
// the local account database is an error regardless of the creation setting.
func (p *Provisioner) AddUser(username string) error {
	home, err := p.lookupHome(username)
	if err != nil {
		return errors.Wrapf(err, "user %q does not exist locally", username)
	}
	if home != "" && p.isDir(home) {
		return nil
	}
	if !p.enabled {
		return errors.Errorf("user %q has no home directory and home directory creation is disabled", username)
	}
	if len(p.command) == 0 || strings.TrimSpace(p.command[0]) == "" {
		return errors.New("home directory creation is enabled but no creation command is configured")
	}

	name := strings.ReplaceAll(p.command[0], usernamePlaceholder, username)
	args := make([]string, 0, len(p.command))
	for _, arg := range p.command[1:] {
		args = append(args, strings.ReplaceAll(arg, usernamePlaceholder, username))
	}
	args = append(args, username)

	plog.Info("creating user home directory", "username", username, "home", home, "command", name)
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.runner.Run(ctx, name, args...); err != nil {
		return errors.Wrapf(err, "failed to create home directory for user %q", username)
	}
	return nil
}

func lookupHome(username string) (string, error) {
	u, err := user.Lookup(username)
	if err != nil {
		return "", err
	}
	return u.HomeDir, nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
