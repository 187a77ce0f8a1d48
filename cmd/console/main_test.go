package main

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/billing-console/authapi"
)

func TestShellMirrorsAcrossInstances(t *testing.T) {
	t.Setenv("AUTH_STORAGE", "memory")
	t.Setenv("AUTH_SYNC_CLEANUP_DELAY", "5ms")
	t.Setenv("LOG_LEVEL", "error")

	script := strings.Join([]string{
		"login admin@example.com Admin1234",
		"open",
		"sessions",
		"use 1",
		"logout",
		"use 2",
		"status",
		"bogus",
		"quit",
	}, "\n")

	var out bytes.Buffer
	require.NoError(t, run([]string{"--fake", "shell"}, strings.NewReader(script), &out))

	text := out.String()
	assert.Contains(t, text, "instance 1: authenticated as admin@example.com (admin)")
	assert.Contains(t, text, "instance 2: authenticated as admin@example.com (admin)")
	assert.Contains(t, text, "signed out")
	assert.Contains(t, text, "instance 2: unauthenticated")
	assert.Contains(t, text, `error: unknown command "bogus"`)
	assert.Contains(t, text, " *", "the current session is marked")
}

func TestLoginFailureIsReported(t *testing.T) {
	t.Setenv("AUTH_STORAGE", "memory")
	t.Setenv("LOG_LEVEL", "error")

	var out bytes.Buffer
	err := run([]string{"--fake", "--email", "admin@example.com", "--password", "Wrong1234", "login"}, strings.NewReader(""), &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestUsageWithoutCommand(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(nil, strings.NewReader(""), &out))
	assert.Contains(t, out.String(), "usage: console")
}

func TestParseFlags(t *testing.T) {
	var out bytes.Buffer
	o, err := parseFlags([]string{"-e", "a@b.com", "-p", "Secret123", "--fake", "login"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", o.email)
	assert.Equal(t, "Secret123", o.password)
	assert.True(t, o.fake)
	assert.Equal(t, []string{"login"}, o.command)

	_, err = parseFlags([]string{"--nope"}, &out)
	assert.Error(t, err)
}

func TestDescribeError(t *testing.T) {
	assert.Equal(t, "boom", describeError(errors.New("boom")))

	wrapped := fmt.Errorf("[authapi.Login]: %w", &authapi.Error{StatusCode: 401, Code: "invalid_credentials", Message: "wrong password"})
	assert.Equal(t, "auth api rejected the request (401 invalid_credentials): wrong password", describeError(wrapped))
}
