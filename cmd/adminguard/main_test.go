package main

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestHashPassword(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, hashPassword(strings.NewReader("correct horse\r\n"), &out))

	hash := strings.TrimSpace(out.String())
	assert.True(t, strings.HasPrefix(hash, "$2"), "bcrypt hash, got %q", hash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("correct horse")))
}

func TestHashPassword_Empty(t *testing.T) {
	var out bytes.Buffer
	assert.Error(t, hashPassword(strings.NewReader(""), &out))
	assert.Empty(t, out.String())
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, "json", slog.LevelInfo).Info("hello", "k", "v")
	assert.Contains(t, buf.String(), `"msg":"hello"`)

	buf.Reset()
	newLogger(&buf, "text", slog.LevelWarn).Info("dropped")
	assert.Empty(t, buf.String())

	newLogger(&buf, "text", slog.LevelWarn).Warn("kept")
	assert.Contains(t, buf.String(), "msg=kept")
}
