package main

import (
	"bytes"
	"strings"
	"testing"

	"aigateway/internal/config"
	"aigateway/internal/service"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenCommand(t *testing.T) {
	t.Setenv("JWT_SECRET", "cli-secret")
	t.Setenv("LOG_LEVEL", "warn")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"token", "--subject", "ci"})
	require.NoError(t, rootCmd.Execute())

	claims, err := service.NewJWTServiceWithSecret("cli-secret", "aigateway", "aigateway-admin").
		ValidateToken(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "ci", claims.Subject)
}

func TestSetupLogging(t *testing.T) {
	defer log.SetLevel(log.InfoLevel)
	defer log.SetFormatter(&log.TextFormatter{})

	require.NoError(t, setupLogging(&config.Config{LogLevel: "debug", LogFormat: "json"}))
	assert.Equal(t, log.DebugLevel, log.GetLevel())
	_, isJSON := log.StandardLogger().Formatter.(*log.JSONFormatter)
	assert.True(t, isJSON)

	assert.Error(t, setupLogging(&config.Config{LogLevel: "loud"}))
}
