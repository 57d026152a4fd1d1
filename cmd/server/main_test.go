package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"cashrecon/backend/internal/config"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	assert.Error(t, validateSecurityConfig(config.Config{AuthSecret: "short"}))
	assert.Error(t, validateSecurityConfig(config.Config{AuthSecret: "dev-change-me-dev-change-me-dev-change-me"}))
	assert.Error(t, validateSecurityConfig(config.Config{AuthSecret: "xxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx"}))
	assert.Error(t, validateSecurityConfig(config.Config{
		AuthSecret:            "0123456789abcdef0123456789abcdef",
		AccessTokenTTLMinutes: 7 * 24 * 60,
	}))
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", AccessTokenTTLMinutes: 480})
	assert.NoError(t, err)
}
