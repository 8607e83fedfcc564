package driftline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfig_ValidateRequiresProjectAPIKey(t *testing.T) {
	cfg := DefaultConfig()
	assert.ErrorIs(t, cfg.validate(), ErrMissingProjectAPIKey)

	cfg.ProjectAPIKey = "proj-key"
	assert.NoError(t, cfg.validate())
}

func TestConfig_ValidateRejectsBadPorts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ProjectAPIKey = "proj-key"
	cfg.AdminServerEnabled = true
	cfg.AdminServerPort = 0
	assert.ErrorIs(t, cfg.validate(), ErrInvalidPort)

	cfg.AdminServerEnabled = false
	cfg.WebhookEnabled = true
	cfg.WebhookPort = 99999
	assert.ErrorIs(t, cfg.validate(), ErrInvalidPort)
}
