package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCreds(t *testing.T) {
	cfg := &Config{BasicAuthCreds: "alice:secret, bob:hunter2"}

	creds, err := cfg.parseCreds()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"alice": "secret", "bob": "hunter2"}, creds)
}

func TestParseCredsRejectsMalformed(t *testing.T) {
	cfg := &Config{BasicAuthCreds: "alice"}
	_, err := cfg.parseCreds()
	assert.Error(t, err)
}

func TestParseCredsRequiresValue(t *testing.T) {
	cfg := &Config{}
	_, err := cfg.parseCreds()
	assert.Error(t, err)
}
