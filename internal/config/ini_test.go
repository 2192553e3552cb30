package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadBufferConfigParsesPathAndSize(t *testing.T) {
	r := strings.NewReader("[buffer]\npath = /var/lib/siridb/buffer.dat\nsize=8192\n")
	cfg, err := LoadBufferConfig(r)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/siridb/buffer.dat", cfg.Path)
	assert.Equal(t, 8192, cfg.Size)
	assert.Equal(t, defaultMaxTruncationPercent, cfg.MaxTruncationPercent)
}

func TestLoadBufferConfigHonorsCommentsAndBlankLines(t *testing.T) {
	r := strings.NewReader("; a comment\n\n[buffer]\n# another comment\npath = /data/buffer.dat\nsize = 4096\nmax_truncation_percent = 35\n")
	cfg, err := LoadBufferConfig(r)
	require.NoError(t, err)
	assert.Equal(t, "/data/buffer.dat", cfg.Path)
	assert.Equal(t, 4096, cfg.Size)
	assert.Equal(t, 35, cfg.MaxTruncationPercent)
}

func TestLoadBufferConfigMissingSectionErrors(t *testing.T) {
	r := strings.NewReader("[other]\nkey=value\n")
	_, err := LoadBufferConfig(r)
	assert.ErrorIs(t, err, ErrMissingKey)
}

func TestLoadBufferConfigMissingPathErrors(t *testing.T) {
	r := strings.NewReader("[buffer]\nsize=1024\n")
	_, err := LoadBufferConfig(r)
	assert.ErrorIs(t, err, ErrMissingKey)
}

func TestLoadBufferConfigNonNumericSizeErrors(t *testing.T) {
	r := strings.NewReader("[buffer]\npath=/x\nsize=notanumber\n")
	_, err := LoadBufferConfig(r)
	assert.Error(t, err)
}

func TestParseINIRejectsMalformedLine(t *testing.T) {
	_, err := ParseINI(strings.NewReader("[buffer]\nthis is not kv\n"))
	assert.Error(t, err)
}
