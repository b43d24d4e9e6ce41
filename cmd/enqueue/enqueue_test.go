package enqueue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NightMareKD/crawler-medicine/internal/domain"
)

func TestParseMetadata(t *testing.T) {
	meta, err := parseMetadata([]string{"region=western", "language=si", "note=a=b"})
	require.NoError(t, err)

	assert.Equal(t, domain.JSONBMap{
		"region":   "western",
		"language": "si",
		"note":     "a=b",
	}, meta)
}

func TestParseMetadata_Empty(t *testing.T) {
	meta, err := parseMetadata(nil)
	require.NoError(t, err)
	assert.Nil(t, meta)
}

func TestParseMetadata_Malformed(t *testing.T) {
	_, err := parseMetadata([]string{"region"})
	assert.Error(t, err)

	_, err = parseMetadata([]string{"=value"})
	assert.Error(t, err)
}
