package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeInsights(t *testing.T) {
	insights, err := decodeInsights(strings.NewReader(`[
		{"id": "i1", "container_id": "c1", "category": "anomaly"},
		{"id": "i2", "container_id": "c1", "category": "anomaly"}
	]`))
	require.NoError(t, err)
	require.Len(t, insights, 2)
	assert.Equal(t, "i2", insights[1].ID)

	_, err = decodeInsights(strings.NewReader(`[{"id": "i1"}, {"container_id": "c1"}]`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insights[1] has no id")

	_, err = decodeInsights(strings.NewReader(`{"id": "i1"}`))
	assert.Error(t, err)
}
