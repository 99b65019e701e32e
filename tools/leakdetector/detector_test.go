package leakdetector_test

import (
	"testing"
	"time"

	"github.com/sammcj/toolbridge/tools/leakdetector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetector(t *testing.T) {
	d := leakdetector.New(0, time.Minute)
	defer d.Close()

	first := d.Track("add")
	second := d.Track("multiply")
	assert.NotEqual(t, first, second)
	assert.Equal(t, 2, d.InFlight())

	assert.Empty(t, d.Check(time.Now()))

	stuck := d.Check(time.Now().Add(2 * time.Minute))
	require.Len(t, stuck, 2)
	assert.Equal(t, first, stuck[0].ID)
	assert.Equal(t, "add", stuck[0].Label)
	assert.NotEmpty(t, stuck[0].Stack)

	d.Done(first)
	stuck = d.Check(time.Now().Add(2 * time.Minute))
	require.Len(t, stuck, 1)
	assert.Equal(t, "multiply", stuck[0].Label)

	d.Done(second)
	assert.Equal(t, 0, d.InFlight())

	require.NoError(t, d.Close())
	require.NoError(t, d.Close())
}
