package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	m := New()
	require.NotNil(t, m.Registry)

	m.SharesCreated.Inc()
	m.SharesDestroyed.WithLabelValues("expired").Add(2)
	m.ActiveShares.Set(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SharesCreated))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SharesDestroyed.WithLabelValues("expired")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ActiveShares))
}

func TestNew_IndependentRegistries(t *testing.T) {
	a := New()
	b := New()

	a.FileDownloads.Inc()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.FileDownloads))

	families, err := a.Registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
