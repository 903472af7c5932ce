package aggregate_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentcore/runtime/internal/aggregate"
)

func TestNewEmptyReturnsNil(t *testing.T) {
	require.NoError(t, aggregate.New(nil))
	require.NoError(t, aggregate.New([]error{nil, nil}))
}

func TestNewCollectsNonNilFailures(t *testing.T) {
	e1 := errors.New("release a failed")
	e2 := errors.New("release b failed")

	err := aggregate.New([]error{e1, nil, e2})
	require.Error(t, err)

	var agg *aggregate.Error
	require.ErrorAs(t, err, &agg)
	require.Equal(t, 2, agg.Count())
	require.True(t, errors.Is(err, e1))
	require.True(t, errors.Is(err, e2))
}
