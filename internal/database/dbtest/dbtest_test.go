package dbtest

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecoverDocker(t *testing.T) {
	err := recoverDocker(func() error { panic("rootless Docker not found") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rootless Docker not found")

	boom := errors.New("pull failed")
	assert.ErrorIs(t, recoverDocker(func() error { return boom }), boom)
	assert.NoError(t, recoverDocker(func() error { return nil }))
}
