package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/concord/pkg/types"
)

func TestOpen(t *testing.T) {
	var _ types.Backend = NewBackend(nil)

	b, err := Open(types.Config{Backend: types.BackendSQLite, DataDir: t.TempDir()}, nil)
	require.NoError(t, err)
	defer b.Detach()

	schema, err := ParseLayers([]byte("layers:\n  - name: NE\n    kind: span\n"))
	require.NoError(t, err)
	require.NoError(t, b.PutLayers(context.Background(), schema))

	got, err := b.LayerSchema(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"NE"}, got.Names())
}

func TestOpenInvalidConfig(t *testing.T) {
	_, err := Open(types.Config{Backend: "postgres", DataDir: t.TempDir()}, nil)
	assert.True(t, errors.Is(err, types.ErrBackendUnknown))
}
