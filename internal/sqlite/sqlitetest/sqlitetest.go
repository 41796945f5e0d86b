// Package sqlitetest gives tests a migrated in-memory catalog.
package sqlitetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ChadFarrow/stablekraft-app-sub011/internal/migrations"
	"github.com/ChadFarrow/stablekraft-app-sub011/internal/sqlite"
)

func New(t *testing.T) sqlite.Repo {
	t.Helper()

	dbx, err := sqlite.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { dbx.Close() })

	require.NoError(t, migrations.Run(dbx))

	return sqlite.New(dbx)
}
