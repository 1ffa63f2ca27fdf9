package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tonearm/tonearm/pkg/eventsourcing"
	"github.com/tonearm/tonearm/pkg/sqlite"
)

func TestCheckpointStore(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore(t)

	checkpoints, err := sqlite.NewCheckpointStore(store.DB(),
		sqlite.WithCheckpointAutoMigrate(true))
	require.NoError(t, err)

	t.Run("LoadUnknownReturnsZero", func(t *testing.T) {
		cp, err := checkpoints.Load(ctx, "never-saved")
		require.NoError(t, err)
		require.Equal(t, int64(0), cp.LastEventID)
	})

	t.Run("SaveThenLoad", func(t *testing.T) {
		err := checkpoints.Save(ctx, eventsourcing.Checkpoint{
			Name:        "liked_songs",
			LastEventID: 42,
			UpdatedAt:   time.Now(),
		})
		require.NoError(t, err)

		cp, err := checkpoints.Load(ctx, "liked_songs")
		require.NoError(t, err)
		require.Equal(t, int64(42), cp.LastEventID)
	})

	t.Run("SaveUpserts", func(t *testing.T) {
		for _, id := range []int64{10, 20, 30} {
			err := checkpoints.Save(ctx, eventsourcing.Checkpoint{
				Name:        "playlists",
				LastEventID: id,
				UpdatedAt:   time.Now(),
			})
			require.NoError(t, err)
		}

		cp, err := checkpoints.Load(ctx, "playlists")
		require.NoError(t, err)
		require.Equal(t, int64(30), cp.LastEventID)
	})

	t.Run("SaveInTxCommitsWithProjectionWrite", func(t *testing.T) {
		db := store.DB()
		_, err := db.Exec(`CREATE TABLE tx_probe (id INTEGER PRIMARY KEY)`)
		require.NoError(t, err)

		tx, err := db.Begin()
		require.NoError(t, err)
		_, err = tx.Exec(`INSERT INTO tx_probe (id) VALUES (1)`)
		require.NoError(t, err)
		err = checkpoints.SaveInTx(tx, eventsourcing.Checkpoint{
			Name:        "tx_probe",
			LastEventID: 7,
			UpdatedAt:   time.Now(),
		})
		require.NoError(t, err)
		require.NoError(t, tx.Rollback())

		// Rolled back together: neither the row nor the checkpoint landed.
		var count int
		require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM tx_probe`).Scan(&count))
		require.Equal(t, 0, count)

		cp, err := checkpoints.Load(ctx, "tx_probe")
		require.NoError(t, err)
		require.Equal(t, int64(0), cp.LastEventID)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, checkpoints.Save(ctx, eventsourcing.Checkpoint{
			Name:        "doomed",
			LastEventID: 5,
			UpdatedAt:   time.Now(),
		}))
		require.NoError(t, checkpoints.Delete(ctx, "doomed"))

		cp, err := checkpoints.Load(ctx, "doomed")
		require.NoError(t, err)
		require.Equal(t, int64(0), cp.LastEventID)
	})
}
