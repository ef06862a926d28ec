package ceremony_test

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clrfund/setup-mpc-ui/internal/ceremony"
	"github.com/clrfund/setup-mpc-ui/internal/persistence"
)

// testStore connects to the database named by TEST_DATABASE_DSN and applies
// the schema. Tests are skipped when the variable is unset so the suite
// runs without a database.
func testStore(t *testing.T) *ceremony.PostgresStore {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("TEST_DATABASE_DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, persistence.Migrate(context.Background(), db))
	return ceremony.NewPostgresStore(db)
}

func seedCeremony(t *testing.T, store *ceremony.PostgresStore) *ceremony.Ceremony {
	t.Helper()

	c := &ceremony.Ceremony{
		ID:           uuid.New().String(),
		Title:        "circuit-under-test",
		State:        ceremony.StateRunning,
		StartTime:    time.Now().UTC(),
		CurrentIndex: 1,
	}
	require.NoError(t, store.SaveCeremony(context.Background(), c))
	return c
}

func seedParticipant(t *testing.T, store *ceremony.PostgresStore) *ceremony.Participant {
	t.Helper()

	p := ceremony.NewParticipant(uuid.New().String(), "auth-"+uuid.New().String(), time.Now().UTC())
	require.NoError(t, store.SaveParticipant(context.Background(), p))
	return p
}

func TestJoinQueueIsIdempotent(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	cer := seedCeremony(t, store)
	first := seedParticipant(t, store)
	second := seedParticipant(t, store)

	c1, err := store.JoinQueue(ctx, cer.ID, first.UID)
	require.NoError(t, err)
	assert.Equal(t, 1, c1.QueueIndex)

	// A repeat join, as after a failed attempt, returns the held
	// assignment instead of allocating a fresh slot.
	again, err := store.JoinQueue(ctx, cer.ID, first.UID)
	require.NoError(t, err)
	assert.Equal(t, c1.QueueIndex, again.QueueIndex)

	c2, err := store.JoinQueue(ctx, cer.ID, second.UID)
	require.NoError(t, err)
	assert.Equal(t, 2, c2.QueueIndex)

	// No slot was orphaned by the repeat join.
	loaded, err := store.GetCeremony(ctx, cer.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.LastQueueIndex)
}

func TestJoinQueueUnknownCeremony(t *testing.T) {
	store := testStore(t)
	p := seedParticipant(t, store)

	_, err := store.JoinQueue(context.Background(), uuid.New().String(), p.UID)
	require.Error(t, err)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestLastValidIndexFollowsCompletions(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	cer := seedCeremony(t, store)
	first := seedParticipant(t, store)
	second := seedParticipant(t, store)

	index, err := store.LastValidIndex(ctx, cer.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, index)

	c1, err := store.JoinQueue(ctx, cer.ID, first.UID)
	require.NoError(t, err)
	c1.Status = ceremony.ContributionRunning
	c1.StartTime = time.Now().UTC()
	c1.LastSeen = c1.StartTime
	require.NoError(t, store.StartContribution(ctx, c1))

	c1.Hash = "abc123"
	c1.ParamsFile = cer.ID + "/1"
	_, err = store.CompleteContribution(ctx, c1)
	require.NoError(t, err)

	index, err = store.LastValidIndex(ctx, cer.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, index)

	// An invalidated turn never becomes the chain head.
	c2, err := store.JoinQueue(ctx, cer.ID, second.UID)
	require.NoError(t, err)
	c2.Status = ceremony.ContributionRunning
	c2.StartTime = time.Now().UTC()
	c2.LastSeen = c2.StartTime
	require.NoError(t, store.StartContribution(ctx, c2))
	_, err = store.InvalidateContribution(ctx, cer.ID, second.UID)
	require.NoError(t, err)

	index, err = store.LastValidIndex(ctx, cer.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, index)
}
