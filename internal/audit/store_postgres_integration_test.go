//go:build integration

package audit_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custodia/internal/audit"
	"custodia/pkg/domain"
	"custodia/pkg/testutil/containers"
)

func newPostgresLedgerStore(t *testing.T) *audit.PostgresStore {
	t.Helper()
	pg := containers.NewPostgresContainer(t)
	require.NoError(t, pg.Apply(context.Background(), audit.Schema()))
	return audit.NewPostgresStore(pg.DB)
}

func TestPostgresStoreConcurrentAppendsAreGapFree(t *testing.T) {
	store := newPostgresLedgerStore(t)
	ctx := context.Background()

	const writers = 8
	const perWriter = 25

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				entry := audit.Entry{
					Actor:       "writer",
					Action:      audit.ActionCreate,
					SubjectType: domain.DataTypeUser,
					SubjectID:   "subject",
					Outcome:     audit.OutcomeOK,
				}
				_, err := store.Append(ctx, entry)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	last, err := store.LastSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(writers*perWriter), last)

	// Every sequence between 1 and last must be present exactly once.
	seen := make(map[uint64]bool)
	var after uint64
	for {
		page, err := store.Query(ctx, audit.Filter{AfterSeq: after, Limit: 50})
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		for _, e := range page {
			assert.False(t, seen[e.Seq], "duplicate seq %d", e.Seq)
			seen[e.Seq] = true
			after = e.Seq
		}
	}
	for seq := uint64(1); seq <= last; seq++ {
		assert.True(t, seen[seq], "missing seq %d", seq)
	}
}

func TestPostgresStoreQueryFilters(t *testing.T) {
	store := newPostgresLedgerStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	entries := []audit.Entry{
		{Actor: "a", Action: audit.ActionCreate, SubjectType: domain.DataTypePatient, SubjectID: "MRN-1", Timestamp: base, Outcome: audit.OutcomeOK},
		{Actor: "a", Action: audit.ActionRead, SubjectType: domain.DataTypePatient, SubjectID: "MRN-1", Timestamp: base.Add(time.Minute), Outcome: audit.OutcomeOK},
		{Actor: "b", Action: audit.ActionCreate, SubjectType: domain.DataTypeTransaction, SubjectID: "tx-1", Timestamp: base.Add(2 * time.Minute), Outcome: audit.OutcomeOK},
	}
	for _, e := range entries {
		_, err := store.Append(ctx, e)
		require.NoError(t, err)
	}

	got, err := store.Query(ctx, audit.Filter{SubjectType: domain.DataTypePatient, SubjectID: "MRN-1"})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = store.Query(ctx, audit.Filter{Actions: []audit.Action{audit.ActionRead}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "MRN-1", got[0].SubjectID)

	from := base.Add(90 * time.Second)
	got, err = store.Query(ctx, audit.Filter{From: &from})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "tx-1", got[0].SubjectID)
}
