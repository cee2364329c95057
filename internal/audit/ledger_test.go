package audit_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custodia/internal/audit"
	"custodia/internal/platform/logger"
	"custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/sentinel"
)

func newLedger(opts ...audit.Option) (*audit.Ledger, *audit.InMemoryStore) {
	store := audit.NewInMemoryStore()
	return audit.NewLedger(store, logger.New(logger.ParseLevel("error")), opts...), store
}

func TestAppend_AssignsDefaultsAndSequence(t *testing.T) {
	ledger, _ := newLedger()
	ctx := context.Background()

	seq, err := ledger.Append(ctx, audit.Entry{
		Actor:       "ops-1",
		Action:      audit.ActionCreate,
		SubjectType: domain.DataTypeUser,
		SubjectID:   "u-1",
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)

	entries, err := ledger.Query(ctx, audit.Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.NotZero(t, entries[0].ID)
	assert.False(t, entries[0].Timestamp.IsZero())
	assert.Equal(t, audit.OutcomeOK, entries[0].Outcome)
}

func TestAppend_ConcurrentWritersNoGaps(t *testing.T) {
	ledger, _ := newLedger()
	ctx := context.Background()

	const writers = 8
	const perWriter = 50

	var mu sync.Mutex
	var seqs []uint64
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				seq, err := ledger.Append(ctx, audit.Entry{
					Actor:       fmt.Sprintf("writer-%d", w),
					Action:      audit.ActionUpdate,
					SubjectType: domain.DataTypePatient,
					SubjectID:   fmt.Sprintf("P%d-%d", w, i),
				})
				if err != nil {
					t.Error(err)
					return
				}
				mu.Lock()
				seqs = append(seqs, seq)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()

	require.Len(t, seqs, writers*perWriter)
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	for i, seq := range seqs {
		assert.Equal(t, uint64(i+1), seq, "sequence must be gap-free and strictly increasing")
	}
}

func TestQuery_FilterAndCursor(t *testing.T) {
	ledger, _ := newLedger()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := ledger.Append(ctx, audit.Entry{
			Actor:       "ops-1",
			Action:      audit.ActionRead,
			SubjectType: domain.DataTypePatient,
			SubjectID:   "P1",
		})
		require.NoError(t, err)
	}
	_, err := ledger.Append(ctx, audit.Entry{
		Actor:       "ops-1",
		Action:      audit.ActionCreate,
		SubjectType: domain.DataTypeUser,
		SubjectID:   "u-1",
	})
	require.NoError(t, err)

	// Subject filter.
	entries, err := ledger.Query(ctx, audit.Filter{SubjectType: domain.DataTypePatient, SubjectID: "P1"})
	require.NoError(t, err)
	assert.Len(t, entries, 5)

	// Restartable cursor: resume after the third entry.
	page, err := ledger.Query(ctx, audit.Filter{SubjectType: domain.DataTypePatient, AfterSeq: 3})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, uint64(4), page[0].Seq)
	assert.Equal(t, uint64(5), page[1].Seq)

	// Action filter.
	creates, err := ledger.Query(ctx, audit.Filter{Actions: []audit.Action{audit.ActionCreate}})
	require.NoError(t, err)
	require.Len(t, creates, 1)
	assert.Equal(t, "u-1", creates[0].SubjectID)
}

func TestQuery_TimeRange(t *testing.T) {
	ledger, _ := newLedger()
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour)
	_, err := ledger.Append(ctx, audit.Entry{
		Timestamp: old, Actor: "ops-1", Action: audit.ActionCreate,
		SubjectType: domain.DataTypeUser, SubjectID: "u-old",
	})
	require.NoError(t, err)
	_, err = ledger.Append(ctx, audit.Entry{
		Actor: "ops-1", Action: audit.ActionCreate,
		SubjectType: domain.DataTypeUser, SubjectID: "u-new",
	})
	require.NoError(t, err)

	since := time.Now().Add(-time.Hour)
	recent, err := ledger.Query(ctx, audit.Filter{From: &since})
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "u-new", recent[0].SubjectID)
}

type failingStore struct{}

func (failingStore) Append(context.Context, audit.Entry) (uint64, error) {
	return 0, sentinel.ErrUnavailable
}
func (failingStore) Query(context.Context, audit.Filter) ([]audit.Entry, error) {
	return nil, sentinel.ErrUnavailable
}
func (failingStore) LastSeq(context.Context) (uint64, error) {
	return 0, sentinel.ErrUnavailable
}

func TestAppend_StoreFailureSurfacesUnavailable(t *testing.T) {
	ledger := audit.NewLedger(failingStore{}, logger.New(logger.ParseLevel("error")))
	_, err := ledger.Append(context.Background(), audit.Entry{
		Actor: "ops-1", Action: audit.ActionCreate,
		SubjectType: domain.DataTypeUser, SubjectID: "u-1",
	})
	assert.True(t, dErrors.Is(err, dErrors.CodeUnavailable))
}

type captureMirror struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (m *captureMirror) Publish(_ context.Context, e audit.Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
}

func TestAppend_MirrorReceivesSequencedEntry(t *testing.T) {
	mirror := &captureMirror{}
	ledger, _ := newLedger(audit.WithMirror(mirror))

	seq, err := ledger.Append(context.Background(), audit.Entry{
		Actor: "ops-1", Action: audit.ActionConsent,
		SubjectType: domain.DataTypePatient, SubjectID: "P1",
	})
	require.NoError(t, err)

	mirror.mu.Lock()
	defer mirror.mu.Unlock()
	require.Len(t, mirror.entries, 1)
	assert.Equal(t, seq, mirror.entries[0].Seq)
}
