package users

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custodia/internal/audit"
	"custodia/internal/platform/logger"
	"custodia/internal/protect"
	"custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/requestcontext"
)

func newTestService(t *testing.T) (*Service, *audit.Ledger) {
	t.Helper()
	log := logger.New(logger.ParseLevel("error"))
	ledger := audit.NewLedger(audit.NewInMemoryStore(), log)
	protector, err := protect.New([]byte("0123456789abcdef0123456789abcdef"), 1, protect.NewInMemoryVault(), ledger)
	require.NoError(t, err)
	return NewService(NewInMemoryStore(), protector, ledger, log), ledger
}

func adminContext() context.Context {
	return requestcontext.WithActor(context.Background(), domain.Actor{ID: "admin-1", Role: domain.RoleAdmin})
}

func validParams() CreateParams {
	return CreateParams{
		Username: "mlopez",
		Email:    "mlopez@example.com",
		Role:     domain.RoleEditor,
		Password: "correct horse battery",
	}
}

func TestCreate_HashesPasswordAndAudits(t *testing.T) {
	svc, ledger := newTestService(t)
	ctx := adminContext()

	user, err := svc.Create(ctx, validParams())
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)
	assert.True(t, user.Active)
	assert.Equal(t, protect.ModeHashed, user.Password.Mode)
	assert.NotContains(t, user.Password.Data, "correct horse battery")

	entries, err := ledger.Query(ctx, audit.Filter{SubjectType: domain.DataTypeUser, SubjectID: user.ID})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionCreate, entries[0].Action)
	assert.Equal(t, "admin-1", entries[0].Actor)
	assert.NotEmpty(t, entries[0].NewDigest)
}

func TestCreate_Validation(t *testing.T) {
	svc, _ := newTestService(t)

	cases := map[string]func(*CreateParams){
		"empty username": func(p *CreateParams) { p.Username = "" },
		"bad email":      func(p *CreateParams) { p.Email = "not-an-address" },
		"bad role":       func(p *CreateParams) { p.Role = "owner" },
		"short password": func(p *CreateParams) { p.Password = "short" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			params := validParams()
			mutate(&params)
			_, err := svc.Create(adminContext(), params)
			assert.True(t, dErrors.Is(err, dErrors.CodeValidation))
		})
	}
}

func TestCreate_DuplicateUsernameConflicts(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := adminContext()

	_, err := svc.Create(ctx, validParams())
	require.NoError(t, err)

	params := validParams()
	params.Email = "other@example.com"
	_, err = svc.Create(ctx, params)
	assert.True(t, dErrors.Is(err, dErrors.CodeConflict))
}

func TestUpdate_AuditsDigestTransition(t *testing.T) {
	svc, ledger := newTestService(t)
	ctx := adminContext()

	user, err := svc.Create(ctx, validParams())
	require.NoError(t, err)

	newRole := domain.RoleViewer
	updated, err := svc.Update(ctx, user.ID, UpdateParams{Role: &newRole})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleViewer, updated.Role)

	entries, err := ledger.Query(ctx, audit.Filter{SubjectID: user.ID, Actions: []audit.Action{audit.ActionUpdate}})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.NotEmpty(t, entries[0].PrevDigest)
	assert.NotEmpty(t, entries[0].NewDigest)
	assert.NotEqual(t, entries[0].PrevDigest, entries[0].NewDigest)
}

func TestUpdate_UnknownID(t *testing.T) {
	svc, _ := newTestService(t)
	email := "new@example.com"
	_, err := svc.Update(adminContext(), "no-such-id", UpdateParams{Email: &email})
	assert.True(t, dErrors.Is(err, dErrors.CodeNotFound))
}

func TestDeactivate_SoftDeleteKeepsRecordAndTrail(t *testing.T) {
	svc, ledger := newTestService(t)
	ctx := adminContext()

	user, err := svc.Create(ctx, validParams())
	require.NoError(t, err)

	require.NoError(t, svc.Deactivate(ctx, user.ID))

	got, err := svc.Get(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)

	// A second deactivation is a recorded no-op.
	require.NoError(t, svc.Deactivate(ctx, user.ID))

	entries, err := ledger.Query(ctx, audit.Filter{SubjectID: user.ID, Actions: []audit.Action{audit.ActionDelete}})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, audit.OutcomeOK, entries[0].Outcome)
	assert.Equal(t, audit.OutcomeNoop, entries[1].Outcome)
}

func TestList_NeverReturnsPasswordMaterial(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := adminContext()

	_, err := svc.Create(ctx, validParams())
	require.NoError(t, err)

	out, err := svc.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.True(t, out[0].Password.IsZero())
}

func TestAuthenticate_OutcomesAreAudited(t *testing.T) {
	svc, ledger := newTestService(t)
	ctx := adminContext()

	user, err := svc.Create(ctx, validParams())
	require.NoError(t, err)

	got, err := svc.Authenticate(ctx, "mlopez", "correct horse battery")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	_, err = svc.Authenticate(ctx, "mlopez", "wrong")
	assert.True(t, dErrors.Is(err, dErrors.CodeUnauthorized))

	_, err = svc.Authenticate(ctx, "nobody", "whatever")
	assert.True(t, dErrors.Is(err, dErrors.CodeUnauthorized))

	entries, err := ledger.Query(ctx, audit.Filter{Actions: []audit.Action{audit.ActionAuth}})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, audit.OutcomeOK, entries[0].Outcome)
	assert.Equal(t, audit.OutcomeDenied, entries[1].Outcome)
	assert.Equal(t, audit.OutcomeDenied, entries[2].Outcome)
}

func TestAuthenticate_InactiveAccountDenied(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := adminContext()

	user, err := svc.Create(ctx, validParams())
	require.NoError(t, err)
	require.NoError(t, svc.Deactivate(ctx, user.ID))

	_, err = svc.Authenticate(ctx, "mlopez", "correct horse battery")
	assert.True(t, dErrors.Is(err, dErrors.CodeUnauthorized))
}

func TestPurgeExpired_ScrubsDeactivatedAccounts(t *testing.T) {
	svc, ledger := newTestService(t)
	old := time.Date(2019, 3, 10, 0, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(adminContext(), old)

	user, err := svc.Create(ctx, validParams())
	require.NoError(t, err)
	require.NoError(t, svc.Deactivate(ctx, user.ID))

	assert.Equal(t, domain.DataTypeUser, svc.DataType())

	cutoff := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	purged, err := svc.PurgeExpired(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	got, err := svc.Get(context.Background(), user.ID)
	require.NoError(t, err)
	assert.True(t, got.Purged)
	assert.False(t, got.Active)
	assert.NotContains(t, got.Username, "mlopez")
	assert.NotContains(t, got.Email, "mlopez")
	assert.True(t, got.Password.Scrubbed)
	assert.Empty(t, got.Password.Data)

	entries, err := ledger.Query(context.Background(), audit.Filter{Actions: []audit.Action{audit.ActionPurge}})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, user.ID, entries[0].SubjectID)
	assert.Equal(t, audit.OutcomeOK, entries[0].Outcome)
	assert.NotEqual(t, entries[0].PrevDigest, entries[0].NewDigest)
}

func TestPurgeExpired_SkipsActiveAndRecentAccounts(t *testing.T) {
	svc, _ := newTestService(t)
	old := time.Date(2019, 3, 10, 0, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(adminContext(), old)

	// Active, even though ancient.
	active, err := svc.Create(ctx, validParams())
	require.NoError(t, err)

	// Deactivated, but inside the retention window.
	recent := requestcontext.WithTime(adminContext(), time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	fresh, err := svc.Create(recent, CreateParams{
		Username: "tchen",
		Email:    "tchen@example.com",
		Role:     domain.RoleViewer,
		Password: "another long passphrase",
	})
	require.NoError(t, err)
	require.NoError(t, svc.Deactivate(recent, fresh.ID))

	cutoff := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	purged, err := svc.PurgeExpired(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, 0, purged)

	got, err := svc.Get(context.Background(), active.ID)
	require.NoError(t, err)
	assert.Equal(t, "mlopez", got.Username)
	got, err = svc.Get(context.Background(), fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, "tchen@example.com", got.Email)
}

func TestPurgeExpired_SecondPassFindsNothing(t *testing.T) {
	svc, _ := newTestService(t)
	old := time.Date(2019, 3, 10, 0, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(adminContext(), old)

	user, err := svc.Create(ctx, validParams())
	require.NoError(t, err)
	require.NoError(t, svc.Deactivate(ctx, user.ID))

	cutoff := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	purged, err := svc.PurgeExpired(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	purged, err = svc.PurgeExpired(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, 0, purged)
}
