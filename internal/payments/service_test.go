package payments

import (
	"context"
	"encoding/json"
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

func newTestService(t *testing.T, opts ...Option) (*Service, *protect.InMemoryVault, *audit.Ledger) {
	t.Helper()
	log := logger.New(logger.ParseLevel("error"))
	ledger := audit.NewLedger(audit.NewInMemoryStore(), log)
	vault := protect.NewInMemoryVault()
	protector, err := protect.New([]byte("0123456789abcdef0123456789abcdef"), 1, vault, ledger)
	require.NoError(t, err)
	return NewService(NewInMemoryStore(), protector, ledger, log, opts...), vault, ledger
}

func clerkContext() context.Context {
	return requestcontext.WithActor(context.Background(), domain.Actor{ID: "clerk-1", Role: domain.RoleEditor})
}

func validCharge() ChargeParams {
	return ChargeParams{
		Amount:         4999,
		Currency:       "USD",
		CardholderName: "M Lopez",
		CardNumber:     "4111111111111111",
		CVV:            "123",
	}
}

func TestCharge_TokenizesCardAndKeepsLastFour(t *testing.T) {
	svc, _, ledger := newTestService(t)
	ctx := clerkContext()

	txn, err := svc.Charge(ctx, validCharge())
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, txn.Status)
	assert.Equal(t, "1111", txn.CardLastFour)
	assert.Equal(t, protect.ModeTokenized, txn.Card.Mode)
	assert.NotContains(t, txn.Card.Data, "4111111111111111")

	// The serialized record carries no card number either.
	raw, err := json.Marshal(txn)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "4111111111111111")

	entries, err := ledger.Query(ctx, audit.Filter{SubjectType: domain.DataTypeTransaction, SubjectID: txn.ID})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionCreate, entries[0].Action)
	assert.NotContains(t, entries[0].NewDigest, "4111")
}

func TestCharge_Validation(t *testing.T) {
	svc, _, _ := newTestService(t)

	cases := map[string]func(*ChargeParams){
		"zero amount":     func(p *ChargeParams) { p.Amount = 0 },
		"bad currency":    func(p *ChargeParams) { p.Currency = "DOLLARS" },
		"empty name":      func(p *ChargeParams) { p.CardholderName = "" },
		"luhn failure":    func(p *ChargeParams) { p.CardNumber = "4111111111111112" },
		"short card":      func(p *ChargeParams) { p.CardNumber = "41111111111" },
		"alpha card":      func(p *ChargeParams) { p.CardNumber = "4111x11111111111" },
		"bad cvv length":  func(p *ChargeParams) { p.CVV = "12" },
		"non-numeric cvv": func(p *ChargeParams) { p.CVV = "12a" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			params := validCharge()
			mutate(&params)
			_, err := svc.Charge(clerkContext(), params)
			assert.True(t, dErrors.Is(err, dErrors.CodeValidation))
		})
	}
}

func TestCharge_DeclinesAboveAuthorizationLimit(t *testing.T) {
	svc, _, _ := newTestService(t, WithAuthorizationLimit(5000))
	params := validCharge()
	params.Amount = 5001

	txn, err := svc.Charge(clerkContext(), params)
	require.NoError(t, err)
	assert.Equal(t, StatusDeclined, txn.Status)
}

func TestRefund_CreatesLinkedTransaction(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := clerkContext()

	original, err := svc.Charge(ctx, validCharge())
	require.NoError(t, err)

	refund, err := svc.Refund(ctx, original.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRefunded, refund.Status)
	assert.Equal(t, original.ID, refund.RefundOf)
	assert.Equal(t, original.Amount, refund.Amount)

	// History is never rewritten.
	got, err := svc.Get(ctx, original.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, got.Status)

	// A second refund conflicts.
	_, err = svc.Refund(ctx, original.ID)
	assert.True(t, dErrors.Is(err, dErrors.CodeConflict))
}

func TestRefund_OnlyApprovedTransactions(t *testing.T) {
	svc, _, _ := newTestService(t, WithAuthorizationLimit(100))
	ctx := clerkContext()

	declined, err := svc.Charge(ctx, validCharge())
	require.NoError(t, err)
	require.Equal(t, StatusDeclined, declined.Status)

	_, err = svc.Refund(ctx, declined.ID)
	assert.True(t, dErrors.Is(err, dErrors.CodeValidation))

	_, err = svc.Refund(ctx, "no-such-id")
	assert.True(t, dErrors.Is(err, dErrors.CodeNotFound))
}

func TestPurgeExpired_DestroysTokenMappingAndAudits(t *testing.T) {
	svc, _, ledger := newTestService(t)
	old := time.Date(2019, 1, 15, 0, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(clerkContext(), old)

	txn, err := svc.Charge(ctx, validCharge())
	require.NoError(t, err)

	recent := requestcontext.WithTime(clerkContext(), time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	fresh, err := svc.Charge(recent, validCharge())
	require.NoError(t, err)

	cutoff := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	purged, err := svc.PurgeExpired(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	got, err := svc.Get(context.Background(), txn.ID)
	require.NoError(t, err)
	assert.True(t, got.Card.Scrubbed)
	assert.Empty(t, got.CardholderName)
	assert.Equal(t, "1111", got.CardLastFour)

	keep, err := svc.Get(context.Background(), fresh.ID)
	require.NoError(t, err)
	assert.False(t, keep.Card.Scrubbed)

	entries, err := ledger.Query(context.Background(), audit.Filter{Actions: []audit.Action{audit.ActionPurge}})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, txn.ID, entries[0].SubjectID)
	assert.Equal(t, audit.OutcomeOK, entries[0].Outcome)
}

func TestPurgeExpired_Idempotent(t *testing.T) {
	svc, _, _ := newTestService(t)
	old := time.Date(2019, 1, 15, 0, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(clerkContext(), old)

	_, err := svc.Charge(ctx, validCharge())
	require.NoError(t, err)

	cutoff := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	purged, err := svc.PurgeExpired(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	// A second pass finds nothing to do.
	purged, err = svc.PurgeExpired(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, 0, purged)
}
