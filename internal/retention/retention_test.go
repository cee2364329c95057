package retention

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custodia/internal/audit"
	"custodia/internal/payments"
	"custodia/internal/platform/logger"
	"custodia/internal/protect"
	"custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/requestcontext"
)

func adminContext() context.Context {
	return requestcontext.WithActor(context.Background(), domain.Actor{
		ID:           "admin-1",
		Role:         domain.RoleAdmin,
		Capabilities: []domain.Capability{domain.CapModifyPolicy},
	})
}

func TestSetPolicy_CapabilityGatedAndAudited(t *testing.T) {
	log := logger.New(logger.ParseLevel("error"))
	ledger := audit.NewLedger(audit.NewInMemoryStore(), log)
	svc := NewService(NewInMemoryStore(Defaults(2555)...), ledger, log)

	// Without the capability the table is untouchable, role notwithstanding.
	plain := requestcontext.WithActor(context.Background(), domain.Actor{ID: "admin-2", Role: domain.RoleAdmin})
	_, err := svc.SetPolicy(plain, domain.DataTypeTransaction, 30)
	assert.True(t, dErrors.Is(err, dErrors.CodePermissionDenied))

	policy, err := svc.SetPolicy(adminContext(), domain.DataTypeTransaction, 30)
	require.NoError(t, err)
	assert.Equal(t, 30, policy.MaxAgeDays)
	assert.Equal(t, 2, policy.Version)
	assert.Equal(t, "admin-1", policy.UpdatedBy)

	entries, err := ledger.Query(context.Background(), audit.Filter{Actions: []audit.Action{audit.ActionPolicyChange}})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, string(domain.DataTypeTransaction), entries[0].SubjectID)
}

func TestSetPolicy_Validation(t *testing.T) {
	log := logger.New(logger.ParseLevel("error"))
	ledger := audit.NewLedger(audit.NewInMemoryStore(), log)
	svc := NewService(NewInMemoryStore(), ledger, log)

	_, err := svc.SetPolicy(adminContext(), domain.DataType("invoice"), 10)
	assert.True(t, dErrors.Is(err, dErrors.CodeValidation))

	// Consent records follow the ledger's lifetime, not a purge policy.
	_, err = svc.SetPolicy(adminContext(), domain.DataTypeConsent, 10)
	assert.True(t, dErrors.Is(err, dErrors.CodeValidation))

	_, err = svc.SetPolicy(adminContext(), domain.DataTypeTransaction, -1)
	assert.True(t, dErrors.Is(err, dErrors.CodeValidation))
}

// The end-to-end retention scenario: a 30-day transaction policy purges a
// 31-day-old record's card payload on the next sweep while the audit trail
// survives.
func TestSweep_PurgesExpiredTransactions(t *testing.T) {
	log := logger.New(logger.ParseLevel("error"))
	ledger := audit.NewLedger(audit.NewInMemoryStore(), log)
	protector, err := protect.New([]byte("0123456789abcdef0123456789abcdef"), 1, protect.NewInMemoryVault(), ledger)
	require.NoError(t, err)
	paySvc := payments.NewService(payments.NewInMemoryStore(), protector, ledger, log)

	charged := requestcontext.WithActor(context.Background(), domain.Actor{ID: "clerk-1", Role: domain.RoleEditor})
	charged = requestcontext.WithTime(charged, time.Now().AddDate(0, 0, -31))
	txn, err := paySvc.Charge(charged, payments.ChargeParams{
		Amount:         1200,
		Currency:       "USD",
		CardholderName: "M Lopez",
		CardNumber:     "4111111111111111",
		CVV:            "123",
	})
	require.NoError(t, err)

	policies := NewInMemoryStore(Defaults(2555)...)
	policySvc := NewService(policies, ledger, log)
	_, err = policySvc.SetPolicy(adminContext(), domain.DataTypeTransaction, 30)
	require.NoError(t, err)

	sched := NewScheduler(policies, []Target{paySvc}, time.Hour, time.Minute, log)
	require.NoError(t, sched.Sweep(context.Background()))

	got, err := paySvc.Get(context.Background(), txn.ID)
	require.NoError(t, err)
	assert.True(t, got.Card.Scrubbed)

	entries, err := ledger.Query(context.Background(), audit.Filter{Actions: []audit.Action{audit.ActionPurge}})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "system", entries[0].Actor)
	assert.Equal(t, txn.ID, entries[0].SubjectID)

	// The trail for the purged record is still queryable.
	trail, err := ledger.Query(context.Background(), audit.Filter{SubjectID: txn.ID})
	require.NoError(t, err)
	assert.Len(t, trail, 2)
}

func TestSweep_IndefinitePolicySkipsTarget(t *testing.T) {
	log := logger.New(logger.ParseLevel("error"))
	target := &recordingTarget{dataType: domain.DataTypePatient}
	policies := NewInMemoryStore(Defaults(2555)...)

	sched := NewScheduler(policies, []Target{target}, time.Hour, time.Minute, log)
	require.NoError(t, sched.Sweep(context.Background()))
	assert.Zero(t, target.calls)
}

func TestSweep_TargetFailureIsNotFatal(t *testing.T) {
	log := logger.New(logger.ParseLevel("error"))
	failing := &recordingTarget{dataType: domain.DataTypeTransaction, err: assert.AnError}
	policies := NewInMemoryStore(Defaults(2555)...)

	sched := NewScheduler(policies, []Target{failing}, time.Hour, time.Minute, log)
	err := sched.Sweep(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 1, failing.calls)
}

func TestRun_StopsOnCancellation(t *testing.T) {
	log := logger.New(logger.ParseLevel("error"))
	policies := NewInMemoryStore(Defaults(2555)...)
	sched := NewScheduler(policies, nil, 5*time.Millisecond, time.Minute, log)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after cancellation")
	}
}

type recordingTarget struct {
	dataType domain.DataType
	calls    int
	err      error
}

func (r *recordingTarget) DataType() domain.DataType { return r.dataType }

func (r *recordingTarget) PurgeExpired(context.Context, time.Time) (int, error) {
	r.calls++
	return 0, r.err
}
