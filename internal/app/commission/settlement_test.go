package commission

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"github.com/sifan077/PowerTrack/internal/app/apperr"
	"github.com/sifan077/PowerTrack/internal/app/model"
	"github.com/sifan077/PowerTrack/internal/app/pipeline"
	"github.com/sifan077/PowerTrack/internal/app/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockCampaignRepository struct {
	campaigns map[string]*model.Campaign
	err       error
}

func (m *mockCampaignRepository) GetByID(_ context.Context, id string) (*model.Campaign, error) {
	if m.err != nil {
		return nil, m.err
	}
	c, ok := m.campaigns[id]
	if !ok {
		return nil, eris.Wrapf(apperr.ErrCampaignNotFound, "campaign %s", id)
	}
	return c, nil
}

type mockCommissionRepository struct {
	rows     map[string]*model.Commission
	createFn func(*model.Commission) (bool, error)
}

func (m *mockCommissionRepository) Create(_ context.Context, c *model.Commission) (bool, error) {
	if m.createFn != nil {
		return m.createFn(c)
	}
	if _, ok := m.rows[c.ConversionID]; ok {
		return false, nil
	}
	m.rows[c.ConversionID] = c
	return true, nil
}

func (m *mockCommissionRepository) GetByConversionID(_ context.Context, id string) (*model.Commission, error) {
	c, ok := m.rows[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return c, nil
}

type settlementEnv struct {
	mr          *miniredis.Miniredis
	rdb         *redis.Client
	campaigns   *mockCampaignRepository
	commissions *mockCommissionRepository
	failures    *pipeline.FailureLog
	settlement  *Settlement
}

func newSettlementEnv(t *testing.T) *settlementEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	campaigns := &mockCampaignRepository{campaigns: map[string]*model.Campaign{
		"camp-pct": {ID: "camp-pct", CommissionRule: model.CommissionRule{Type: model.CommissionPercentage, Value: 10}},
		"camp-sub": {ID: "camp-sub", CommissionRule: model.CommissionRule{
			Type:      model.CommissionRecurring,
			Value:     20,
			Recurring: &model.RecurringRules{Duration: 6, FirstMonthBonus: 5},
		}},
		"camp-bad": {ID: "camp-bad", CommissionRule: model.CommissionRule{Type: "bounty"}},
	}}
	commissions := &mockCommissionRepository{rows: map[string]*model.Commission{}}
	failures := pipeline.NewFailureLog(rdb, 100)

	return &settlementEnv{
		mr:          mr,
		rdb:         rdb,
		campaigns:   campaigns,
		commissions: commissions,
		failures:    failures,
		settlement: NewSettlement(SettlementDeps{
			Service:     NewService(campaigns),
			Commissions: commissions,
			Redis:       rdb,
			Failures:    failures,
			Batch:       10,
		}),
	}
}

func (e *settlementEnv) enqueue(t *testing.T, pending ...model.PendingCommission) {
	t.Helper()
	for _, p := range pending {
		data, err := json.Marshal(p)
		require.NoError(t, err)
		require.NoError(t, e.rdb.LPush(context.Background(), store.KeyPendingCommissions, data).Err())
	}
}

func pendingSale(conversionID, campaignID string, value float64) model.PendingCommission {
	return model.PendingCommission{
		EventID:      "evt-" + conversionID,
		ConversionID: conversionID,
		AffiliateID:  "aff-a",
		CampaignID:   campaignID,
		Value:        value,
		Currency:     "USD",
		Type:         model.ConversionSale,
	}
}

func TestSettlement_SettlesQueuedCommissions(t *testing.T) {
	env := newSettlementEnv(t)
	env.enqueue(t, pendingSale("conv-1", "camp-pct", 1000), pendingSale("conv-2", "camp-pct", 250))

	settled, err := env.settlement.SettleOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, settled)

	require.Contains(t, env.commissions.rows, "conv-1")
	c := env.commissions.rows["conv-1"]
	assert.Equal(t, 100.0, c.Value)
	assert.Equal(t, "aff-a", c.AffiliateID)
	assert.Equal(t, model.CommissionStatusPending, c.Status)
	assert.NotEmpty(t, c.ID)
	assert.Equal(t, 25.0, env.commissions.rows["conv-2"].Value)

	n, err := env.rdb.LLen(context.Background(), store.KeyPendingCommissions).Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSettlement_SubscriptionPeriods(t *testing.T) {
	env := newSettlementEnv(t)
	first := pendingSale("sub-1", "camp-sub", 50)
	first.Type = model.ConversionSubscription
	first.Period = 1
	third := first
	third.ConversionID = "sub-3"
	third.Period = 3
	expired := first
	expired.ConversionID = "sub-9"
	expired.Period = 9
	env.enqueue(t, first, third, expired)

	_, err := env.settlement.SettleOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 15.0, env.commissions.rows["sub-1"].Value)
	assert.Equal(t, 10.0, env.commissions.rows["sub-3"].Value)
	assert.Equal(t, 0.0, env.commissions.rows["sub-9"].Value)
}

func TestSettlement_DuplicateIsNotCounted(t *testing.T) {
	env := newSettlementEnv(t)
	env.enqueue(t, pendingSale("conv-1", "camp-pct", 100), pendingSale("conv-1", "camp-pct", 100))

	settled, err := env.settlement.SettleOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, settled)
	assert.Len(t, env.commissions.rows, 1)
}

func TestSettlement_RejectsUnsettleableEntries(t *testing.T) {
	env := newSettlementEnv(t)
	env.enqueue(t,
		pendingSale("conv-missing", "camp-gone", 100),
		pendingSale("conv-bad", "camp-bad", 100),
		pendingSale("conv-ok", "camp-pct", 100),
	)
	require.NoError(t, env.rdb.LPush(context.Background(), store.KeyPendingCommissions, "not json").Err())

	settled, err := env.settlement.SettleOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, settled)
	assert.Contains(t, env.commissions.rows, "conv-ok")

	failures, err := env.failures.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, failures, 3)
	for _, f := range failures {
		assert.Equal(t, "settlement", f.Source)
	}
	assert.JSONEq(t, `"not json"`, string(failures[0].Payload))
}

func TestSettlement_TransientFailureRequeues(t *testing.T) {
	env := newSettlementEnv(t)
	env.enqueue(t, pendingSale("conv-1", "camp-pct", 100), pendingSale("conv-2", "camp-pct", 100))

	env.commissions.createFn = func(*model.Commission) (bool, error) {
		return false, errors.New("connection reset")
	}
	settled, err := env.settlement.SettleOnce(context.Background())
	require.Error(t, err)
	assert.Zero(t, settled)

	// the failed entry is back at the tail, still ahead of conv-2
	tail, err := env.rdb.LIndex(context.Background(), store.KeyPendingCommissions, -1).Result()
	require.NoError(t, err)
	var p model.PendingCommission
	require.NoError(t, json.Unmarshal([]byte(tail), &p))
	assert.Equal(t, "conv-1", p.ConversionID)

	env.commissions.createFn = nil
	settled, err = env.settlement.SettleOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, settled)

	failures, err := env.failures.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, failures)
}

func TestSettlement_CampaignLookupErrorIsTransient(t *testing.T) {
	env := newSettlementEnv(t)
	env.campaigns.err = errors.New("db down")
	env.enqueue(t, pendingSale("conv-1", "camp-pct", 100))

	_, err := env.settlement.SettleOnce(context.Background())
	require.Error(t, err)

	n, err := env.rdb.LLen(context.Background(), store.KeyPendingCommissions).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestService_ForConversion(t *testing.T) {
	campaigns := &mockCampaignRepository{campaigns: map[string]*model.Campaign{
		"camp-fixed": {ID: "camp-fixed", CommissionRule: model.CommissionRule{Type: model.CommissionFixed, Value: 50}},
	}}
	svc := NewService(campaigns)

	c, err := svc.ForConversion(context.Background(), pendingSale("conv-1", "camp-fixed", 999))
	require.NoError(t, err)
	assert.Equal(t, 50.0, c.Value)
	assert.Equal(t, "USD", c.Currency)

	_, err = svc.ForConversion(context.Background(), pendingSale("conv-2", "nope", 10))
	assert.True(t, errors.Is(err, apperr.ErrCampaignNotFound))

	unattributed := pendingSale("conv-3", "", 10)
	_, err = svc.ForConversion(context.Background(), unattributed)
	assert.True(t, errors.Is(err, apperr.ErrInvalidCommissionConfig))
}
