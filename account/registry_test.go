package account

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paperAccount(userID string, equity float64) Account {
	return Account{
		UserID:         userID,
		Exchange:       ExchangePaper,
		Enabled:        true,
		RiskMultiplier: decimal.NewFromInt(1),
		PaperEquity:    decimal.NewFromFloat(equity),
	}
}

func TestNewRegistryValidation(t *testing.T) {
	t.Parallel()

	leader := paperAccount("leader", 10000)

	tests := []struct {
		name      string
		leader    Account
		followers []Account
		wantErr   string
	}{
		{
			name:   "missing user id",
			leader: Account{Exchange: ExchangePaper, PaperEquity: decimal.NewFromInt(1)},
			wantErr: "user_id is required",
		},
		{
			name:    "unknown exchange",
			leader:  Account{UserID: "leader", Exchange: "kraken"},
			wantErr: "unknown exchange",
		},
		{
			name:    "binance without credentials",
			leader:  Account{UserID: "leader", Exchange: ExchangeBinance},
			wantErr: "api_key and api_secret are required",
		},
		{
			name:    "paper without equity",
			leader:  Account{UserID: "leader", Exchange: ExchangePaper},
			wantErr: "paper_equity must be positive",
		},
		{
			name:      "follower without multiplier",
			leader:    leader,
			followers: []Account{{UserID: "f1", Exchange: ExchangePaper, PaperEquity: decimal.NewFromInt(1)}},
			wantErr:   "risk_multiplier must be positive",
		},
		{
			name:   "follower min above max",
			leader: leader,
			followers: []Account{func() Account {
				a := paperAccount("f1", 5000)
				a.MinPosition = decimal.NewFromInt(2)
				a.MaxPosition = decimal.NewFromInt(1)
				return a
			}()},
			wantErr: "min_position exceeds max_position",
		},
		{
			name:      "follower collides with leader",
			leader:    leader,
			followers: []Account{paperAccount("leader", 5000)},
			wantErr:   "collides with the leader",
		},
		{
			name:      "duplicate follower",
			leader:    leader,
			followers: []Account{paperAccount("f1", 5000), paperAccount("f1", 6000)},
			wantErr:   "duplicate user_id",
		},
		{
			name:      "valid",
			leader:    leader,
			followers: []Account{paperAccount("f1", 5000), paperAccount("f2", 6000)},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			reg, err := NewRegistry(tt.leader, tt.followers)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.leader.UserID, reg.Leader().UserID)
			assert.Len(t, reg.Followers(false), len(tt.followers))
		})
	}
}

func TestFollowersEligibility(t *testing.T) {
	t.Parallel()

	f1 := paperAccount("f1", 5000)
	f2 := paperAccount("f2", 6000)
	f2.Enabled = false
	f3 := paperAccount("f3", 7000)

	reg, err := NewRegistry(paperAccount("leader", 10000), []Account{f1, f2, f3})
	require.NoError(t, err)

	// Zero the multiplier behind the constructor's back; eligibility
	// filtering must still hold.
	reg.followers[2].RiskMultiplier = decimal.Zero

	all := reg.Followers(false)
	require.Len(t, all, 3)

	enabled := reg.Followers(true)
	require.Len(t, enabled, 1)
	assert.Equal(t, "f1", enabled[0].UserID)
}

func TestFollowersSnapshotIsolation(t *testing.T) {
	t.Parallel()

	reg, err := NewRegistry(paperAccount("leader", 10000),
		[]Account{paperAccount("f1", 5000), paperAccount("f2", 6000)})
	require.NoError(t, err)

	snap := reg.Followers(true)
	require.Len(t, snap, 2)

	require.NoError(t, reg.SetEnabled("f2", false))

	// The snapshot taken before the toggle is unaffected.
	assert.Len(t, snap, 2)
	assert.True(t, snap[1].Enabled)

	after := reg.Followers(true)
	require.Len(t, after, 1)
	assert.Equal(t, "f1", after[0].UserID)
}

func TestSetEnabledUnknown(t *testing.T) {
	t.Parallel()

	reg, err := NewRegistry(paperAccount("leader", 10000), []Account{paperAccount("f1", 5000)})
	require.NoError(t, err)

	err = reg.SetEnabled("nobody", true)
	assert.ErrorIs(t, err, ErrUnknownAccount)

	// The leader has no copy flag to toggle.
	err = reg.SetEnabled("leader", false)
	assert.ErrorIs(t, err, ErrUnknownAccount)
}

func TestGetAndAccounts(t *testing.T) {
	t.Parallel()

	reg, err := NewRegistry(paperAccount("leader", 10000), []Account{paperAccount("f1", 5000)})
	require.NoError(t, err)

	got, ok := reg.Get("leader")
	require.True(t, ok)
	assert.Equal(t, "leader", got.UserID)

	got, ok = reg.Get("f1")
	require.True(t, ok)
	assert.Equal(t, "f1", got.UserID)

	_, ok = reg.Get("nobody")
	assert.False(t, ok)

	accts := reg.Accounts()
	require.Len(t, accts, 2)
	assert.Equal(t, "leader", accts[0].UserID)
}
