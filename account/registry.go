package account

import (
	"errors"
	"fmt"
	"sync"
)

var ErrUnknownAccount = errors.New("unknown account")

// Registry holds the leader and follower descriptors for one replication
// setup. It is constructed once at startup and handed to whoever needs it;
// there is no package-level instance.
//
// Reads are concurrent-safe. The only mutation is SetEnabled, which is
// synchronized against Followers snapshots: a replication that already took
// its snapshot keeps it, later calls see the toggle.
type Registry struct {
	mu        sync.RWMutex
	leader    Account
	followers []Account
	index     map[string]int
}

// NewRegistry validates the accounts and builds a registry. Follower order is
// preserved; it is the dispatch queue order when the engine's concurrency
// bound is below the follower count.
func NewRegistry(leader Account, followers []Account) (*Registry, error) {
	if err := leader.Validate(); err != nil {
		return nil, fmt.Errorf("leader: %w", err)
	}

	index := make(map[string]int, len(followers))
	for i, f := range followers {
		if err := f.ValidateFollower(); err != nil {
			return nil, err
		}
		if f.UserID == leader.UserID {
			return nil, fmt.Errorf("follower %s: user_id collides with the leader", f.UserID)
		}
		if _, ok := index[f.UserID]; ok {
			return nil, fmt.Errorf("follower %s: duplicate user_id", f.UserID)
		}
		index[f.UserID] = i
	}

	return &Registry{
		leader:    leader,
		followers: append([]Account(nil), followers...),
		index:     index,
	}, nil
}

// Leader returns the leader account.
func (r *Registry) Leader() Account {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.leader
}

// Followers returns a snapshot of the follower list in registry order. With
// onlyEnabled set it returns only followers eligible for replication; a
// follower with a non-positive risk multiplier is never eligible.
func (r *Registry) Followers(onlyEnabled bool) []Account {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Account, 0, len(r.followers))
	for _, f := range r.followers {
		if onlyEnabled && (!f.Enabled || !f.RiskMultiplier.IsPositive()) {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Get looks up the leader or a follower by user id.
func (r *Registry) Get(userID string) (Account, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if userID == r.leader.UserID {
		return r.leader, true
	}
	if i, ok := r.index[userID]; ok {
		return r.followers[i], true
	}
	return Account{}, false
}

// SetEnabled toggles a follower's replication eligibility at runtime.
func (r *Registry) SetEnabled(userID string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.index[userID]
	if !ok {
		return fmt.Errorf("set enabled: %w: %q", ErrUnknownAccount, userID)
	}
	r.followers[i].Enabled = enabled
	return nil
}

// Accounts returns the leader followed by every follower, enabled or not.
// Status and validation commands iterate this.
func (r *Registry) Accounts() []Account {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Account, 0, len(r.followers)+1)
	out = append(out, r.leader)
	out = append(out, r.followers...)
	return out
}
