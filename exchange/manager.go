package exchange

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/rustyeddy/copytrader/account"
)

// Factory builds an unconnected adapter for an account. The Manager is the
// only component that reads credentials; everything above it sees the
// Exchange interface.
type Factory func(acct account.Account) (Exchange, error)

// Manager owns the live venue handles, one per account, connected lazily and
// kept until CloseAll. Borrowers must never close a handle themselves.
type Manager struct {
	mu      sync.Mutex
	factory Factory
	log     *zap.SugaredLogger
	conns   map[string]*conn
}

// conn is the single-flight slot for one account: the first caller dials,
// everyone else waits on ready and shares the outcome.
type conn struct {
	ready chan struct{}
	ex    Exchange
	err   error
}

func NewManager(factory Factory, log *zap.SugaredLogger) *Manager {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Manager{
		factory: factory,
		log:     log,
		conns:   make(map[string]*conn),
	}
}

// GetHandle returns the connected handle for acct, dialing on first use.
// Concurrent calls for the same account share one dial. A failed dial is not
// cached; the next call starts over.
func (m *Manager) GetHandle(ctx context.Context, acct account.Account) (Exchange, error) {
	m.mu.Lock()
	if c, ok := m.conns[acct.UserID]; ok {
		m.mu.Unlock()
		select {
		case <-c.ready:
			return c.ex, c.err
		case <-ctx.Done():
			return nil, fmt.Errorf("get handle %s: %w", acct.UserID, ctx.Err())
		}
	}

	c := &conn{ready: make(chan struct{})}
	m.conns[acct.UserID] = c
	m.mu.Unlock()

	ex, err := m.dial(ctx, acct)
	if err != nil {
		c.err = err
		m.mu.Lock()
		delete(m.conns, acct.UserID)
		m.mu.Unlock()
		close(c.ready)
		return nil, err
	}

	c.ex = ex
	close(c.ready)
	return ex, nil
}

func (m *Manager) dial(ctx context.Context, acct account.Account) (Exchange, error) {
	ex, err := m.factory(acct)
	if err != nil {
		return nil, fmt.Errorf("build adapter %s: %w", acct.UserID, err)
	}
	if err := ex.Connect(ctx); err != nil {
		_ = ex.Close()
		return nil, fmt.Errorf("connect %s: %w", acct.UserID, err)
	}
	m.log.Infow("exchange connected", "user", acct.UserID, "exchange", acct.Exchange)
	return ex, nil
}

// Size reports the number of live handles.
func (m *Manager) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// CloseAll releases every handle. Called once at shutdown, after the engine
// has drained; in-flight dials are waited for so their handles are not
// leaked.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	conns := m.conns
	m.conns = make(map[string]*conn)
	m.mu.Unlock()

	var errs []error
	for userID, c := range conns {
		<-c.ready
		if c.ex == nil {
			continue
		}
		if err := c.ex.Close(); err != nil {
			m.log.Errorw("close handle", "user", userID, "error", err)
			errs = append(errs, fmt.Errorf("close %s: %w", userID, err))
			continue
		}
		m.log.Debugw("exchange closed", "user", userID)
	}
	return errors.Join(errs...)
}
