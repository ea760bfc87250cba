package services

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/modelgate/backend/internal/cache"
	"github.com/modelgate/backend/internal/events"
	"github.com/modelgate/backend/internal/evm"
	"github.com/modelgate/backend/internal/models"
	"github.com/modelgate/backend/internal/repositories"
)

var (
	testContract = evm.MustParseAddress("0x00000000000000000000000000000000000000aa")
	testWallet   = evm.MustParseAddress("0x52908400098527886E0F7030069857D2E4169EE7")
	otherWallet  = evm.MustParseAddress("0x00000000000000000000000000000000000000bb")
	testPrice    = big.NewInt(1e16) // 0.01 ETH
	testNow      = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

// txHash builds a valid 32-byte hash string.
func txHash(n int64) string {
	h := new(big.Int).SetInt64(n)
	s := h.Text(16)
	for len(s) < 64 {
		s = "0" + s
	}
	return "0x" + s
}

type fakeChain struct {
	mu       sync.Mutex
	txs      map[string]*evm.Transaction
	receipts map[string]*evm.Receipt
	head     uint64
	price    *big.Int
	err      error
	calls    int
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		txs:      map[string]*evm.Transaction{},
		receipts: map[string]*evm.Receipt{},
		price:    new(big.Int).Set(testPrice),
	}
}

// pay records a confirmed transfer from -> to in block.
func (c *fakeChain) pay(hash string, from evm.Address, to *evm.Address, value *big.Int, block uint64, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.txs[hash] = &evm.Transaction{Hash: hash, From: from, To: to, Value: value}
	c.receipts[hash] = &evm.Receipt{Success: success, BlockNumber: block}
}

func (c *fakeChain) setHead(n uint64) {
	c.mu.Lock()
	c.head = n
	c.mu.Unlock()
}

func (c *fakeChain) setPrice(p *big.Int) {
	c.mu.Lock()
	c.price = p
	c.mu.Unlock()
}

func (c *fakeChain) setErr(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

func (c *fakeChain) GetTransaction(_ context.Context, hash string) (*evm.Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	tx, ok := c.txs[hash]
	if !ok {
		return nil, evm.ErrNotFound
	}
	return tx, nil
}

func (c *fakeChain) GetReceipt(_ context.Context, hash string) (*evm.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	r, ok := c.receipts[hash]
	if !ok {
		return nil, evm.ErrNotFound
	}
	return r, nil
}

func (c *fakeChain) CurrentBlockNumber(context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return 0, c.err
	}
	return c.head, nil
}

func (c *fakeChain) RequiredPrice(context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return c.price, nil
}

func (c *fakeChain) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type fakeUsers struct {
	mu    sync.Mutex
	users map[evm.Address]*models.User
	err   error
}

func newFakeUsers(wallets ...evm.Address) *fakeUsers {
	f := &fakeUsers{users: map[evm.Address]*models.User{}}
	for _, w := range wallets {
		f.users[w] = &models.User{ID: uuid.New(), WalletAddress: w, Role: "consumer"}
	}
	return f
}

func (f *fakeUsers) GetByWallet(_ context.Context, wallet evm.Address) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	u, ok := f.users[wallet]
	if !ok {
		return nil, repositories.ErrUserNotFound
	}
	return u, nil
}

func (f *fakeUsers) id(wallet evm.Address) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users[wallet].ID
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []models.AuditLog
}

func (f *fakeAudit) Log(_ context.Context, e models.AuditLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (f *fakePublisher) Publish(_ context.Context, _ string, e events.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return nil
}

type memStatus struct {
	mu          sync.Mutex
	entries     map[string]cache.StatusEntry
	ttls        map[string]time.Duration
	invalidated int
}

func newMemStatus() *memStatus {
	return &memStatus{entries: map[string]cache.StatusEntry{}, ttls: map[string]time.Duration{}}
}

func (m *memStatus) Get(_ context.Context, category string, wallet evm.Address) (*cache.StatusEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[category+":"+wallet.String()]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (m *memStatus) Set(_ context.Context, category string, wallet evm.Address, e cache.StatusEntry, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ttl <= 0 {
		return nil
	}
	m.entries[category+":"+wallet.String()] = e
	m.ttls[category+":"+wallet.String()] = ttl
	return nil
}

func (m *memStatus) Invalidate(_ context.Context, category string, wallet evm.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, category+":"+wallet.String())
	m.invalidated++
	return nil
}
