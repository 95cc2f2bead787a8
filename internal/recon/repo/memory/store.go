// Package memory 进程内存储，单测和本地 storage.driver=memory 时使用。
// 所有写操作由一把互斥锁串行化；事务通过快照回滚实现。
package memory

import (
	"context"
	"maps"
	"sync"
	"time"

	"payrecon.com/internal/recon/domain"
)

type txKey struct{}

type Store struct {
	mu sync.Mutex

	seq      uint64
	deposits map[uint64]domain.Deposit
	ledger   map[uint64]domain.LedgerEntry
	ledgerUK map[string]uint64 // source|reference -> id
	accounts map[uint64]domain.PaymentAccount
	gateway  map[uint64]domain.GatewayTransaction
	credits  map[uint64]domain.Credit // deposit_id -> credit
	balances map[string]domain.PrincipalBalance
	now      func() time.Time
}

var _ domain.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		deposits: make(map[uint64]domain.Deposit),
		ledger:   make(map[uint64]domain.LedgerEntry),
		ledgerUK: make(map[string]uint64),
		accounts: make(map[uint64]domain.PaymentAccount),
		gateway:  make(map[uint64]domain.GatewayTransaction),
		credits:  make(map[uint64]domain.Credit),
		balances: make(map[string]domain.PrincipalBalance),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type snapshot struct {
	seq      uint64
	deposits map[uint64]domain.Deposit
	ledger   map[uint64]domain.LedgerEntry
	ledgerUK map[string]uint64
	accounts map[uint64]domain.PaymentAccount
	gateway  map[uint64]domain.GatewayTransaction
	credits  map[uint64]domain.Credit
	balances map[string]domain.PrincipalBalance
}

func (s *Store) snapshot() snapshot {
	return snapshot{
		seq:      s.seq,
		deposits: maps.Clone(s.deposits),
		ledger:   maps.Clone(s.ledger),
		ledgerUK: maps.Clone(s.ledgerUK),
		accounts: maps.Clone(s.accounts),
		gateway:  maps.Clone(s.gateway),
		credits:  maps.Clone(s.credits),
		balances: maps.Clone(s.balances),
	}
}

func (s *Store) restore(sn snapshot) {
	s.seq = sn.seq
	s.deposits = sn.deposits
	s.ledger = sn.ledger
	s.ledgerUK = sn.ledgerUK
	s.accounts = sn.accounts
	s.gateway = sn.gateway
	s.credits = sn.credits
	s.balances = sn.balances
}

// Transaction fn 返回错误或 panic 时回滚到进入前的快照；嵌套调用复用外层事务
func (s *Store) Transaction(ctx context.Context, fn func(txCtx context.Context) error) (err error) {
	if s.inTx(ctx) {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sn := s.snapshot()
	defer func() {
		if r := recover(); r != nil {
			s.restore(sn)
			panic(r)
		}
		if err != nil {
			s.restore(sn)
		}
	}()
	return fn(context.WithValue(ctx, txKey{}, s))
}

func (s *Store) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

// lock 事务内已持有锁，直接返回
func (s *Store) lock(ctx context.Context) func() {
	if s.inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) nextID() uint64 {
	s.seq++
	return s.seq
}
