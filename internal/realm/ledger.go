package realm

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"skycast.gg/internal/protocol"
)

// Internal system callers allowed to move funds. The ledger never trusts
// transport identities directly; the realm maps operations onto these.
const (
	callerRealm        = "realm"
	callerQuestEngine  = "quest_engine"
	callerAchievements = "achievement_sync"
)

// TokenLedger owns every balance. Credits and debits are the mint/burn
// operations the conservation law is stated over:
//
//	sum(balances) == TotalCredited() - TotalDebited()
//
// Transfers move funds without touching either total. Per-account balances
// use a compare-and-swap commit so concurrent calls on the same account
// never lose updates.
type TokenLedger struct {
	authorized map[string]struct{}

	mu       sync.RWMutex
	accounts map[string]*atomic.Uint64

	credited atomic.Uint64
	debited  atomic.Uint64
}

func NewTokenLedger(authorized ...string) *TokenLedger {
	l := &TokenLedger{
		authorized: make(map[string]struct{}, len(authorized)),
		accounts:   make(map[string]*atomic.Uint64),
	}
	for _, c := range authorized {
		l.authorized[c] = struct{}{}
	}
	return l
}

func (l *TokenLedger) authorize(caller string) error {
	if _, ok := l.authorized[caller]; !ok {
		return errCode(protocol.ErrUnauthorized, "caller %q may not move funds", caller)
	}
	return nil
}

// account returns the balance cell for owner. Accounts are created lazily
// on first credit; an owner never credited reads as zero.
func (l *TokenLedger) account(owner string) *atomic.Uint64 {
	l.mu.RLock()
	a := l.accounts[owner]
	l.mu.RUnlock()
	if a != nil {
		return a
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if a = l.accounts[owner]; a == nil {
		a = new(atomic.Uint64)
		l.accounts[owner] = a
	}
	return a
}

// creditBalance adds amount to the cell, failing on overflow. CAS loop.
func creditBalance(a *atomic.Uint64, amount uint64) error {
	for {
		cur := a.Load()
		if cur > math.MaxUint64-amount {
			return errCode(protocol.ErrBalanceOverflow, "credit of %d overflows balance %d", amount, cur)
		}
		if a.CompareAndSwap(cur, cur+amount) {
			return nil
		}
	}
}

// debitBalance subtracts amount, failing if the balance would go negative.
func debitBalance(a *atomic.Uint64, amount uint64) error {
	for {
		cur := a.Load()
		if amount > cur {
			return errCode(protocol.ErrInsufficientBalance, "debit %d exceeds balance %d", amount, cur)
		}
		if a.CompareAndSwap(cur, cur-amount) {
			return nil
		}
	}
}

// Credit mints amount into account.
func (l *TokenLedger) Credit(caller, account string, amount uint64) error {
	if err := l.authorize(caller); err != nil {
		return err
	}
	if err := creditBalance(l.account(account), amount); err != nil {
		return err
	}
	l.credited.Add(amount)
	return nil
}

// Debit burns amount from account.
func (l *TokenLedger) Debit(caller, account string, amount uint64) error {
	if err := l.authorize(caller); err != nil {
		return err
	}
	if err := debitBalance(l.account(account), amount); err != nil {
		return err
	}
	l.debited.Add(amount)
	return nil
}

// Transfer composes debit+credit as a unit: if the credit side cannot be
// applied the debited amount is restored, so no partial transfer survives.
func (l *TokenLedger) Transfer(caller, from, to string, amount uint64) error {
	if err := l.authorize(caller); err != nil {
		return err
	}
	src := l.account(from)
	dst := l.account(to)
	if err := debitBalance(src, amount); err != nil {
		return err
	}
	if err := creditBalance(dst, amount); err != nil {
		// Restore the debit; cannot overflow, we just removed the amount.
		for {
			cur := src.Load()
			if src.CompareAndSwap(cur, cur+amount) {
				break
			}
		}
		return err
	}
	return nil
}

func (l *TokenLedger) Balance(account string) uint64 {
	l.mu.RLock()
	a := l.accounts[account]
	l.mu.RUnlock()
	if a == nil {
		return 0
	}
	return a.Load()
}

func (l *TokenLedger) TotalCredited() uint64 { return l.credited.Load() }
func (l *TokenLedger) TotalDebited() uint64  { return l.debited.Load() }

// CirculatingSupply sums every balance. Audit/read-model use only; the
// conservation invariant says this equals TotalCredited()-TotalDebited()
// at any quiescent point.
func (l *TokenLedger) CirculatingSupply() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var sum uint64
	for _, a := range l.accounts {
		sum += a.Load()
	}
	return sum
}

// BalanceEntry is one row of the account table, for snapshots and the index.
type BalanceEntry struct {
	Owner   string
	Balance uint64
}

func (l *TokenLedger) snapshotAccounts() []BalanceEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]BalanceEntry, 0, len(l.accounts))
	for owner, a := range l.accounts {
		out = append(out, BalanceEntry{Owner: owner, Balance: a.Load()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Owner < out[j].Owner })
	return out
}

func (l *TokenLedger) restoreAccounts(entries []BalanceEntry, credited, debited uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accounts = make(map[string]*atomic.Uint64, len(entries))
	for _, e := range entries {
		a := new(atomic.Uint64)
		a.Store(e.Balance)
		l.accounts[e.Owner] = a
	}
	l.credited.Store(credited)
	l.debited.Store(debited)
}
