package realm

import (
	"math"
	"sync"
	"testing"

	"skycast.gg/internal/protocol"
)

func TestLedgerCreditDebit(t *testing.T) {
	l := NewTokenLedger("sys")

	if err := l.Credit("sys", "p1", 100); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if got := l.Balance("p1"); got != 100 {
		t.Fatalf("balance = %d, want 100", got)
	}
	if err := l.Debit("sys", "p1", 40); err != nil {
		t.Fatalf("debit: %v", err)
	}
	if got := l.Balance("p1"); got != 60 {
		t.Fatalf("balance = %d, want 60", got)
	}
	if l.TotalCredited() != 100 || l.TotalDebited() != 40 {
		t.Fatalf("totals credited=%d debited=%d", l.TotalCredited(), l.TotalDebited())
	}
}

func TestLedgerUnknownAccountIsZero(t *testing.T) {
	l := NewTokenLedger("sys")
	if got := l.Balance("nobody"); got != 0 {
		t.Fatalf("balance = %d, want 0", got)
	}
	if err := l.Debit("sys", "nobody", 1); !IsCode(err, protocol.ErrInsufficientBalance) {
		t.Fatalf("debit empty account: %v", err)
	}
}

func TestLedgerUnauthorizedCaller(t *testing.T) {
	l := NewTokenLedger("sys")
	if err := l.Credit("imposter", "p1", 5); !IsCode(err, protocol.ErrUnauthorized) {
		t.Fatalf("credit: %v", err)
	}
	if err := l.Transfer("imposter", "p1", "p2", 5); !IsCode(err, protocol.ErrUnauthorized) {
		t.Fatalf("transfer: %v", err)
	}
}

func TestLedgerInsufficientBalanceRejected(t *testing.T) {
	l := NewTokenLedger("sys")
	_ = l.Credit("sys", "p1", 10)
	if err := l.Debit("sys", "p1", 11); !IsCode(err, protocol.ErrInsufficientBalance) {
		t.Fatalf("debit: %v", err)
	}
	if got := l.Balance("p1"); got != 10 {
		t.Fatalf("failed debit changed balance to %d", got)
	}
	if l.TotalDebited() != 0 {
		t.Fatalf("failed debit counted: %d", l.TotalDebited())
	}
}

func TestLedgerOverflowRejected(t *testing.T) {
	l := NewTokenLedger("sys")
	_ = l.Credit("sys", "p1", math.MaxUint64)
	if err := l.Credit("sys", "p1", 1); !IsCode(err, protocol.ErrBalanceOverflow) {
		t.Fatalf("credit: %v", err)
	}
	if got := l.Balance("p1"); got != math.MaxUint64 {
		t.Fatalf("failed credit changed balance to %d", got)
	}
}

func TestLedgerTransfer(t *testing.T) {
	l := NewTokenLedger("sys")
	_ = l.Credit("sys", "pool", 100)

	if err := l.Transfer("sys", "pool", "p1", 30); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if l.Balance("pool") != 70 || l.Balance("p1") != 30 {
		t.Fatalf("balances pool=%d p1=%d", l.Balance("pool"), l.Balance("p1"))
	}
	// Transfers never touch the mint/burn totals.
	if l.TotalCredited() != 100 || l.TotalDebited() != 0 {
		t.Fatalf("totals credited=%d debited=%d", l.TotalCredited(), l.TotalDebited())
	}

	if err := l.Transfer("sys", "pool", "p1", 1000); !IsCode(err, protocol.ErrInsufficientBalance) {
		t.Fatalf("over-transfer: %v", err)
	}
	if l.Balance("pool") != 70 || l.Balance("p1") != 30 {
		t.Fatalf("failed transfer moved funds: pool=%d p1=%d", l.Balance("pool"), l.Balance("p1"))
	}
}

func TestLedgerTransferCreditOverflowRollsBack(t *testing.T) {
	l := NewTokenLedger("sys")
	_ = l.Credit("sys", "src", 50)
	_ = l.Credit("sys", "dst", math.MaxUint64)

	if err := l.Transfer("sys", "src", "dst", 50); !IsCode(err, protocol.ErrBalanceOverflow) {
		t.Fatalf("transfer: %v", err)
	}
	if got := l.Balance("src"); got != 50 {
		t.Fatalf("src not restored: %d", got)
	}
}

func TestLedgerConservationUnderConcurrency(t *testing.T) {
	l := NewTokenLedger("sys")
	_ = l.Credit("sys", "pool", 1_000_000)

	const workers = 16
	const perWorker = 500

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(id int) {
			defer wg.Done()
			owner := []string{"p1", "p2", "p3", "p4"}[id%4]
			for i := 0; i < perWorker; i++ {
				switch i % 3 {
				case 0:
					_ = l.Credit("sys", owner, 3)
				case 1:
					_ = l.Debit("sys", owner, 1)
				case 2:
					_ = l.Transfer("sys", "pool", owner, 2)
				}
			}
		}(w)
	}
	wg.Wait()

	if got, want := l.CirculatingSupply(), l.TotalCredited()-l.TotalDebited(); got != want {
		t.Fatalf("conservation violated: supply=%d credited-debited=%d", got, want)
	}
}

func TestLedgerConcurrentDebitNeverUnderflows(t *testing.T) {
	l := NewTokenLedger("sys")
	_ = l.Credit("sys", "p1", 100)

	var wg sync.WaitGroup
	wg.Add(50)
	for i := 0; i < 50; i++ {
		go func() {
			defer wg.Done()
			_ = l.Debit("sys", "p1", 3)
		}()
	}
	wg.Wait()

	// 100/3 = 33 debits can succeed; the balance must be exactly the
	// remainder and never wrap.
	if got := l.Balance("p1"); got != 1 {
		t.Fatalf("balance = %d, want 1", got)
	}
	if got := l.TotalDebited(); got != 99 {
		t.Fatalf("debited = %d, want 99", got)
	}
}
