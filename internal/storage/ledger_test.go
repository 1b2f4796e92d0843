package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	logx "peillute/pkg/logx"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{
		Path:        filepath.Join(t.TempDir(), "ledger.db"),
		Node:        "test",
		BusyTimeout: 2 * time.Second,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateUserAndList(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.CreateUser(ctx, "alice"); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := s.CreateUser(ctx, "alice"); !errors.Is(err, ErrUserExists) {
		t.Fatalf("duplicate err = %v, want ErrUserExists", err)
	}
	if err := s.CreateUser(ctx, "  "); !errors.Is(err, ErrBadName) {
		t.Fatalf("blank err = %v, want ErrBadName", err)
	}

	users, err := s.Users(ctx)
	if err != nil {
		t.Fatalf("Users: %v", err)
	}
	if len(users) != 1 || users[0].Name != "alice" {
		t.Fatalf("Users = %+v, want [alice]", users)
	}
}

func TestDepositWithdrawBalance(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.CreateUser(ctx, "bob"); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	if _, err := s.Deposit(ctx, "bob", 100); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if _, err := s.Deposit(ctx, "bob", -5); !errors.Is(err, ErrBadAmount) {
		t.Fatalf("negative deposit err = %v, want ErrBadAmount", err)
	}
	if _, err := s.Deposit(ctx, "ghost", 10); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown user err = %v, want ErrNotFound", err)
	}

	if _, err := s.Withdraw(ctx, "bob", 30); err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	if _, err := s.Withdraw(ctx, "bob", 1000); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("overdraft err = %v, want ErrInsufficientFunds", err)
	}

	bal, err := s.Balance(ctx, "bob")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if bal != 70 {
		t.Fatalf("Balance = %.2f, want 70.00", bal)
	}
}

func TestTransferAndHistory(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	for _, u := range []string{"alice", "bob", "carol"} {
		if err := s.CreateUser(ctx, u); err != nil {
			t.Fatalf("CreateUser(%s): %v", u, err)
		}
	}
	if _, err := s.Deposit(ctx, "alice", 50); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if _, err := s.Transfer(ctx, "alice", "bob", 20); err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if _, err := s.Transfer(ctx, "alice", "alice", 1); err == nil {
		t.Fatal("expected error for self transfer")
	}
	if _, err := s.Transfer(ctx, "bob", "carol", 100); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}

	aliceBal, _ := s.Balance(ctx, "alice")
	bobBal, _ := s.Balance(ctx, "bob")
	if aliceBal != 30 || bobBal != 20 {
		t.Fatalf("balances = %.2f/%.2f, want 30/20", aliceBal, bobBal)
	}

	hist, err := s.TransactionsFor(ctx, "alice", 0)
	if err != nil {
		t.Fatalf("TransactionsFor: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("history size = %d, want 2", len(hist))
	}
	// Newest first.
	if hist[0].Kind != KindTransfer || hist[1].Kind != KindDeposit {
		t.Fatalf("history order = [%s %s], want [transfer deposit]", hist[0].Kind, hist[1].Kind)
	}
	// Carol never took part in anything.
	carolHist, err := s.TransactionsFor(ctx, "carol", 0)
	if err != nil {
		t.Fatalf("TransactionsFor(carol): %v", err)
	}
	if len(carolHist) != 0 {
		t.Fatalf("carol history = %d entries, want 0", len(carolHist))
	}
}

func TestRefundReversesTransaction(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	for _, u := range []string{"alice", "bob"} {
		if err := s.CreateUser(ctx, u); err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
	}
	if _, err := s.Deposit(ctx, "alice", 40); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	tx, err := s.Transfer(ctx, "alice", "bob", 15)
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}

	rf, err := s.Refund(ctx, tx.Seq, tx.Node)
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if rf.Kind != KindRefund || rf.From != "bob" || rf.To != "alice" || rf.Amount != 15 {
		t.Fatalf("refund = %+v, want reversed transfer", rf)
	}
	if _, err := s.Refund(ctx, rf.Seq, rf.Node); err == nil {
		t.Fatal("expected error refunding a refund")
	}
	if _, err := s.Refund(ctx, 9999, "nowhere"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	bal, _ := s.Balance(ctx, "alice")
	if bal != 40 {
		t.Fatalf("alice balance after refund = %.2f, want 40", bal)
	}
}

func TestLogicalClockMonotonic(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.CreateUser(ctx, "alice"); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	var prev int64
	for i := 0; i < 5; i++ {
		tx, err := s.Deposit(ctx, "alice", 1)
		if err != nil {
			t.Fatalf("Deposit: %v", err)
		}
		if tx.Seq <= prev {
			t.Fatalf("seq %d not greater than %d", tx.Seq, prev)
		}
		if tx.Node != "test" {
			t.Fatalf("node = %q, want test", tx.Node)
		}
		prev = tx.Seq
	}
}

func TestStatsAndPrune(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.CreateUser(ctx, "alice"); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if _, err := s.Deposit(ctx, "alice", 10); err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Users != 1 || st.Transactions != 1 || st.TotalVolume != 10 {
		t.Fatalf("Stats = %+v", st)
	}
	if st.DBBytes <= 0 {
		t.Fatalf("DBBytes = %d, want > 0", st.DBBytes)
	}

	// Nothing is old enough to prune yet.
	n, err := s.PruneBefore(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("PruneBefore: %v", err)
	}
	if n != 0 {
		t.Fatalf("pruned %d rows, want 0", n)
	}
	// Everything is older than a future cutoff.
	n, err = s.PruneBefore(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("PruneBefore: %v", err)
	}
	if n != 1 {
		t.Fatalf("pruned %d rows, want 1", n)
	}
	if err := s.Vacuum(ctx); err != nil {
		t.Fatalf("Vacuum: %v", err)
	}
}

func TestClockResumesAcrossReopen(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.db")
	cfg := Config{Path: path, Node: "test"}

	s, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()
	if err := s.CreateUser(ctx, "alice"); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	tx1, err := s.Deposit(ctx, "alice", 1)
	if err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	_ = s.Close()

	s2, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	tx2, err := s2.Deposit(ctx, "alice", 1)
	if err != nil {
		t.Fatalf("Deposit after reopen: %v", err)
	}
	if tx2.Seq <= tx1.Seq {
		t.Fatalf("clock went backwards across reopen: %d then %d", tx1.Seq, tx2.Seq)
	}
}
