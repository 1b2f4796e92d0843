package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// CreateUser registers a new account with a zero balance.
func (s *Store) CreateUser(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrBadName
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO users(name, created_at) VALUES(?, ?)`,
		name, fmtTime(time.Now()))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrUserExists
	}
	return nil
}

// Users lists all accounts, oldest first.
func (s *Store) Users(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, created_at FROM users ORDER BY created_at, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var u User
		var at string
		if err := rows.Scan(&u.Name, &at); err != nil {
			return nil, err
		}
		u.CreatedAt, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) userExists(ctx context.Context, name string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM users WHERE name = ?`, name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Balance returns the account's current balance: everything received
// minus everything sent.
func (s *Store) Balance(ctx context.Context, name string) (float64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, ErrBadName
	}
	ok, err := s.userExists(ctx, name)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("user %q: %w", name, ErrNotFound)
	}
	return s.balance(ctx, name)
}

func (s *Store) balance(ctx context.Context, name string) (float64, error) {
	var in, out sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		`SELECT
		   (SELECT COALESCE(SUM(amount), 0) FROM transactions WHERE to_user = ?),
		   (SELECT COALESCE(SUM(amount), 0) FROM transactions WHERE from_user = ?)`,
		name, name).Scan(&in, &out)
	if err != nil {
		return 0, err
	}
	return in.Float64 - out.Float64, nil
}

// append inserts a ledger entry under the next logical clock value.
// Call with s.mu held.
func (s *Store) appendLocked(ctx context.Context, from, to string, amount float64, kind string) (Transaction, error) {
	tx := Transaction{
		Seq:    s.nextSeqLocked(),
		Node:   s.node,
		From:   from,
		To:     to,
		Amount: amount,
		Kind:   kind,
		At:     time.Now(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transactions(seq, node, from_user, to_user, amount, kind, created_at)
		 VALUES(?,?,?,?,?,?,?)`,
		tx.Seq, tx.Node, nullStr(tx.From), nullStr(tx.To), tx.Amount, tx.Kind, fmtTime(tx.At))
	if err != nil {
		// Roll the clock back so a failed insert doesn't burn a value.
		s.seq--
		return Transaction{}, err
	}
	return tx, nil
}

func (s *Store) requireUser(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrBadName
	}
	ok, err := s.userExists(ctx, name)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("user %q: %w", name, ErrNotFound)
	}
	return name, nil
}

// Deposit credits an account from outside the system.
func (s *Store) Deposit(ctx context.Context, name string, amount float64) (Transaction, error) {
	if amount <= 0 {
		return Transaction{}, ErrBadAmount
	}
	name, err := s.requireUser(ctx, name)
	if err != nil {
		return Transaction{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(ctx, "", name, amount, KindDeposit)
}

// Withdraw debits an account. Fails with ErrInsufficientFunds when the
// balance does not cover the amount.
func (s *Store) Withdraw(ctx context.Context, name string, amount float64) (Transaction, error) {
	if amount <= 0 {
		return Transaction{}, ErrBadAmount
	}
	name, err := s.requireUser(ctx, name)
	if err != nil {
		return Transaction{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	bal, err := s.balance(ctx, name)
	if err != nil {
		return Transaction{}, err
	}
	if bal < amount {
		return Transaction{}, fmt.Errorf("withdraw %.2f from %q (balance %.2f): %w", amount, name, bal, ErrInsufficientFunds)
	}
	return s.appendLocked(ctx, name, "", amount, KindWithdraw)
}

// Transfer moves money between two accounts.
func (s *Store) Transfer(ctx context.Context, from, to string, amount float64) (Transaction, error) {
	if amount <= 0 {
		return Transaction{}, ErrBadAmount
	}
	from, err := s.requireUser(ctx, from)
	if err != nil {
		return Transaction{}, err
	}
	to, err = s.requireUser(ctx, to)
	if err != nil {
		return Transaction{}, err
	}
	if from == to {
		return Transaction{}, errors.New("storage: transfer to self")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	bal, err := s.balance(ctx, from)
	if err != nil {
		return Transaction{}, err
	}
	if bal < amount {
		return Transaction{}, fmt.Errorf("transfer %.2f from %q (balance %.2f): %w", amount, from, bal, ErrInsufficientFunds)
	}
	return s.appendLocked(ctx, from, to, amount, KindTransfer)
}

// Pay debits an account towards an outside beneficiary.
func (s *Store) Pay(ctx context.Context, from string, amount float64) (Transaction, error) {
	if amount <= 0 {
		return Transaction{}, ErrBadAmount
	}
	from, err := s.requireUser(ctx, from)
	if err != nil {
		return Transaction{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	bal, err := s.balance(ctx, from)
	if err != nil {
		return Transaction{}, err
	}
	if bal < amount {
		return Transaction{}, fmt.Errorf("pay %.2f from %q (balance %.2f): %w", amount, from, bal, ErrInsufficientFunds)
	}
	return s.appendLocked(ctx, from, "", amount, KindPay)
}

// Refund reverses the transaction identified by (seq, node) with a new
// compensating entry. The original entry is kept.
func (s *Store) Refund(ctx context.Context, seq int64, node string) (Transaction, error) {
	node = strings.TrimSpace(node)
	if node == "" {
		return Transaction{}, errors.New("storage: node is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var from, to sql.NullString
	var amount float64
	var kind string
	err := s.db.QueryRowContext(ctx,
		`SELECT from_user, to_user, amount, kind FROM transactions WHERE seq = ? AND node = ?`,
		seq, node).Scan(&from, &to, &amount, &kind)
	if errors.Is(err, sql.ErrNoRows) {
		return Transaction{}, fmt.Errorf("transaction (%d, %s): %w", seq, node, ErrNotFound)
	}
	if err != nil {
		return Transaction{}, err
	}
	if kind == KindRefund {
		return Transaction{}, errors.New("storage: cannot refund a refund")
	}
	// Reverse direction, same amount.
	return s.appendLocked(ctx, strOrEmpty(to), strOrEmpty(from), amount, KindRefund)
}

// TransactionsFor lists the entries touching one account, newest first.
func (s *Store) TransactionsFor(ctx context.Context, name string, limit int) ([]Transaction, error) {
	name, err := s.requireUser(ctx, name)
	if err != nil {
		return nil, err
	}
	return s.queryTx(ctx,
		`SELECT seq, node, from_user, to_user, amount, kind, created_at
		 FROM transactions WHERE from_user = ? OR to_user = ?
		 ORDER BY created_at DESC, seq DESC LIMIT ?`,
		name, name, normalizeLimit(limit))
}

// Transactions lists all entries, newest first.
func (s *Store) Transactions(ctx context.Context, limit int) ([]Transaction, error) {
	return s.queryTx(ctx,
		`SELECT seq, node, from_user, to_user, amount, kind, created_at
		 FROM transactions ORDER BY created_at DESC, seq DESC LIMIT ?`,
		normalizeLimit(limit))
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}

func (s *Store) queryTx(ctx context.Context, q string, args ...any) ([]Transaction, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var tx Transaction
		var from, to sql.NullString
		var at string
		if err := rows.Scan(&tx.Seq, &tx.Node, &from, &to, &tx.Amount, &tx.Kind, &at); err != nil {
			return nil, err
		}
		tx.From = strOrEmpty(from)
		tx.To = strOrEmpty(to)
		tx.At, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, tx)
	}
	return out, rows.Err()
}

// Stats returns the system-status bundle: account count, ledger size,
// total volume moved and the database file size.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT
		   (SELECT COUNT(*) FROM users),
		   (SELECT COUNT(*) FROM transactions),
		   (SELECT COALESCE(SUM(amount), 0) FROM transactions)`).
		Scan(&st.Users, &st.Transactions, &st.TotalVolume)
	if err != nil {
		return Stats{}, err
	}
	if fi, err := os.Stat(s.path); err == nil {
		st.DBBytes = fi.Size()
	}
	return st, nil
}
