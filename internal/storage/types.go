package storage

import (
	"errors"
	"time"
)

var (
	ErrNotFound          = errors.New("storage: not found")
	ErrUserExists        = errors.New("storage: user already exists")
	ErrInsufficientFunds = errors.New("storage: insufficient funds")
	ErrBadAmount         = errors.New("storage: amount must be > 0")
	ErrBadName           = errors.New("storage: name is required")
)

// Config configures the ledger store.
type Config struct {
	Path        string
	Node        string        // node tag stamped on every transaction
	BusyTimeout time.Duration // 0 means default
}

type User struct {
	Name      string
	CreatedAt time.Time
}

// Kind values for Transaction.
const (
	KindDeposit  = "deposit"
	KindWithdraw = "withdraw"
	KindTransfer = "transfer"
	KindPay      = "pay"
	KindRefund   = "refund"
)

// Transaction is one ledger entry. From/To are empty for the external
// side of deposits, withdrawals and outside payments. (Seq, Node) is the
// unique id: a logical clock plus the tag of the node that created it.
type Transaction struct {
	Seq    int64
	Node   string
	From   string
	To     string
	Amount float64
	Kind   string
	At     time.Time
}

// Stats is the system-status bundle the dashboard polls.
type Stats struct {
	Users        int64
	Transactions int64
	TotalVolume  float64
	DBBytes      int64
}
