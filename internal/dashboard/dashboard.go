// Package dashboard assembles the live ledger views. Each view is a
// cached resource bound to a trigger; a scope-owned subscription
// invalidates the trigger on its polling interval, and mutations done
// through the dashboard invalidate the affected views immediately
// instead of waiting for the next tick.
package dashboard

import (
	"context"
	"time"

	"peillute/internal/refresh"
	"peillute/internal/storage"
	logx "peillute/pkg/logx"
)

// Intervals is polling policy, typically taken from config. Zero fields
// are rejected by the scheduler, so callers must fill all four.
type Intervals struct {
	Users        time.Duration
	Balance      time.Duration
	Transactions time.Duration
	Status       time.Duration
}

// Status is the system-status bundle shown in the footer view.
type Status struct {
	storage.Stats
	Node   string
	Uptime time.Duration
}

// How many ledger entries the history view keeps in memory.
const historyLimit = 50

// Dashboard owns one lifecycle scope with four auto-refreshed views.
// Close unmounts everything; no poller survives it.
type Dashboard struct {
	log     logx.Logger
	store   *storage.Store
	scope   *refresh.Scope
	started time.Time

	users        *view[[]storage.User]
	balances     *view[map[string]float64]
	transactions *view[[]storage.Transaction]
	status       *view[Status]
}

// view bundles one resource's moving parts.
type view[T any] struct {
	trigger *refresh.Trigger
	sink    *refresh.Sink[T]
}

func newView[T any]() *view[T] {
	return &view[T]{trigger: refresh.NewTrigger(), sink: refresh.NewSink[T]()}
}

func bindView[T any](sc *refresh.Scope, log logx.Logger, name string, interval time.Duration, v *view[T], fetch refresh.FetchFunc[T]) error {
	if _, err := refresh.BindResource(sc, log, name, v.trigger, fetch, v.sink); err != nil {
		return err
	}
	_, err := refresh.AutoRefresh(sc, name, interval, v.trigger)
	return err
}

// Mount performs the initial load of every view and starts their
// polling subscriptions. On any error the partially mounted scope is
// torn down before returning.
func Mount(sched *refresh.Scheduler, log logx.Logger, store *storage.Store, iv Intervals) (*Dashboard, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dashboard{
		log:          log,
		store:        store,
		started:      time.Now(),
		users:        newView[[]storage.User](),
		balances:     newView[map[string]float64](),
		transactions: newView[[]storage.Transaction](),
		status:       newView[Status](),
	}

	scope, err := refresh.Mount(sched, log, func(sc *refresh.Scope) error {
		if err := bindView(sc, log, "dashboard/users", iv.Users, d.users, d.fetchUsers); err != nil {
			return err
		}
		if err := bindView(sc, log, "dashboard/balances", iv.Balance, d.balances, d.fetchBalances); err != nil {
			return err
		}
		if err := bindView(sc, log, "dashboard/transactions", iv.Transactions, d.transactions, d.fetchTransactions); err != nil {
			return err
		}
		return bindView(sc, log, "dashboard/status", iv.Status, d.status, d.fetchStatus)
	})
	if err != nil {
		return nil, err
	}
	d.scope = scope

	log.Info("dashboard mounted",
		logx.Duration("users", iv.Users),
		logx.Duration("balance", iv.Balance),
		logx.Duration("transactions", iv.Transactions),
		logx.Duration("status", iv.Status))
	return d, nil
}

// Close unmounts the dashboard. Idempotent.
func (d *Dashboard) Close() { d.scope.Close() }

// Value streams.

func (d *Dashboard) Users() *refresh.Sink[[]storage.User]               { return d.users.sink }
func (d *Dashboard) Balances() *refresh.Sink[map[string]float64]        { return d.balances.sink }
func (d *Dashboard) Transactions() *refresh.Sink[[]storage.Transaction] { return d.transactions.sink }
func (d *Dashboard) Status() *refresh.Sink[Status]                      { return d.status.sink }

// Invalidate marks every view stale at once (pull-to-refresh).
func (d *Dashboard) Invalidate() {
	d.users.trigger.Invalidate()
	d.invalidateMoney()
}

// invalidateMoney marks the views that change whenever money moves.
func (d *Dashboard) invalidateMoney() {
	d.balances.trigger.Invalidate()
	d.transactions.trigger.Invalidate()
	d.status.trigger.Invalidate()
}

// ---- fetchers ----

func (d *Dashboard) fetchUsers(ctx context.Context) ([]storage.User, error) {
	return d.store.Users(ctx)
}

func (d *Dashboard) fetchBalances(ctx context.Context) (map[string]float64, error) {
	users, err := d.store.Users(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(users))
	for _, u := range users {
		bal, err := d.store.Balance(ctx, u.Name)
		if err != nil {
			return nil, err
		}
		out[u.Name] = bal
	}
	return out, nil
}

func (d *Dashboard) fetchTransactions(ctx context.Context) ([]storage.Transaction, error) {
	return d.store.Transactions(ctx, historyLimit)
}

func (d *Dashboard) fetchStatus(ctx context.Context) (Status, error) {
	st, err := d.store.Stats(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Stats:  st,
		Node:   d.store.Node(),
		Uptime: time.Since(d.started),
	}, nil
}

// ---- mutations ----
//
// These wrap the store so callers get immediate view refreshes instead
// of waiting out a polling interval.

func (d *Dashboard) CreateUser(ctx context.Context, name string) error {
	if err := d.store.CreateUser(ctx, name); err != nil {
		return err
	}
	d.Invalidate()
	return nil
}

func (d *Dashboard) Deposit(ctx context.Context, name string, amount float64) (storage.Transaction, error) {
	tx, err := d.store.Deposit(ctx, name, amount)
	if err != nil {
		return storage.Transaction{}, err
	}
	d.invalidateMoney()
	return tx, nil
}

func (d *Dashboard) Withdraw(ctx context.Context, name string, amount float64) (storage.Transaction, error) {
	tx, err := d.store.Withdraw(ctx, name, amount)
	if err != nil {
		return storage.Transaction{}, err
	}
	d.invalidateMoney()
	return tx, nil
}

func (d *Dashboard) Transfer(ctx context.Context, from, to string, amount float64) (storage.Transaction, error) {
	tx, err := d.store.Transfer(ctx, from, to, amount)
	if err != nil {
		return storage.Transaction{}, err
	}
	d.invalidateMoney()
	return tx, nil
}

func (d *Dashboard) Pay(ctx context.Context, from string, amount float64) (storage.Transaction, error) {
	tx, err := d.store.Pay(ctx, from, amount)
	if err != nil {
		return storage.Transaction{}, err
	}
	d.invalidateMoney()
	return tx, nil
}

func (d *Dashboard) Refund(ctx context.Context, seq int64, node string) (storage.Transaction, error) {
	tx, err := d.store.Refund(ctx, seq, node)
	if err != nil {
		return storage.Transaction{}, err
	}
	d.invalidateMoney()
	return tx, nil
}
