// Package storage is peillute's SQLite-backed ledger.
//
// It holds:
//   - User accounts
//   - The transaction log (deposits, withdrawals, transfers, payments,
//     refunds), each entry stamped with a logical clock and node tag
//
// The dashboard polls this store; every read returns a point-in-time
// snapshot, so concurrent refresh loops racing on the same sink stay
// benign.
package storage
