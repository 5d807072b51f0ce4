// Package store defines the primitives shared by the storage engines.
package store

// Transaction is a generic interface that store implementations can use to
// provide atomicity.
type Transaction interface {
	// OnCommit adds a callback to be executed after the transaction
	// successfully commits. Callbacks run in the order they were added and are
	// dropped if the transaction is rolled back.
	OnCommit(func())
}
