package models

import (
	"context"
	"time"
)

type UserRepository interface {
	// EnsureUser creates the user if it does not exist yet.
	EnsureUser(ctx context.Context, id int64) (*User, bool, error)
	GetUser(ctx context.Context, id int64) (*User, error)
}

type NodeRepository interface {
	CreateNode(ctx context.Context, node *Node) error
	GetNode(ctx context.Context, id uint) (*Node, error)
	GetNodeByExternalID(ctx context.Context, externalID string) (*Node, error)
	// ListActiveNodes returns active nodes ordered by id.
	ListActiveNodes(ctx context.Context) ([]*Node, error)
	ListNodes(ctx context.Context) ([]*Node, error)
	// UpdateNodeRegistration refreshes the declared fields, stores the token and reactivates the node.
	UpdateNodeRegistration(ctx context.Context, id uint, desc NodeDescriptor, token string) error
	UpdateNodeToken(ctx context.Context, id uint, token string) error
	SetNodeActive(ctx context.Context, id uint, active bool) error
	// SaveNodeStatus stores health metrics and overwrites the client counter.
	SaveNodeStatus(ctx context.Context, id uint, status NodeStatus, seenAt time.Time) error
	IncrementNodeClients(ctx context.Context, id uint) error
	// DecrementNodeClients never lets the counter go below zero.
	DecrementNodeClients(ctx context.Context, id uint) error
}

type SubscriptionRepository interface {
	CreateSubscription(ctx context.Context, sub *Subscription) error
	GetSubscription(ctx context.Context, id uint) (*Subscription, error)
	GetSubscriptionByName(ctx context.Context, ownerID int64, name string) (*Subscription, error)
	ListSubscriptionsByOwner(ctx context.Context, ownerID int64) ([]*Subscription, error)
	ListSubscriptions(ctx context.Context) ([]*Subscription, error)
	// DeleteSubscription reports whether this call removed the row.
	DeleteSubscription(ctx context.Context, id uint) (bool, error)
	// UpdateSubscriptionExpiry sets the new expiry and clears the reminder markers.
	UpdateSubscriptionExpiry(ctx context.Context, id uint, expiresAt time.Time) error
	// CreatePaidSubscription persists sub and marks the paying transaction fulfilled
	// atomically. A transaction fulfilled before yields ErrDuplicateConfirmation.
	CreatePaidSubscription(ctx context.Context, sub *Subscription, transactionID uint, at time.Time) error
	// ApplyPaidRenewal is UpdateSubscriptionExpiry plus the fulfilment mark of the
	// paying transaction, atomically.
	ApplyPaidRenewal(ctx context.Context, id uint, expiresAt time.Time, transactionID uint, at time.Time) error
	MarkReminderSent(ctx context.Context, id uint, at time.Time) (bool, error)
	MarkExpiryNotified(ctx context.Context, id uint, at time.Time) (bool, error)
}

type TransactionRepository interface {
	CreateTransaction(ctx context.Context, txn *Transaction) error
	GetTransaction(ctx context.Context, id uint) (*Transaction, error)
	// CloseTransaction moves a pending transaction to status. Failing also requires
	// the transaction to be unpaid and free of a claim newer than staleBefore. It
	// reports false when nothing was closed.
	CloseTransaction(ctx context.Context, id uint, status TransactionStatus, externalID *string, comment string, staleBefore time.Time) (bool, error)
	// RecordTransactionPayment stores the confirmed external id of a pending
	// transaction. It reports false when the transaction is closed or carries
	// another external id.
	RecordTransactionPayment(ctx context.Context, id uint, externalID string, at time.Time) (bool, error)
	UpdateTransactionComment(ctx context.Context, id uint, comment string) error
	// ClaimTransaction marks a pending transaction as being fulfilled. A claim older
	// than staleBefore can be taken over.
	ClaimTransaction(ctx context.Context, id uint, now, staleBefore time.Time) (bool, error)
	ReleaseTransaction(ctx context.Context, id uint) error
	// ExternalIDInUse reports whether another transaction already carries externalID.
	ExternalIDInUse(ctx context.Context, externalID string, exceptID uint) (bool, error)
}

type LockRepository interface {
	AcquireLock(ctx context.Context, name, holder string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, name, holder string) error
}

// Repository is the gateway store.
type Repository interface {
	UserRepository
	NodeRepository
	SubscriptionRepository
	TransactionRepository
	LockRepository
	Close() error
}

// AddressRepository is the node-side address pool store.
type AddressRepository interface {
	CountAddresses(ctx context.Context) (int64, error)
	SeedAddresses(ctx context.Context, ips []string) error
	// FirstFreeAddress returns the free address with the lowest id or ErrNotFound.
	FirstFreeAddress(ctx context.Context) (*Address, error)
	// ClaimAddress binds a free address to clientID. It reports false if the
	// address was taken in the meantime.
	ClaimAddress(ctx context.Context, id uint, clientID int64) (bool, error)
	// ReleaseAddress frees the address only while it is still bound to clientID.
	ReleaseAddress(ctx context.Context, id uint, clientID int64) (bool, error)
	GetAddress(ctx context.Context, id uint) (*Address, error)
	Occupancy(ctx context.Context) (used int64, total int64, err error)
}

// PeerRepository is the node-side peer store.
type PeerRepository interface {
	CreatePeer(ctx context.Context, peer *Peer) error
	GetPeer(ctx context.Context, clientID int64, configName string) (*Peer, error)
	DeletePeer(ctx context.Context, id uint) error
}
