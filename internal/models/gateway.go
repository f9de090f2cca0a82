package models

import "context"

// GatewayService is everything the gateway API exposes.
type GatewayService interface {
	// Start runs the background jobs until Stop is called.
	Start()
	Stop()

	CreateUser(ctx context.Context, id int64) (*User, bool, error)
	GetUser(ctx context.Context, id int64) (*User, error)

	ListSubscriptions(ctx context.Context, ownerID int64) ([]*Subscription, error)
	GetSubscription(ctx context.Context, id uint) (*Subscription, error)
	// CreateSubscription provisions a config directly. months == 0 is the free trial.
	CreateSubscription(ctx context.Context, ownerID int64, name string, months int) (*ProvisionResult, error)
	RenewSubscription(ctx context.Context, id uint, months int) (*Subscription, error)
	ReinstallSubscription(ctx context.Context, id uint) (*ProvisionResult, error)
	DeleteSubscription(ctx context.Context, id uint) error
	// DiscardArtifact removes the transient config file once it was streamed.
	DiscardArtifact(result *ProvisionResult)

	OpenTransaction(ctx context.Context, req OpenTransactionRequest) (*Transaction, *Checkout, error)
	GetTransaction(ctx context.Context, id uint) (*Transaction, error)
	ConfirmTransaction(ctx context.Context, conf PaymentConfirmation) (*PaymentOutcome, error)
	FailTransaction(ctx context.Context, id uint, comment string) (*Transaction, error)
	// CheckTransaction asks the transaction's rail whether the payment arrived.
	CheckTransaction(ctx context.Context, id uint) (*PaymentOutcome, error)
	EnqueuePostback(ctx context.Context, postback Postback) error

	Notify(ctx context.Context, ownerID int64, text string)

	RegisterNode(ctx context.Context, desc NodeDescriptor, proof string) (string, error)
	NodeStatuses(ctx context.Context) ([]*Node, error)
}
