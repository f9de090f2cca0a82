package models

import "time"

// PaymentMethod tags the payment rail a transaction is settled through.
type PaymentMethod string

const (
	// MethodCustodial is a hosted invoice (CryptoCloud) confirmed by a postback.
	MethodCustodial PaymentMethod = "custodial"
	// MethodOnChain is a direct token transfer found by polling an explorer.
	MethodOnChain PaymentMethod = "onchain"
	// MethodInApp is a Telegram Stars payment.
	MethodInApp PaymentMethod = "inapp"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCustodial, MethodOnChain, MethodInApp:
		return true
	}
	return false
}

type TransactionType string

const (
	TypePurchase TransactionType = "purchase"
	TypeRenewal  TransactionType = "renewal"
)

func (t TransactionType) Valid() bool {
	return t == TypePurchase || t == TypeRenewal
}

type TransactionStatus string

const (
	StatusPending TransactionStatus = "pending"
	StatusSuccess TransactionStatus = "success"
	StatusFailed  TransactionStatus = "failed"
)

// Transaction is one payment attempt. Status moves from pending to success or
// failed exactly once.
type Transaction struct {
	ID       uint              `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	OwnerID  int64             `json:"owner_id" gorm:"column:owner_id;not null;index"`
	Amount   float64           `json:"amount" gorm:"column:amount;not null"`
	Currency string            `json:"currency" gorm:"column:currency;not null"`
	Method   PaymentMethod     `json:"method" gorm:"column:method;not null"`
	Type     TransactionType   `json:"type" gorm:"column:type;not null"`
	Status   TransactionStatus `json:"status" gorm:"column:status;not null;index"`
	// ExternalID correlates the transaction with the payment rail. Unique once set.
	ExternalID *string `json:"external_id,omitempty" gorm:"column:external_id;uniqueIndex"`
	Comment    string  `json:"comment" gorm:"column:comment"`

	// Months is the purchased term. Zero means free trial.
	Months int `json:"months" gorm:"column:months;not null"`
	// SubscriptionID is the renewal target.
	SubscriptionID *uint `json:"subscription_id,omitempty" gorm:"column:subscription_id"`
	// ConfigName is the purchase target.
	ConfigName string `json:"config_name,omitempty" gorm:"column:config_name"`
	// PayerAddress is the source address declared for on-chain payments.
	PayerAddress string `json:"payer_address,omitempty" gorm:"column:payer_address"`
	// ClaimedAt marks a fulfilment in flight.
	ClaimedAt *time.Time `json:"-" gorm:"column:claimed_at"`
	// PaidAt is set once the rail confirmed ExternalID, before fulfilment. A paid
	// transaction can no longer fail.
	PaidAt *time.Time `json:"paid_at,omitempty" gorm:"column:paid_at"`
	// FulfilledAt is written together with the subscription change it paid for.
	FulfilledAt *time.Time `json:"fulfilled_at,omitempty" gorm:"column:fulfilled_at"`

	CreatedAt time.Time `json:"created_at" gorm:"column:created_at"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at"`
}

// OpenTransactionRequest starts a payment flow.
type OpenTransactionRequest struct {
	OwnerID        int64           `json:"owner_id" binding:"required"`
	Amount         float64         `json:"amount" binding:"required,gt=0"`
	Currency       string          `json:"currency" binding:"required"`
	Method         PaymentMethod   `json:"method" binding:"required"`
	Type           TransactionType `json:"type" binding:"required"`
	Months         int             `json:"months" binding:"required,min=1"`
	SubscriptionID *uint           `json:"subscription_id"`
	ConfigName     string          `json:"config_name"`
	PayerAddress   string          `json:"payer_address"`
}

// Checkout tells the client how to pay for an opened transaction.
type Checkout struct {
	// URL is the hosted payment page (custodial rail).
	URL string `json:"url,omitempty"`
	// InvoiceID is the processor-side invoice identifier (custodial rail).
	InvoiceID string `json:"invoice_id,omitempty"`
	// DepositAddress receives the transfer (on-chain rail).
	DepositAddress string `json:"deposit_address,omitempty"`
	// OrderID travels with the payment and comes back on confirmation.
	OrderID string  `json:"order_id"`
	Amount  float64 `json:"amount"`
	// Currency is the rail currency, e.g. USDT or XTR.
	Currency string `json:"currency"`
}

// PaymentConfirmation is an external signal that a transaction was paid (or not).
type PaymentConfirmation struct {
	TransactionID uint `json:"transaction_id"`
	// Paid is false when the rail reports a failed or cancelled payment.
	Paid       bool    `json:"paid"`
	ExternalID string  `json:"external_id"`
	Amount     float64 `json:"amount"`
	Currency   string  `json:"currency"`
	// Signature is the rail's proof of origin, when it provides one.
	Signature string `json:"-"`
	Comment   string `json:"comment"`
}

// PaymentOutcome reports what a confirmation did.
type PaymentOutcome struct {
	Transaction  *Transaction     `json:"transaction"`
	Subscription *Subscription    `json:"subscription,omitempty"`
	Provisioned  *ProvisionResult `json:"-"`
	// Duplicate is set when the transaction had already been closed the same way.
	Duplicate bool `json:"duplicate"`
}

// Postback is a queued custodial payment webhook.
type Postback struct {
	Status        string `json:"status"`
	InvoiceID     string `json:"invoice_id"`
	AmountCrypto  string `json:"amount_crypto"`
	Currency      string `json:"currency"`
	OrderID       string `json:"order_id"`
	Token         string `json:"token"`
	ReceivedAtUTC int64  `json:"received_at"`
}
