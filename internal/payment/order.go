package payment

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Viktorio135/vpn/internal/models"
)

// Order is what travels through a payment rail and comes back with the
// confirmation: who pays, for how long, and which transaction it settles.
type Order struct {
	OwnerID       int64
	Months        int
	TransactionID uint
}

func OrderFor(txn *models.Transaction) Order {
	return Order{OwnerID: txn.OwnerID, Months: txn.Months, TransactionID: txn.ID}
}

// String encodes the order as "owner_months_transaction".
func (o Order) String() string {
	return fmt.Sprintf("%d_%d_%d", o.OwnerID, o.Months, o.TransactionID)
}

func ParseOrder(s string) (Order, error) {
	parts := strings.Split(strings.TrimSpace(s), "_")
	if len(parts) != 3 {
		return Order{}, fmt.Errorf("%w: malformed order id %q", models.ErrInvalidInput, s)
	}
	owner, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || owner == 0 {
		return Order{}, fmt.Errorf("%w: bad owner in order id %q", models.ErrInvalidInput, s)
	}
	months, err := strconv.Atoi(parts[1])
	if err != nil || months < 0 {
		return Order{}, fmt.Errorf("%w: bad term in order id %q", models.ErrInvalidInput, s)
	}
	id, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil || id == 0 {
		return Order{}, fmt.Errorf("%w: bad transaction in order id %q", models.ErrInvalidInput, s)
	}
	return Order{OwnerID: owner, Months: months, TransactionID: uint(id)}, nil
}

// Matches reports whether the order was issued for txn.
func (o Order) Matches(txn *models.Transaction) bool {
	return o.TransactionID == txn.ID && o.OwnerID == txn.OwnerID && o.Months == txn.Months
}
