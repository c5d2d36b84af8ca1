package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/SuperGrowthServices/parts-market/internal/database"
	"github.com/SuperGrowthServices/parts-market/internal/models"
)

type SettlementResult struct {
	OrderID      int64     `json:"order_id"`
	PaymentRef   string    `json:"payment_ref"`
	AlreadyPaid  bool      `json:"already_paid"`
	PartsStamped int64     `json:"parts_stamped"`
	PaidAt       time.Time `json:"paid_at"`
}

// ConfirmPayment applies a payment-confirmation event to the order, its
// invoice and its parts in one transaction. The gateway delivers events
// at-least-once; a redelivery for an already paid invoice is a no-op that
// reports the original paid_at rather than re-stamping anything. Transient
// failures roll back whole and are safe to re-drive on the next delivery.
func ConfirmPayment(ctx context.Context, db *sql.DB, orderID int64, paymentRef string) (*SettlementResult, error) {
	if paymentRef == "" {
		return nil, fmt.Errorf("%w: payment reference is required", database.ErrValidation)
	}

	var result *SettlementResult

	err := database.WithRetry(ctx, db, database.SerializableTxOptions(), func(tx *sql.Tx) error {
		result = &SettlementResult{OrderID: orderID, PaymentRef: paymentRef}

		var status string
		var paidAt sql.NullTime
		var existingRef sql.NullString
		err := tx.QueryRowContext(ctx,
			`SELECT payment_status, paid_at, payment_ref
			 FROM invoices
			 WHERE order_id = $1
			 FOR UPDATE`, orderID).Scan(&status, &paidAt, &existingRef)
		if err != nil {
			if err == sql.ErrNoRows {
				return database.ErrInvoiceNotFound
			}
			return fmt.Errorf("load invoice: %w", err)
		}

		if status == models.PaymentStatusPaid {
			result.AlreadyPaid = true
			result.PaidAt = paidAt.Time
			result.PaymentRef = existingRef.String
			return nil
		}

		err = tx.QueryRowContext(ctx,
			`UPDATE invoices
			 SET payment_status = $1, payment_ref = $2, paid_at = NOW(), updated_at = NOW()
			 WHERE order_id = $3
			 RETURNING paid_at`,
			models.PaymentStatusPaid, paymentRef, orderID).Scan(&result.PaidAt)
		if err != nil {
			return fmt.Errorf("mark invoice paid: %w", err)
		}

		orderRes, err := tx.ExecContext(ctx,
			`UPDATE orders
			 SET status = $1, is_paid = true, updated_at = NOW(), version = version + 1
			 WHERE id = $2`,
			models.OrderStatusReadyForPickup, orderID)
		if err != nil {
			return fmt.Errorf("mark order paid: %w", err)
		}
		affected, err := orderRes.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if affected == 0 {
			return database.ErrOrderNotFound
		}

		parts, err := tx.ExecContext(ctx,
			`UPDATE parts
			 SET shipping_status = $1, updated_at = NOW()
			 WHERE order_id = $2
			   AND shipping_status = $3`,
			models.ShippingStatusPendingPickup, orderID, models.ShippingStatusNone)
		if err != nil {
			return fmt.Errorf("stamp parts pending pickup: %w", err)
		}
		result.PartsStamped, err = parts.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}
