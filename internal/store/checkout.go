package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/SuperGrowthServices/parts-market/internal/database"
	"github.com/SuperGrowthServices/parts-market/internal/gateway"
	"github.com/SuperGrowthServices/parts-market/internal/models"
)

// CheckoutGateway is the slice of the payment provider the checkout path
// needs. The real client lives in internal/gateway; tests substitute their
// own.
type CheckoutGateway interface {
	CreateCheckoutSession(ctx context.Context, req gateway.CheckoutSessionRequest) (*gateway.CheckoutSession, error)
}

var deliveryFees = map[string]decimal.Decimal{
	"pickup":   decimal.Zero,
	"standard": decimal.NewFromInt(15),
	"express":  decimal.NewFromInt(35),
}

type CheckoutResult struct {
	OrderID     int64           `json:"order_id"`
	SessionRef  string          `json:"session_ref"`
	RedirectURL string          `json:"redirect_url"`
	Amount      decimal.Decimal `json:"amount"`
	DeliveryFee decimal.Decimal `json:"delivery_fee"`
}

// BeginCheckout creates a payment session for an order whose parts all carry
// accepted bids. The gateway call happens before any local write and outside
// any transaction; a timed-out or failed call leaves no local trace, and the
// order simply remains unpaid until a confirmation event arrives.
func BeginCheckout(ctx context.Context, db *sql.DB, gw CheckoutGateway, orderID int64, deliveryOption, buyerEmail string) (*CheckoutResult, error) {
	fee, ok := deliveryFees[deliveryOption]
	if !ok {
		return nil, fmt.Errorf("%w: unknown delivery option %q", database.ErrValidation, deliveryOption)
	}

	order, err := GetOrder(ctx, db, orderID)
	if err != nil {
		return nil, err
	}
	if order.IsPaid {
		return nil, database.ErrOrderAlreadyPaid
	}
	if order.Status != models.OrderStatusReadyForCheckout {
		return nil, database.ErrOrderNotReady
	}

	lineItems, total, err := acceptedBidLineItems(ctx, db, orderID)
	if err != nil {
		return nil, err
	}
	if len(lineItems) == 0 {
		return nil, database.ErrOrderNotReady
	}

	if fee.IsPositive() {
		lineItems = append(lineItems, gateway.LineItem{
			Description: "Delivery (" + deliveryOption + ")",
			Amount:      fee,
		})
		total = total.Add(fee)
	}

	session, err := gw.CreateCheckoutSession(ctx, gateway.CheckoutSessionRequest{
		OrderID:    strconv.FormatInt(orderID, 10),
		BuyerEmail: buyerEmail,
		LineItems:  lineItems,
	})
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}

	// Only the session reference is stored locally; payment state changes
	// exclusively through the settlement reconciler.
	err = database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO invoices (order_id, delivery_option, delivery_fee, amount, payment_status, session_ref, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
			 ON CONFLICT (order_id) DO UPDATE
			 SET delivery_option = EXCLUDED.delivery_option,
			     delivery_fee = EXCLUDED.delivery_fee,
			     amount = EXCLUDED.amount,
			     session_ref = EXCLUDED.session_ref,
			     updated_at = NOW()
			 WHERE invoices.payment_status = $5`,
			orderID, deliveryOption, fee, total, models.PaymentStatusUnpaid, session.ID)
		if err != nil {
			return fmt.Errorf("upsert invoice: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &CheckoutResult{
		OrderID:     orderID,
		SessionRef:  session.ID,
		RedirectURL: session.RedirectURL,
		Amount:      total,
		DeliveryFee: fee,
	}, nil
}

func acceptedBidLineItems(ctx context.Context, db *sql.DB, orderID int64) ([]gateway.LineItem, decimal.Decimal, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT p.name, p.quantity, b.price
		 FROM bids b
		 JOIN parts p ON p.id = b.part_id
		 WHERE p.order_id = $1
		   AND b.status = $2
		 ORDER BY p.id`, orderID, models.BidStatusAccepted)
	if err != nil {
		return nil, decimal.Zero, fmt.Errorf("list accepted bids: %w", err)
	}
	defer rows.Close()

	var items []gateway.LineItem
	total := decimal.Zero
	for rows.Next() {
		var name string
		var quantity int
		var price decimal.Decimal
		if err := rows.Scan(&name, &quantity, &price); err != nil {
			return nil, decimal.Zero, fmt.Errorf("scan accepted bid: %w", err)
		}
		items = append(items, gateway.LineItem{
			Description: fmt.Sprintf("%s x%d", name, quantity),
			Amount:      price,
		})
		total = total.Add(price)
	}

	if err := rows.Err(); err != nil {
		return nil, decimal.Zero, fmt.Errorf("rows error: %w", err)
	}

	return items, total, nil
}
