package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/SuperGrowthServices/parts-market/internal/database"
	"github.com/SuperGrowthServices/parts-market/internal/models"
)

type OrderAggregate struct {
	Order   models.Order    `json:"order"`
	Invoice *models.Invoice `json:"invoice,omitempty"`
	Parts   []PartView      `json:"parts"`
}

type PartView struct {
	models.Part
	VehicleDisplay string       `json:"vehicle_display"`
	AcceptedBid    *models.Bid  `json:"accepted_bid,omitempty"`
	Bids           []models.Bid `json:"bids"`
}

// GetOrderAggregate joins an order with its parts, their bids and the
// invoice into one read-side projection. It is a consumer of the lifecycle,
// never a mutator, and it degrades rather than fails: a part with a
// corrupted or missing vehicle reference renders a default display value and
// a missing invoice simply stays nil.
func GetOrderAggregate(ctx context.Context, db *sql.DB, orderID int64) (*OrderAggregate, error) {
	order, err := GetOrder(ctx, db, orderID)
	if err != nil {
		return nil, err
	}

	agg := &OrderAggregate{Order: *order}

	invoice, err := getInvoiceByOrder(ctx, db, orderID)
	if err != nil && err != database.ErrInvoiceNotFound {
		return nil, err
	}
	agg.Invoice = invoice

	bidsByPart, err := listOrderBids(ctx, db, orderID)
	if err != nil {
		return nil, err
	}

	for _, part := range order.Parts {
		view := PartView{
			Part:           part,
			VehicleDisplay: vehicleDisplay(part),
			Bids:           bidsByPart[part.ID],
		}
		for i := range view.Bids {
			if view.Bids[i].Status == models.BidStatusAccepted {
				view.AcceptedBid = &view.Bids[i]
				break
			}
		}
		agg.Parts = append(agg.Parts, view)
	}

	return agg, nil
}

func vehicleDisplay(part models.Part) string {
	if part.VehicleMake == "" || part.VehicleModel == "" {
		return "Unknown vehicle"
	}
	display := part.VehicleMake + " " + part.VehicleModel
	if part.VehicleYear > 0 {
		display += " (" + strconv.Itoa(part.VehicleYear) + ")"
	}
	return display
}

func listOrderBids(ctx context.Context, db *sql.DB, orderID int64) (map[int64][]models.Bid, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT b.id, b.part_id, b.vendor_id, b.price, b.notes, b.status, b.shipped_at, b.created_at, b.updated_at
		 FROM bids b
		 JOIN parts p ON p.id = b.part_id
		 WHERE p.order_id = $1
		 ORDER BY b.price ASC, b.id ASC`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list order bids: %w", err)
	}
	defer rows.Close()

	byPart := make(map[int64][]models.Bid)
	for rows.Next() {
		bid, err := scanBid(rows)
		if err != nil {
			return nil, err
		}
		byPart[bid.PartID] = append(byPart[bid.PartID], *bid)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return byPart, nil
}

func getInvoiceByOrder(ctx context.Context, db *sql.DB, orderID int64) (*models.Invoice, error) {
	invoice := &models.Invoice{}
	var sessionRef, paymentRef sql.NullString
	var paidAt sql.NullTime

	err := db.QueryRowContext(ctx,
		`SELECT id, order_id, delivery_option, delivery_fee, amount, payment_status, session_ref, payment_ref, paid_at, created_at, updated_at
		 FROM invoices
		 WHERE order_id = $1`, orderID).Scan(
		&invoice.ID,
		&invoice.OrderID,
		&invoice.DeliveryOption,
		&invoice.DeliveryFee,
		&invoice.Amount,
		&invoice.PaymentStatus,
		&sessionRef,
		&paymentRef,
		&paidAt,
		&invoice.CreatedAt,
		&invoice.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("get invoice: %w", err)
	}

	invoice.SessionRef = sessionRef.String
	invoice.PaymentRef = paymentRef.String
	if paidAt.Valid {
		t := paidAt.Time
		invoice.PaidAt = &t
	}

	return invoice, nil
}

// vendorShare is the fraction of an accepted bid's price the vendor keeps;
// the remainder is the marketplace fee.
var vendorShare = decimal.NewFromFloat(0.90)

type EarningsSummary struct {
	VendorID string          `json:"vendor_id"`
	Realized decimal.Decimal `json:"realized"`
	Pending  decimal.Decimal `json:"pending"`
}

// VendorEarnings recomputes a vendor's earnings from bid and shipment state.
// Earnings are never stored: realized means the accepted bid's part has
// shipped (shipped_at set), pending means accepted but not yet shipped. The
// result is deterministic for a given ledger state.
func VendorEarnings(ctx context.Context, db *sql.DB, vendorID string) (*EarningsSummary, error) {
	var realized, pending decimal.Decimal

	err := db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(price) FILTER (WHERE shipped_at IS NOT NULL), 0),
		        COALESCE(SUM(price) FILTER (WHERE shipped_at IS NULL), 0)
		 FROM bids
		 WHERE vendor_id = $1
		   AND status = $2`,
		vendorID, models.BidStatusAccepted).Scan(&realized, &pending)
	if err != nil {
		return nil, fmt.Errorf("sum vendor earnings: %w", err)
	}

	return &EarningsSummary{
		VendorID: vendorID,
		Realized: realized.Mul(vendorShare),
		Pending:  pending.Mul(vendorShare),
	}, nil
}
