package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/SuperGrowthServices/parts-market/internal/database"
	"github.com/SuperGrowthServices/parts-market/internal/models"
)

type CreateOrderRequest struct {
	BuyerID string
	Parts   []PartRequest
}

type PartRequest struct {
	Name         string
	Quantity     int
	VehicleMake  string
	VehicleModel string
	VehicleYear  int
}

func generateOrderNumber() string {
	return "ORD-" + strings.ToUpper(uuid.NewString()[:8])
}

// CreateOrder opens a new part request on behalf of a buyer. Every part
// starts without shipping status; bids arrive later through the bid ledger.
func CreateOrder(ctx context.Context, db *sql.DB, req CreateOrderRequest) (*models.Order, error) {
	if req.BuyerID == "" {
		return nil, fmt.Errorf("%w: buyer id is required", database.ErrValidation)
	}
	if len(req.Parts) == 0 {
		return nil, fmt.Errorf("%w: order needs at least one part", database.ErrValidation)
	}
	for _, p := range req.Parts {
		if p.Name == "" {
			return nil, fmt.Errorf("%w: part name is required", database.ErrValidation)
		}
		if p.Quantity < 1 {
			return nil, fmt.Errorf("%w: part quantity must be positive", database.ErrValidation)
		}
	}

	var order *models.Order

	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		order = &models.Order{}
		err := tx.QueryRowContext(ctx,
			`INSERT INTO orders (buyer_id, order_number, status, is_paid, created_at, updated_at, version)
			 VALUES ($1, $2, $3, false, NOW(), NOW(), 1)
			 RETURNING id, buyer_id, order_number, status, is_paid, created_at, updated_at, version`,
			req.BuyerID, generateOrderNumber(), models.OrderStatusOpen).Scan(
			&order.ID,
			&order.BuyerID,
			&order.OrderNumber,
			&order.Status,
			&order.IsPaid,
			&order.CreatedAt,
			&order.UpdatedAt,
			&order.Version,
		)
		if err != nil {
			return fmt.Errorf("create order: %w", err)
		}

		for _, p := range req.Parts {
			var part models.Part
			err := tx.QueryRowContext(ctx,
				`INSERT INTO parts (order_id, name, quantity, vehicle_make, vehicle_model, vehicle_year, shipping_status, created_at, updated_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
				 RETURNING id, order_id, name, quantity, shipping_status, created_at, updated_at`,
				order.ID, p.Name, p.Quantity,
				nullString(p.VehicleMake), nullString(p.VehicleModel), nullInt(p.VehicleYear),
				models.ShippingStatusNone).Scan(
				&part.ID,
				&part.OrderID,
				&part.Name,
				&part.Quantity,
				&part.ShippingStatus,
				&part.CreatedAt,
				&part.UpdatedAt,
			)
			if err != nil {
				return fmt.Errorf("create part: %w", err)
			}
			part.VehicleMake = p.VehicleMake
			part.VehicleModel = p.VehicleModel
			part.VehicleYear = p.VehicleYear
			order.Parts = append(order.Parts, part)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return order, nil
}

func GetOrder(ctx context.Context, db *sql.DB, id int64) (*models.Order, error) {
	order := &models.Order{}

	err := db.QueryRowContext(ctx,
		`SELECT id, buyer_id, order_number, status, is_paid, created_at, updated_at, version
		 FROM orders
		 WHERE id = $1`, id).Scan(
		&order.ID,
		&order.BuyerID,
		&order.OrderNumber,
		&order.Status,
		&order.IsPaid,
		&order.CreatedAt,
		&order.UpdatedAt,
		&order.Version,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	parts, err := listOrderParts(ctx, db, id)
	if err != nil {
		return nil, err
	}
	order.Parts = parts

	return order, nil
}

func listOrderParts(ctx context.Context, db *sql.DB, orderID int64) ([]models.Part, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, order_id, name, quantity, vehicle_make, vehicle_model, vehicle_year, shipping_status, created_at, updated_at
		 FROM parts
		 WHERE order_id = $1
		 ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list parts: %w", err)
	}
	defer rows.Close()

	var parts []models.Part
	for rows.Next() {
		part, err := scanPart(rows)
		if err != nil {
			return nil, err
		}
		parts = append(parts, *part)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return parts, nil
}

// recomputeOrderStatus advances an order through open -> partial ->
// ready_for_checkout as its parts gain accepted bids. Statuses past checkout
// are owned by the settlement and fulfillment paths and never regress here.
func recomputeOrderStatus(ctx context.Context, tx *sql.Tx, orderID int64) (string, error) {
	var total, awarded int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE EXISTS (
		            SELECT 1 FROM bids b WHERE b.part_id = parts.id AND b.status = $2))
		 FROM parts
		 WHERE order_id = $1`,
		orderID, models.BidStatusAccepted).Scan(&total, &awarded)
	if err != nil {
		return "", fmt.Errorf("count awarded parts: %w", err)
	}

	status := models.OrderStatusOpen
	switch {
	case total > 0 && awarded == total:
		status = models.OrderStatusReadyForCheckout
	case awarded > 0:
		status = models.OrderStatusPartial
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE orders
		 SET status = $1, updated_at = NOW(), version = version + 1
		 WHERE id = $2
		   AND status IN ($3, $4, $5)`,
		status, orderID,
		models.OrderStatusOpen, models.OrderStatusPartial, models.OrderStatusReadyForCheckout)
	if err != nil {
		return "", fmt.Errorf("update order status: %w", err)
	}
	if _, err := result.RowsAffected(); err != nil {
		return "", fmt.Errorf("get rows affected: %w", err)
	}

	return status, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(n), Valid: n != 0}
}
