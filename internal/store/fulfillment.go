package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/SuperGrowthServices/parts-market/internal/database"
	"github.com/SuperGrowthServices/parts-market/internal/models"
)

// shippingNext is the forward chain; drivers may only step to the immediate
// next status.
var shippingNext = map[string]string{
	models.ShippingStatusNone:           models.ShippingStatusPendingPickup,
	models.ShippingStatusPendingPickup:  models.ShippingStatusPickedUp,
	models.ShippingStatusPickedUp:       models.ShippingStatusOutForDelivery,
	models.ShippingStatusOutForDelivery: models.ShippingStatusDelivered,
}

// CanAdvanceShipping reports whether a part may move from current to target
// given the payment state of its order.
func CanAdvanceShipping(current, target string, orderPaid bool) bool {
	if !orderPaid {
		return false
	}
	next, ok := shippingNext[current]
	return ok && next == target
}

type TransitionEvidence struct {
	Notes    string `json:"notes,omitempty"`
	PhotoRef string `json:"photo_ref,omitempty"`
}

type ShippingUpdate struct {
	PartID     int64  `json:"part_id"`
	OrderID    int64  `json:"order_id"`
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
	NoOp       bool   `json:"no_op"`
}

// AdvanceShipping moves a part one step along the fulfillment chain on behalf
// of a driver. A request naming the part's current status is treated as a
// redelivered action and succeeds without writing anything. Reaching
// picked_up stamps the accepted bid's shipped_at once, which is what realizes
// the vendor's earning; delivering the last part of an order completes the
// order.
func AdvanceShipping(ctx context.Context, db *sql.DB, partID int64, driverID, target string, evidence TransitionEvidence) (*ShippingUpdate, error) {
	if driverID == "" {
		return nil, fmt.Errorf("%w: driver id is required", database.ErrValidation)
	}

	var update *ShippingUpdate

	err := database.WithRetry(ctx, db, database.SerializableTxOptions(), func(tx *sql.Tx) error {
		update = &ShippingUpdate{PartID: partID, ToStatus: target}

		var current string
		var orderPaid bool
		err := tx.QueryRowContext(ctx,
			`SELECT p.shipping_status, p.order_id, o.is_paid
			 FROM parts p
			 JOIN orders o ON o.id = p.order_id
			 WHERE p.id = $1
			 FOR UPDATE OF p`, partID).Scan(&current, &update.OrderID, &orderPaid)
		if err != nil {
			if err == sql.ErrNoRows {
				return database.ErrPartNotFound
			}
			return fmt.Errorf("load part: %w", err)
		}
		update.FromStatus = current

		if current == target {
			update.NoOp = true
			return nil
		}

		if !CanAdvanceShipping(current, target, orderPaid) {
			return database.ErrInvalidTransition
		}

		return applyShippingTransition(ctx, tx, update, driverID, evidence)
	})
	if err != nil {
		return nil, err
	}

	return update, nil
}

// CancelShipping terminates fulfillment of a part from any non-delivered
// state.
func CancelShipping(ctx context.Context, db *sql.DB, partID int64, driverID string, evidence TransitionEvidence) (*ShippingUpdate, error) {
	if driverID == "" {
		return nil, fmt.Errorf("%w: driver id is required", database.ErrValidation)
	}

	var update *ShippingUpdate

	err := database.WithRetry(ctx, db, database.SerializableTxOptions(), func(tx *sql.Tx) error {
		update = &ShippingUpdate{PartID: partID, ToStatus: models.ShippingStatusCancelled}

		var current string
		err := tx.QueryRowContext(ctx,
			`SELECT shipping_status, order_id FROM parts WHERE id = $1 FOR UPDATE`,
			partID).Scan(&current, &update.OrderID)
		if err != nil {
			if err == sql.ErrNoRows {
				return database.ErrPartNotFound
			}
			return fmt.Errorf("load part: %w", err)
		}
		update.FromStatus = current

		if current == models.ShippingStatusCancelled {
			update.NoOp = true
			return nil
		}
		if current == models.ShippingStatusDelivered {
			return database.ErrInvalidTransition
		}

		return applyShippingTransition(ctx, tx, update, driverID, evidence)
	})
	if err != nil {
		return nil, err
	}

	return update, nil
}

func applyShippingTransition(ctx context.Context, tx *sql.Tx, update *ShippingUpdate, driverID string, evidence TransitionEvidence) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE parts SET shipping_status = $1, updated_at = NOW() WHERE id = $2`,
		update.ToStatus, update.PartID)
	if err != nil {
		return fmt.Errorf("update shipping status: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO shipping_events (part_id, driver_id, from_status, to_status, notes, photo_ref, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW())`,
		update.PartID, driverID, update.FromStatus, update.ToStatus, evidence.Notes, evidence.PhotoRef)
	if err != nil {
		return fmt.Errorf("record shipping event: %w", err)
	}

	if update.ToStatus == models.ShippingStatusPickedUp {
		_, err = tx.ExecContext(ctx,
			`UPDATE bids
			 SET shipped_at = NOW(), updated_at = NOW()
			 WHERE part_id = $1
			   AND status = $2
			   AND shipped_at IS NULL`,
			update.PartID, models.BidStatusAccepted)
		if err != nil {
			return fmt.Errorf("stamp bid shipped: %w", err)
		}
	}

	if update.ToStatus == models.ShippingStatusDelivered {
		var remaining int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM parts
			 WHERE order_id = $1
			   AND shipping_status NOT IN ($2, $3)`,
			update.OrderID, models.ShippingStatusDelivered, models.ShippingStatusCancelled).Scan(&remaining)
		if err != nil {
			return fmt.Errorf("count undelivered parts: %w", err)
		}
		if remaining == 0 {
			_, err = tx.ExecContext(ctx,
				`UPDATE orders
				 SET status = $1, updated_at = NOW(), version = version + 1
				 WHERE id = $2`,
				models.OrderStatusCompleted, update.OrderID)
			if err != nil {
				return fmt.Errorf("complete order: %w", err)
			}
		}
	}

	return nil
}

// ListShippingEvents returns a part's fulfillment history, oldest first.
func ListShippingEvents(ctx context.Context, db *sql.DB, partID int64) ([]models.ShippingEvent, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, part_id, driver_id, from_status, to_status, notes, photo_ref, created_at
		 FROM shipping_events
		 WHERE part_id = $1
		 ORDER BY id`, partID)
	if err != nil {
		return nil, fmt.Errorf("list shipping events: %w", err)
	}
	defer rows.Close()

	var events []models.ShippingEvent
	for rows.Next() {
		var ev models.ShippingEvent
		err := rows.Scan(
			&ev.ID,
			&ev.PartID,
			&ev.DriverID,
			&ev.FromStatus,
			&ev.ToStatus,
			&ev.Notes,
			&ev.PhotoRef,
			&ev.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan shipping event: %w", err)
		}
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return events, nil
}
