package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/SuperGrowthServices/parts-market/internal/database"
	"github.com/SuperGrowthServices/parts-market/internal/models"
)

type AcceptanceResult struct {
	BidID            int64           `json:"bid_id"`
	PartID           int64           `json:"part_id"`
	OrderID          int64           `json:"order_id"`
	VendorID         string          `json:"vendor_id"`
	Price            decimal.Decimal `json:"price"`
	RejectedSiblings int64           `json:"rejected_siblings"`
	AlreadyAccepted  bool            `json:"already_accepted"`
	OrderStatus      string          `json:"order_status"`
}

// AcceptBid selects exactly one bid as the fulfilling offer for its part and
// rejects every pending sibling in the same transaction. Re-accepting an
// already accepted bid is an idempotent no-op.
//
// The one-accepted-bid-per-part invariant is enforced by the
// bids_one_accepted_per_part partial unique index, so two concurrent
// acceptances of different bids on the same part cannot both commit: the
// loser's UPDATE hits the index and surfaces as ErrPartAlreadyAwarded.
func AcceptBid(ctx context.Context, db *sql.DB, bidID int64, actorID string) (*AcceptanceResult, error) {
	var result *AcceptanceResult

	err := database.WithRetry(ctx, db, database.SerializableTxOptions(), func(tx *sql.Tx) error {
		result = &AcceptanceResult{BidID: bidID}

		var status string
		err := tx.QueryRowContext(ctx,
			`SELECT b.status, b.part_id, b.vendor_id, b.price, p.order_id
			 FROM bids b
			 JOIN parts p ON p.id = b.part_id
			 WHERE b.id = $1
			 FOR UPDATE OF b`, bidID).Scan(
			&status, &result.PartID, &result.VendorID, &result.Price, &result.OrderID)
		if err != nil {
			if err == sql.ErrNoRows {
				return database.ErrBidNotFound
			}
			return fmt.Errorf("load bid: %w", err)
		}

		switch status {
		case models.BidStatusAccepted:
			result.AlreadyAccepted = true
			var orderStatus string
			if err := tx.QueryRowContext(ctx,
				`SELECT status FROM orders WHERE id = $1`, result.OrderID).Scan(&orderStatus); err != nil {
				return fmt.Errorf("load order status: %w", err)
			}
			result.OrderStatus = orderStatus
			return nil
		case models.BidStatusRejected:
			return database.ErrBidUnavailable
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE bids SET status = $1, updated_at = NOW() WHERE id = $2`,
			models.BidStatusAccepted, bidID)
		if err != nil {
			if database.IsUniqueViolation(err, "bids_one_accepted_per_part") {
				return database.ErrPartAlreadyAwarded
			}
			return fmt.Errorf("accept bid: %w", err)
		}

		siblings, err := tx.ExecContext(ctx,
			`UPDATE bids
			 SET status = $1, updated_at = NOW()
			 WHERE part_id = $2
			   AND id <> $3
			   AND status = $4`,
			models.BidStatusRejected, result.PartID, bidID, models.BidStatusPending)
		if err != nil {
			return fmt.Errorf("reject sibling bids: %w", err)
		}
		result.RejectedSiblings, err = siblings.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}

		orderStatus, err := recomputeOrderStatus(ctx, tx, result.OrderID)
		if err != nil {
			return err
		}
		result.OrderStatus = orderStatus

		if err := RecordAdminAction(ctx, tx, actorID, "bid_accepted", "bid", bidID, map[string]interface{}{
			"part_id":           result.PartID,
			"order_id":          result.OrderID,
			"vendor_id":         result.VendorID,
			"price":             result.Price.String(),
			"rejected_siblings": result.RejectedSiblings,
		}); err != nil {
			return err
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}
