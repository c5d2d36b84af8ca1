package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/SuperGrowthServices/parts-market/internal/database"
	"github.com/SuperGrowthServices/parts-market/internal/models"
)

// SubmitBid records a vendor's priced offer on a part. A vendor may hold at
// most one non-rejected bid per part; the bids_one_active_per_vendor index
// enforces that even when the same vendor submits from two sessions. Bidding
// closes once the part is awarded; a bid on an awarded part could never be
// accepted and would only clutter the ledger.
func SubmitBid(ctx context.Context, db *sql.DB, partID int64, vendorID string, price decimal.Decimal, notes string) (*models.Bid, error) {
	if vendorID == "" {
		return nil, fmt.Errorf("%w: vendor id is required", database.ErrValidation)
	}
	if !price.IsPositive() {
		return nil, fmt.Errorf("%w: bid price must be positive", database.ErrValidation)
	}

	var bid *models.Bid

	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		var approved bool
		err := tx.QueryRowContext(ctx,
			`SELECT approved FROM vendors WHERE id = $1`, vendorID).Scan(&approved)
		if err != nil {
			if err == sql.ErrNoRows {
				return database.ErrVendorNotFound
			}
			return fmt.Errorf("check vendor: %w", err)
		}
		if !approved {
			return database.ErrVendorNotApproved
		}

		var exists, awarded bool
		err = tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM parts WHERE id = $1),
			        EXISTS(SELECT 1 FROM bids WHERE part_id = $1 AND status = $2)`,
			partID, models.BidStatusAccepted).Scan(&exists, &awarded)
		if err != nil {
			return fmt.Errorf("check part: %w", err)
		}
		if !exists {
			return database.ErrPartNotFound
		}
		if awarded {
			return database.ErrPartAlreadyAwarded
		}

		bid = &models.Bid{}
		err = tx.QueryRowContext(ctx,
			`INSERT INTO bids (part_id, vendor_id, price, notes, status, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
			 RETURNING id, part_id, vendor_id, price, notes, status, created_at, updated_at`,
			partID, vendorID, price, notes, models.BidStatusPending).Scan(
			&bid.ID,
			&bid.PartID,
			&bid.VendorID,
			&bid.Price,
			&bid.Notes,
			&bid.Status,
			&bid.CreatedAt,
			&bid.UpdatedAt,
		)
		if err != nil {
			if database.IsUniqueViolation(err, "bids_one_active_per_vendor") {
				return database.ErrDuplicateBid
			}
			return fmt.Errorf("create bid: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return bid, nil
}

// WithdrawBid marks a vendor's own pending bid rejected, freeing the vendor
// to bid again. Accepted bids are immutable and cannot be withdrawn.
func WithdrawBid(ctx context.Context, db *sql.DB, bidID int64, vendorID string) error {
	return database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		var owner, status string
		err := tx.QueryRowContext(ctx,
			`SELECT vendor_id, status FROM bids WHERE id = $1 FOR UPDATE`, bidID).Scan(&owner, &status)
		if err != nil {
			if err == sql.ErrNoRows {
				return database.ErrBidNotFound
			}
			return fmt.Errorf("load bid: %w", err)
		}

		if owner != vendorID {
			return database.ErrNotBidOwner
		}
		if status == models.BidStatusAccepted {
			return database.ErrBidAlreadyAccepted
		}
		if status == models.BidStatusRejected {
			return nil
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE bids SET status = $1, updated_at = NOW() WHERE id = $2`,
			models.BidStatusRejected, bidID)
		if err != nil {
			return fmt.Errorf("withdraw bid: %w", err)
		}

		return nil
	})
}

// ListBids returns every bid on a part, cheapest first. The lowest bid is
// highlighted in dashboards but never auto-selected; acceptance stays a
// manual decision.
func ListBids(ctx context.Context, db *sql.DB, partID int64) ([]models.Bid, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, part_id, vendor_id, price, notes, status, shipped_at, created_at, updated_at
		 FROM bids
		 WHERE part_id = $1
		 ORDER BY price ASC, id ASC`, partID)
	if err != nil {
		return nil, fmt.Errorf("list bids: %w", err)
	}
	defer rows.Close()

	var bids []models.Bid
	for rows.Next() {
		bid, err := scanBid(rows)
		if err != nil {
			return nil, err
		}
		bids = append(bids, *bid)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return bids, nil
}

func GetBid(ctx context.Context, db *sql.DB, id int64) (*models.Bid, error) {
	row := db.QueryRowContext(ctx,
		`SELECT id, part_id, vendor_id, price, notes, status, shipped_at, created_at, updated_at
		 FROM bids
		 WHERE id = $1`, id)

	bid, err := scanBid(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrBidNotFound
		}
		return nil, err
	}

	return bid, nil
}

func scanBid(row rowScanner) (*models.Bid, error) {
	bid := &models.Bid{}
	var shippedAt sql.NullTime

	err := row.Scan(
		&bid.ID,
		&bid.PartID,
		&bid.VendorID,
		&bid.Price,
		&bid.Notes,
		&bid.Status,
		&shippedAt,
		&bid.CreatedAt,
		&bid.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan bid: %w", err)
	}

	if shippedAt.Valid {
		t := shippedAt.Time
		bid.ShippedAt = &t
	}

	return bid, nil
}
