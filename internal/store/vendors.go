package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/SuperGrowthServices/parts-market/internal/database"
	"github.com/SuperGrowthServices/parts-market/internal/models"
)

// CreateVendor registers a vendor in unapproved state. Unapproved vendors
// cannot submit bids.
func CreateVendor(ctx context.Context, db *sql.DB, name, email string) (*models.Vendor, error) {
	if name == "" || email == "" {
		return nil, fmt.Errorf("%w: vendor name and email are required", database.ErrValidation)
	}

	vendor := &models.Vendor{}

	err := db.QueryRowContext(ctx,
		`INSERT INTO vendors (id, name, email, approved, created_at, updated_at, version)
		 VALUES ($1, $2, $3, false, NOW(), NOW(), 1)
		 RETURNING id, name, email, approved, created_at, updated_at, version`,
		uuid.NewString(), name, email).Scan(
		&vendor.ID,
		&vendor.Name,
		&vendor.Email,
		&vendor.Approved,
		&vendor.CreatedAt,
		&vendor.UpdatedAt,
		&vendor.Version,
	)
	if err != nil {
		return nil, fmt.Errorf("create vendor: %w", err)
	}

	return vendor, nil
}

func GetVendor(ctx context.Context, db *sql.DB, id string) (*models.Vendor, error) {
	vendor := &models.Vendor{}

	err := db.QueryRowContext(ctx,
		`SELECT id, name, email, approved, created_at, updated_at, version
		 FROM vendors
		 WHERE id = $1`, id).Scan(
		&vendor.ID,
		&vendor.Name,
		&vendor.Email,
		&vendor.Approved,
		&vendor.CreatedAt,
		&vendor.UpdatedAt,
		&vendor.Version,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrVendorNotFound
		}
		return nil, fmt.Errorf("get vendor: %w", err)
	}

	return vendor, nil
}

// ApproveVendor is an admin action and is audited in the same transaction.
// Approving an already approved vendor is a no-op.
func ApproveVendor(ctx context.Context, db *sql.DB, vendorID, actorID string) error {
	return database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		var approved bool
		err := tx.QueryRowContext(ctx,
			`SELECT approved FROM vendors WHERE id = $1 FOR UPDATE`, vendorID).Scan(&approved)
		if err != nil {
			if err == sql.ErrNoRows {
				return database.ErrVendorNotFound
			}
			return fmt.Errorf("load vendor: %w", err)
		}
		if approved {
			return nil
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE vendors
			 SET approved = true, updated_at = NOW(), version = version + 1
			 WHERE id = $1`, vendorID)
		if err != nil {
			return fmt.Errorf("approve vendor: %w", err)
		}

		return RecordAdminAction(ctx, tx, actorID, "vendor_approved", "vendor", 0, map[string]interface{}{
			"vendor_id": vendorID,
		})
	})
}
