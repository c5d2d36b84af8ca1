package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/SuperGrowthServices/parts-market/internal/database"
	"github.com/SuperGrowthServices/parts-market/internal/models"
)

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanPart tolerates corrupted or missing vehicle references; the projection
// must never fail because a vehicle row was cleaned up elsewhere.
func scanPart(row rowScanner) (*models.Part, error) {
	part := &models.Part{}
	var vehicleMake, vehicleModel sql.NullString
	var vehicleYear sql.NullInt64

	err := row.Scan(
		&part.ID,
		&part.OrderID,
		&part.Name,
		&part.Quantity,
		&vehicleMake,
		&vehicleModel,
		&vehicleYear,
		&part.ShippingStatus,
		&part.CreatedAt,
		&part.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan part: %w", err)
	}

	part.VehicleMake = vehicleMake.String
	part.VehicleModel = vehicleModel.String
	part.VehicleYear = int(vehicleYear.Int64)

	return part, nil
}

func GetPart(ctx context.Context, db *sql.DB, id int64) (*models.Part, error) {
	row := db.QueryRowContext(ctx,
		`SELECT id, order_id, name, quantity, vehicle_make, vehicle_model, vehicle_year, shipping_status, created_at, updated_at
		 FROM parts
		 WHERE id = $1`, id)

	part, err := scanPart(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrPartNotFound
		}
		return nil, err
	}

	return part, nil
}
