package integration

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/SuperGrowthServices/parts-market/internal/gateway"
	"github.com/SuperGrowthServices/parts-market/internal/models"
	"github.com/SuperGrowthServices/parts-market/internal/store"
)

func setupTestDB(t *testing.T) (*sql.DB, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:14-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpass",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	postgres, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}

	host, err := postgres.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := postgres.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://testuser:testpass@%s:%s/testdb?sslmode=disable", host, port.Port())

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}

	if err := db.Ping(); err != nil {
		t.Fatalf("Failed to ping database: %v", err)
	}

	if err := runMigrations(db); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		if err := db.Close(); err != nil {
			t.Logf("Failed to close database: %v", err)
		}
		if err := postgres.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	}

	return db, cleanup
}

func runMigrations(db *sql.DB) error {
	migrationDir := "../../migrations"
	files, err := os.ReadDir(migrationDir)
	if err != nil {
		return fmt.Errorf("read migration directory: %w", err)
	}

	var migrationFiles []string
	for _, file := range files {
		if !file.IsDir() && strings.HasSuffix(file.Name(), ".up.sql") {
			migrationFiles = append(migrationFiles, file.Name())
		}
	}

	sort.Strings(migrationFiles)

	for _, filename := range migrationFiles {
		filePath := filepath.Join(migrationDir, filename)
		content, err := os.ReadFile(filePath)
		if err != nil {
			return fmt.Errorf("read migration file %s: %w", filename, err)
		}

		if _, err := db.Exec(string(content)); err != nil {
			return fmt.Errorf("execute migration %s: %w", filename, err)
		}
	}

	return nil
}

func createApprovedVendor(t *testing.T, db *sql.DB, name string) *models.Vendor {
	t.Helper()
	ctx := context.Background()

	vendor, err := store.CreateVendor(ctx, db, name, name+"@vendors.test")
	if err != nil {
		t.Fatalf("Create vendor %s: %v", name, err)
	}
	if err := store.ApproveVendor(ctx, db, vendor.ID, "admin-1"); err != nil {
		t.Fatalf("Approve vendor %s: %v", name, err)
	}

	return vendor
}

func createTestOrder(t *testing.T, db *sql.DB, buyerID string, partNames ...string) *models.Order {
	t.Helper()
	ctx := context.Background()

	req := store.CreateOrderRequest{BuyerID: buyerID}
	for _, name := range partNames {
		req.Parts = append(req.Parts, store.PartRequest{
			Name:         name,
			Quantity:     1,
			VehicleMake:  "Toyota",
			VehicleModel: "Camry",
			VehicleYear:  2019,
		})
	}

	order, err := store.CreateOrder(ctx, db, req)
	if err != nil {
		t.Fatalf("Create order: %v", err)
	}

	return order
}

func submitTestBid(t *testing.T, db *sql.DB, partID int64, vendorID string, price int64) *models.Bid {
	t.Helper()

	bid, err := store.SubmitBid(context.Background(), db, partID, vendorID, decimal.NewFromInt(price), "")
	if err != nil {
		t.Fatalf("Submit bid on part %d: %v", partID, err)
	}

	return bid
}

// fakeGateway satisfies store.CheckoutGateway without network access.
// onCreate, when set, runs during the session call; tests use it to
// interleave other lifecycle actions with an in-flight checkout.
type fakeGateway struct {
	lastRequest gateway.CheckoutSessionRequest
	fail        bool
	onCreate    func()
}

func (f *fakeGateway) CreateCheckoutSession(ctx context.Context, req gateway.CheckoutSessionRequest) (*gateway.CheckoutSession, error) {
	f.lastRequest = req
	if f.onCreate != nil {
		f.onCreate()
	}
	if f.fail {
		return nil, context.DeadlineExceeded
	}
	return &gateway.CheckoutSession{ID: "sess_test_123", RedirectURL: "https://pay.test/sess_test_123"}, nil
}

// acceptAllParts submits one bid per part at a price of 100 and accepts it.
func acceptAllParts(t *testing.T, db *sql.DB, order *models.Order, vendorID string) {
	t.Helper()

	for _, part := range order.Parts {
		bid := submitTestBid(t, db, part.ID, vendorID, 100)
		if _, err := store.AcceptBid(context.Background(), db, bid.ID, "admin-1"); err != nil {
			t.Fatalf("Accept bid: %v", err)
		}
	}
}

// payOrder drives an order all the way to the paid state: accept one bid per
// part, open a checkout session and confirm payment.
func payOrder(t *testing.T, db *sql.DB, order *models.Order, vendorID string, paymentRef string) {
	t.Helper()
	ctx := context.Background()

	acceptAllParts(t, db, order, vendorID)

	if _, err := store.BeginCheckout(ctx, db, &fakeGateway{}, order.ID, "pickup", "buyer@test"); err != nil {
		t.Fatalf("Begin checkout: %v", err)
	}
	if _, err := store.ConfirmPayment(ctx, db, order.ID, paymentRef); err != nil {
		t.Fatalf("Confirm payment: %v", err)
	}
}
