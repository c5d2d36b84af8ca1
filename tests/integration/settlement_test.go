package integration

import (
	"context"
	"sync"
	"testing"

	"github.com/SuperGrowthServices/parts-market/internal/database"
	"github.com/SuperGrowthServices/parts-market/internal/models"
	"github.com/SuperGrowthServices/parts-market/internal/store"
)

func TestBeginCheckout(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	vendor := createApprovedVendor(t, db, "vendor-checkout")
	order := createTestOrder(t, db, "buyer-1", "Clutch kit", "Flywheel")
	acceptAllParts(t, db, order, vendor.ID)

	gw := &fakeGateway{}
	result, err := store.BeginCheckout(ctx, db, gw, order.ID, "standard", "buyer@test")
	if err != nil {
		t.Fatalf("Begin checkout: %v", err)
	}

	if result.SessionRef != "sess_test_123" {
		t.Errorf("Expected session ref sess_test_123, got %s", result.SessionRef)
	}
	// 2 parts at 100 plus the standard delivery fee of 15.
	if result.Amount.String() != "215" {
		t.Errorf("Expected amount 215, got %s", result.Amount)
	}
	if gw.lastRequest.OrderID == "" {
		t.Error("Gateway request should carry the order id as metadata")
	}
	if len(gw.lastRequest.LineItems) != 3 {
		t.Errorf("Expected 3 line items (2 bids + delivery), got %d", len(gw.lastRequest.LineItems))
	}

	agg, err := store.GetOrderAggregate(ctx, db, order.ID)
	if err != nil {
		t.Fatalf("Get aggregate: %v", err)
	}
	if agg.Invoice == nil {
		t.Fatal("Expected invoice after checkout")
	}
	if agg.Invoice.PaymentStatus != models.PaymentStatusUnpaid {
		t.Errorf("Invoice should remain unpaid until confirmation, got %s", agg.Invoice.PaymentStatus)
	}
}

func TestBeginCheckoutGatewayFailureLeavesNoTrace(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	vendor := createApprovedVendor(t, db, "vendor-gwfail")
	order := createTestOrder(t, db, "buyer-1", "Shock absorber")
	acceptAllParts(t, db, order, vendor.ID)

	gw := &fakeGateway{fail: true}
	if _, err := store.BeginCheckout(ctx, db, gw, order.ID, "pickup", "buyer@test"); err == nil {
		t.Fatal("Expected gateway failure")
	}

	var invoices int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM invoices WHERE order_id = $1`, order.ID).Scan(&invoices); err != nil {
		t.Fatalf("Count invoices: %v", err)
	}
	if invoices != 0 {
		t.Errorf("Gateway failure must leave no invoice, found %d", invoices)
	}
}

func TestBeginCheckoutOnPaidOrder(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	vendor := createApprovedVendor(t, db, "vendor-repay")
	order := createTestOrder(t, db, "buyer-1", "Head gasket")
	payOrder(t, db, order, vendor.ID, "pay_done")

	before, err := store.GetOrderAggregate(ctx, db, order.ID)
	if err != nil {
		t.Fatalf("Get aggregate: %v", err)
	}

	if _, err := store.BeginCheckout(ctx, db, &fakeGateway{}, order.ID, "express", "buyer@test"); err != database.ErrOrderAlreadyPaid {
		t.Fatalf("Expected order already paid error, got: %v", err)
	}

	after, err := store.GetOrderAggregate(ctx, db, order.ID)
	if err != nil {
		t.Fatalf("Get aggregate: %v", err)
	}
	if after.Invoice.PaymentStatus != models.PaymentStatusPaid {
		t.Errorf("Paid invoice must stay paid, got %s", after.Invoice.PaymentStatus)
	}
	if !after.Invoice.PaidAt.Equal(*before.Invoice.PaidAt) {
		t.Errorf("paid_at changed: %v vs %v", before.Invoice.PaidAt, after.Invoice.PaidAt)
	}
	if after.Invoice.DeliveryOption != before.Invoice.DeliveryOption {
		t.Errorf("Delivery option changed on refused checkout: %s vs %s",
			before.Invoice.DeliveryOption, after.Invoice.DeliveryOption)
	}
}

// TestBeginCheckoutRaceWithSettlement settles the order while the checkout's
// gateway call is in flight, after the unpaid precondition was read. The
// invoice upsert must not overwrite a paid invoice.
func TestBeginCheckoutRaceWithSettlement(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	vendor := createApprovedVendor(t, db, "vendor-settle-race")
	order := createTestOrder(t, db, "buyer-1", "Drive shaft")
	acceptAllParts(t, db, order, vendor.ID)

	// First checkout creates the unpaid invoice (pickup, amount 100).
	if _, err := store.BeginCheckout(ctx, db, &fakeGateway{}, order.ID, "pickup", "buyer@test"); err != nil {
		t.Fatalf("First checkout: %v", err)
	}

	gw := &fakeGateway{onCreate: func() {
		if _, err := store.ConfirmPayment(ctx, db, order.ID, "pay_mid_flight"); err != nil {
			t.Errorf("Mid-flight confirmation: %v", err)
		}
	}}
	if _, err := store.BeginCheckout(ctx, db, gw, order.ID, "express", "buyer@test"); err != nil {
		t.Fatalf("Racing checkout: %v", err)
	}

	agg, err := store.GetOrderAggregate(ctx, db, order.ID)
	if err != nil {
		t.Fatalf("Get aggregate: %v", err)
	}
	if agg.Invoice.PaymentStatus != models.PaymentStatusPaid {
		t.Errorf("Invoice must stay paid, got %s", agg.Invoice.PaymentStatus)
	}
	if agg.Invoice.DeliveryOption != "pickup" {
		t.Errorf("Racing checkout must not rewrite a paid invoice, delivery option is %s", agg.Invoice.DeliveryOption)
	}
	if agg.Invoice.Amount.String() != "100" {
		t.Errorf("Racing checkout must not rewrite a paid invoice, amount is %s", agg.Invoice.Amount)
	}
	if agg.Invoice.PaymentRef != "pay_mid_flight" {
		t.Errorf("Settlement payment ref lost: %s", agg.Invoice.PaymentRef)
	}
}

func TestBeginCheckoutRequiresAcceptedBids(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	order := createTestOrder(t, db, "buyer-1", "Windshield")

	_, err := store.BeginCheckout(context.Background(), db, &fakeGateway{}, order.ID, "standard", "buyer@test")
	if err != database.ErrOrderNotReady {
		t.Errorf("Expected order not ready error, got: %v", err)
	}
}

func TestConfirmPayment(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	vendor := createApprovedVendor(t, db, "vendor-settle")
	order := createTestOrder(t, db, "buyer-1", "Door panel", "Window regulator")
	acceptAllParts(t, db, order, vendor.ID)

	if _, err := store.BeginCheckout(ctx, db, &fakeGateway{}, order.ID, "standard", "buyer@test"); err != nil {
		t.Fatalf("Begin checkout: %v", err)
	}

	result, err := store.ConfirmPayment(ctx, db, order.ID, "pay_abc")
	if err != nil {
		t.Fatalf("Confirm payment: %v", err)
	}

	if result.AlreadyPaid {
		t.Error("First confirmation should not report already paid")
	}
	if result.PartsStamped != 2 {
		t.Errorf("Expected 2 parts stamped, got %d", result.PartsStamped)
	}

	agg, err := store.GetOrderAggregate(ctx, db, order.ID)
	if err != nil {
		t.Fatalf("Get aggregate: %v", err)
	}
	if !agg.Order.IsPaid {
		t.Error("Order should be paid")
	}
	if agg.Order.Status != models.OrderStatusReadyForPickup {
		t.Errorf("Expected ready_for_pickup, got %s", agg.Order.Status)
	}
	if agg.Invoice.PaymentStatus != models.PaymentStatusPaid {
		t.Errorf("Expected paid invoice, got %s", agg.Invoice.PaymentStatus)
	}
	if agg.Invoice.PaidAt == nil {
		t.Error("Invoice paid_at should be set")
	}
	for _, part := range agg.Parts {
		if part.ShippingStatus != models.ShippingStatusPendingPickup {
			t.Errorf("Part %d: expected pending_pickup, got %s", part.ID, part.ShippingStatus)
		}
	}
}

// TestConfirmPaymentRedelivery mirrors the gateway's at-least-once contract:
// processing the same confirmation twice must not re-stamp anything, and the
// replay must report the original paid_at.
func TestConfirmPaymentRedelivery(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	vendor := createApprovedVendor(t, db, "vendor-redeliver")
	order := createTestOrder(t, db, "buyer-1", "Exhaust manifold")
	acceptAllParts(t, db, order, vendor.ID)

	if _, err := store.BeginCheckout(ctx, db, &fakeGateway{}, order.ID, "pickup", "buyer@test"); err != nil {
		t.Fatalf("Begin checkout: %v", err)
	}

	first, err := store.ConfirmPayment(ctx, db, order.ID, "pay_dup")
	if err != nil {
		t.Fatalf("First confirmation: %v", err)
	}

	// Move a part forward so a replayed confirmation has something to break
	// if it were not idempotent.
	if _, err := store.AdvanceShipping(ctx, db, order.Parts[0].ID, "driver-1", models.ShippingStatusPickedUp, store.TransitionEvidence{}); err != nil {
		t.Fatalf("Advance shipping: %v", err)
	}

	second, err := store.ConfirmPayment(ctx, db, order.ID, "pay_dup")
	if err != nil {
		t.Fatalf("Replayed confirmation: %v", err)
	}

	if !second.AlreadyPaid {
		t.Error("Replay should report already paid")
	}
	if !second.PaidAt.Equal(first.PaidAt) {
		t.Errorf("Replay must keep original paid_at: %v vs %v", first.PaidAt, second.PaidAt)
	}
	if second.PartsStamped != 0 {
		t.Errorf("Replay must stamp no parts, got %d", second.PartsStamped)
	}

	part, err := store.GetPart(ctx, db, order.Parts[0].ID)
	if err != nil {
		t.Fatalf("Get part: %v", err)
	}
	if part.ShippingStatus != models.ShippingStatusPickedUp {
		t.Errorf("Replay must not regress shipping status, got %s", part.ShippingStatus)
	}
}

func TestConfirmPaymentConcurrentDelivery(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	vendor := createApprovedVendor(t, db, "vendor-concurrent")
	order := createTestOrder(t, db, "buyer-1", "Battery")
	acceptAllParts(t, db, order, vendor.ID)

	if _, err := store.BeginCheckout(ctx, db, &fakeGateway{}, order.ID, "pickup", "buyer@test"); err != nil {
		t.Fatalf("Begin checkout: %v", err)
	}

	concurrency := 5
	var wg sync.WaitGroup
	results := make(chan *store.SettlementResult, concurrency)

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := store.ConfirmPayment(ctx, db, order.ID, "pay_race")
			if err != nil {
				t.Errorf("Concurrent confirmation failed: %v", err)
				return
			}
			results <- result
		}()
	}

	wg.Wait()
	close(results)

	firstProcessed := 0
	for result := range results {
		if !result.AlreadyPaid {
			firstProcessed++
		}
	}
	if firstProcessed != 1 {
		t.Errorf("Expected exactly 1 first-processing, got %d", firstProcessed)
	}
}

func TestConfirmPaymentWithoutInvoice(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	order := createTestOrder(t, db, "buyer-1", "Hood latch")

	_, err := store.ConfirmPayment(context.Background(), db, order.ID, "pay_none")
	if err != database.ErrInvoiceNotFound {
		t.Errorf("Expected invoice not found error, got: %v", err)
	}
}
