package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/SuperGrowthServices/parts-market/internal/config"
	"github.com/SuperGrowthServices/parts-market/internal/database"
	"github.com/SuperGrowthServices/parts-market/internal/events"
	"github.com/SuperGrowthServices/parts-market/internal/gateway"
	"github.com/SuperGrowthServices/parts-market/internal/store"
)

type server struct {
	db       *sql.DB
	gw       *gateway.Client
	producer *events.Producer
	cfg      *config.Config
	logger   *zap.SugaredLogger
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}

	zlog, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Init logger: %v", err)
	}
	defer zlog.Sync()
	logger := zlog.Sugar()

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		logger.Fatalw("connect to database", "error", err)
	}
	defer db.Close()

	logger.Info("connected to database")

	producer := events.NewProducer(&cfg.Events)
	defer producer.Close()

	s := &server{
		db:       db,
		gw:       gateway.NewClient(&cfg.Gateway),
		producer: producer,
		cfg:      cfg,
		logger:   logger,
	}

	r := chi.NewRouter()

	r.Post("/vendors", s.handleCreateVendor)
	r.Post("/vendors/{vendorID}/approve", s.handleApproveVendor)
	r.Get("/vendors/{vendorID}/earnings", s.handleVendorEarnings)

	r.Post("/orders", s.handleCreateOrder)
	r.Get("/orders", s.handleListOrders)
	r.Get("/orders/{orderID}", s.handleGetOrder)
	r.Post("/orders/{orderID}/checkout", s.handleCheckout)

	r.Post("/parts/{partID}/bids", s.handleSubmitBid)
	r.Get("/parts/{partID}/bids", s.handleListBids)
	r.Delete("/bids/{bidID}", s.handleWithdrawBid)
	r.Post("/bids/{bidID}/accept", s.handleAcceptBid)

	r.Post("/parts/{partID}/shipping", s.handleAdvanceShipping)
	r.Get("/parts/{partID}/shipping", s.handleShippingHistory)

	r.Post("/webhooks/payment", s.handlePaymentWebhook)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Infow("server starting", "port", cfg.Server.Port)
	if err := srv.ListenAndServe(); err != nil {
		logger.Fatalw("server error", "error", err)
	}
}

func (s *server) handleCreateVendor(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	vendor, err := store.CreateVendor(r.Context(), s.db, req.Name, req.Email)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, vendor)
}

func (s *server) handleApproveVendor(w http.ResponseWriter, r *http.Request) {
	adminID := r.Header.Get("X-Admin-ID")
	if adminID == "" {
		respondError(w, http.StatusBadRequest, "X-Admin-ID header is required")
		return
	}

	vendorID := chi.URLParam(r, "vendorID")
	if err := store.ApproveVendor(r.Context(), s.db, vendorID, adminID); err != nil {
		s.respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "approved"})
}

func (s *server) handleVendorEarnings(w http.ResponseWriter, r *http.Request) {
	vendorID := chi.URLParam(r, "vendorID")

	earnings, err := store.VendorEarnings(r.Context(), s.db, vendorID)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, earnings)
}

func (s *server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BuyerID string `json:"buyer_id"`
		Parts   []struct {
			Name         string `json:"name"`
			Quantity     int    `json:"quantity"`
			VehicleMake  string `json:"vehicle_make"`
			VehicleModel string `json:"vehicle_model"`
			VehicleYear  int    `json:"vehicle_year"`
		} `json:"parts"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	createReq := store.CreateOrderRequest{BuyerID: req.BuyerID}
	for _, p := range req.Parts {
		createReq.Parts = append(createReq.Parts, store.PartRequest{
			Name:         p.Name,
			Quantity:     p.Quantity,
			VehicleMake:  p.VehicleMake,
			VehicleModel: p.VehicleModel,
			VehicleYear:  p.VehicleYear,
		})
	}

	order, err := store.CreateOrder(r.Context(), s.db, createReq)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, order)
}

func (s *server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	buyerID := r.URL.Query().Get("buyer_id")
	if buyerID == "" {
		respondError(w, http.StatusBadRequest, "buyer_id is required")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 100 {
		limit = 20
	}

	page, err := store.ListBuyerOrders(r.Context(), s.db, buyerID, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, page)
}

func (s *server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathID(r, "orderID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order ID")
		return
	}

	agg, err := store.GetOrderAggregate(r.Context(), s.db, orderID)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, agg)
}

func (s *server) handleSubmitBid(w http.ResponseWriter, r *http.Request) {
	vendorID := r.Header.Get("X-Vendor-ID")
	if vendorID == "" {
		respondError(w, http.StatusBadRequest, "X-Vendor-ID header is required")
		return
	}

	partID, err := pathID(r, "partID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid part ID")
		return
	}

	var req struct {
		Price decimal.Decimal `json:"price"`
		Notes string          `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	bid, err := store.SubmitBid(r.Context(), s.db, partID, vendorID, req.Price, req.Notes)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, bid)
}

func (s *server) handleListBids(w http.ResponseWriter, r *http.Request) {
	partID, err := pathID(r, "partID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid part ID")
		return
	}

	bids, err := store.ListBids(r.Context(), s.db, partID)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, bids)
}

func (s *server) handleWithdrawBid(w http.ResponseWriter, r *http.Request) {
	vendorID := r.Header.Get("X-Vendor-ID")
	if vendorID == "" {
		respondError(w, http.StatusBadRequest, "X-Vendor-ID header is required")
		return
	}

	bidID, err := pathID(r, "bidID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid bid ID")
		return
	}

	if err := store.WithdrawBid(r.Context(), s.db, bidID, vendorID); err != nil {
		s.respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "withdrawn"})
}

func (s *server) handleAcceptBid(w http.ResponseWriter, r *http.Request) {
	actorID := r.Header.Get("X-Admin-ID")
	if actorID == "" {
		respondError(w, http.StatusBadRequest, "X-Admin-ID header is required")
		return
	}

	bidID, err := pathID(r, "bidID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid bid ID")
		return
	}

	result, err := store.AcceptBid(r.Context(), s.db, bidID, actorID)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}

	if !result.AlreadyAccepted {
		if err := s.producer.Publish(r.Context(), events.TypeBidAccepted, result.OrderID, map[string]interface{}{
			"bid_id":    result.BidID,
			"part_id":   result.PartID,
			"vendor_id": result.VendorID,
		}); err != nil {
			s.logger.Warnw("publish bid accepted event", "error", err, "bid_id", result.BidID)
		}
	}

	respondJSON(w, http.StatusOK, result)
}

func (s *server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathID(r, "orderID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order ID")
		return
	}

	var req struct {
		DeliveryOption string `json:"delivery_option"`
		BuyerEmail     string `json:"buyer_email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := store.BeginCheckout(r.Context(), s.db, s.gw, orderID, req.DeliveryOption, req.BuyerEmail)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// handlePaymentWebhook is the settlement entry point. The signature is
// verified against the raw body before anything else happens; transient
// failures return 5xx so the provider redelivers, which is safe because
// ConfirmPayment is idempotent.
func (s *server) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	event, err := gateway.ParseWebhook(payload, r.Header.Get(gateway.SignatureHeader), s.cfg.Gateway.WebhookSecret)
	if err != nil {
		if errors.Is(err, database.ErrInvalidSignature) {
			s.logger.Warnw("webhook signature rejected")
			respondError(w, http.StatusUnauthorized, "invalid signature")
			return
		}
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if event.Type != gateway.EventCheckoutCompleted {
		s.logger.Infow("ignoring webhook event", "type", event.Type, "event_id", event.ID)
		respondJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	orderID, err := strconv.ParseInt(event.OrderID(), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order_id metadata")
		return
	}

	result, err := store.ConfirmPayment(r.Context(), s.db, orderID, event.PaymentRef)
	if err != nil {
		if errors.Is(err, database.ErrInvoiceNotFound) || errors.Is(err, database.ErrOrderNotFound) {
			s.logger.Errorw("webhook for unknown order", "order_id", orderID, "event_id", event.ID)
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		// 5xx: the provider retries and the reconciler re-drives safely.
		s.logger.Errorw("settlement failed", "order_id", orderID, "error", err)
		respondError(w, http.StatusInternalServerError, "settlement failed")
		return
	}

	if result.AlreadyPaid {
		s.logger.Infow("duplicate payment confirmation", "order_id", orderID, "payment_ref", event.PaymentRef)
	} else {
		s.logger.Infow("order settled", "order_id", orderID, "payment_ref", result.PaymentRef, "parts_stamped", result.PartsStamped)
		if err := s.producer.Publish(r.Context(), events.TypeOrderPaid, orderID, map[string]interface{}{
			"payment_ref": result.PaymentRef,
		}); err != nil {
			s.logger.Warnw("publish order paid event", "error", err, "order_id", orderID)
		}
	}

	respondJSON(w, http.StatusOK, result)
}

func (s *server) handleAdvanceShipping(w http.ResponseWriter, r *http.Request) {
	driverID := r.Header.Get("X-Driver-ID")
	if driverID == "" {
		respondError(w, http.StatusBadRequest, "X-Driver-ID header is required")
		return
	}

	partID, err := pathID(r, "partID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid part ID")
		return
	}

	var req struct {
		Target   string `json:"target"`
		Notes    string `json:"notes"`
		PhotoRef string `json:"photo_ref"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	evidence := store.TransitionEvidence{Notes: req.Notes, PhotoRef: req.PhotoRef}

	var update *store.ShippingUpdate
	if req.Target == "cancelled" {
		update, err = store.CancelShipping(r.Context(), s.db, partID, driverID, evidence)
	} else {
		update, err = store.AdvanceShipping(r.Context(), s.db, partID, driverID, req.Target, evidence)
	}
	if err != nil {
		s.respondStoreError(w, err)
		return
	}

	if !update.NoOp {
		if err := s.producer.Publish(r.Context(), events.TypePartStatusChanged, update.OrderID, map[string]interface{}{
			"part_id": update.PartID,
			"from":    update.FromStatus,
			"to":      update.ToStatus,
		}); err != nil {
			s.logger.Warnw("publish part status event", "error", err, "part_id", update.PartID)
		}
	}

	respondJSON(w, http.StatusOK, update)
}

func (s *server) handleShippingHistory(w http.ResponseWriter, r *http.Request) {
	partID, err := pathID(r, "partID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid part ID")
		return
	}

	history, err := store.ListShippingEvents(r.Context(), s.db, partID)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, history)
}

func (s *server) respondStoreError(w http.ResponseWriter, err error) {
	status := errStatus(err)
	if status == http.StatusInternalServerError {
		s.logger.Errorw("store error", "error", err)
		respondError(w, status, "internal server error")
		return
	}
	respondError(w, status, err.Error())
}

func errStatus(err error) int {
	switch {
	case errors.Is(err, database.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, database.ErrOrderNotFound),
		errors.Is(err, database.ErrPartNotFound),
		errors.Is(err, database.ErrBidNotFound),
		errors.Is(err, database.ErrInvoiceNotFound),
		errors.Is(err, database.ErrVendorNotFound):
		return http.StatusNotFound
	case errors.Is(err, database.ErrDuplicateBid),
		errors.Is(err, database.ErrBidAlreadyAccepted),
		errors.Is(err, database.ErrBidUnavailable),
		errors.Is(err, database.ErrPartAlreadyAwarded),
		errors.Is(err, database.ErrOrderNotReady),
		errors.Is(err, database.ErrOrderAlreadyPaid),
		errors.Is(err, database.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, database.ErrNotBidOwner),
		errors.Is(err, database.ErrVendorNotApproved):
		return http.StatusForbidden
	case errors.Is(err, database.ErrInvalidSignature):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
