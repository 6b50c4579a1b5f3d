package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"captainDispatch/internal/auth"
	"captainDispatch/internal/dispatch"
	"captainDispatch/internal/events"
	"captainDispatch/models"
)

type jsonResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func writeJSONError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(jsonResponse{Status: "error", Message: message})
}

func writeJSONSuccess(w http.ResponseWriter, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(jsonResponse{Status: "success", Message: message, Data: data})
}

// writeDispatchError maps the protocol's failure classes onto HTTP codes:
// lost race 409, validation/sequence 422, missing 404, ownership 403, and
// everything else 503 (retriable transient failure).
func writeDispatchError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, dispatch.ErrOrderTaken):
		writeJSONError(w, http.StatusConflict, "order no longer available")
	case errors.Is(err, dispatch.ErrOrderNotFound), errors.Is(err, dispatch.ErrDeliveryNotFound):
		writeJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, dispatch.ErrNotOwner):
		writeJSONError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, dispatch.ErrBadTransition):
		writeJSONError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		writeJSONError(w, http.StatusServiceUnavailable, "temporary failure, try again")
	}
}

func urlParamInt64(r *http.Request, name string) (int64, bool) {
	v, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return v, err == nil
}

// currentCaptain resolves the authenticated captain principal to its row.
func (h *Handler) currentCaptain(w http.ResponseWriter, r *http.Request) (*models.Captain, bool) {
	p, ok := auth.RequireCaptain(r)
	if !ok {
		writeJSONError(w, http.StatusForbidden, "only captain can perform this action")
		return nil, false
	}
	c, err := h.captains.GetByName(r.Context(), p.Name)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "get captain: "+err.Error())
		return nil, false
	}
	if c == nil {
		writeJSONError(w, http.StatusNotFound, "captain not found")
		return nil, false
	}
	return c, true
}

type createOrderRequest struct {
	SellerID    int64   `json:"seller_id"`
	Address     string  `json:"address"`
	PickupLat   float64 `json:"pickup_lat"`
	PickupLng   float64 `json:"pickup_lng"`
	DropoffLat  float64 `json:"dropoff_lat"`
	DropoffLng  float64 `json:"dropoff_lng"`
	Total       float64 `json:"total"`
	DeliveryFee float64 `json:"delivery_fee"`
}

// createOrder places a new order for the authenticated customer.
func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.RequireRole(r, models.RoleCustomer)
	if !ok {
		writeJSONError(w, http.StatusForbidden, "only customer can place orders")
		return
	}
	u, err := h.users.GetByUsername(r.Context(), p.Name)
	if err != nil || u == nil {
		writeJSONError(w, http.StatusNotFound, "customer not found")
		return
	}
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.SellerID == 0 {
		writeJSONError(w, http.StatusBadRequest, "seller_id is required")
		return
	}
	o, err := h.orders.Create(r.Context(), &models.Order{
		SellerID:    req.SellerID,
		CustomerID:  u.ID,
		Address:     req.Address,
		PickupLat:   req.PickupLat,
		PickupLng:   req.PickupLng,
		DropoffLat:  req.DropoffLat,
		DropoffLng:  req.DropoffLng,
		Total:       req.Total,
		DeliveryFee: req.DeliveryFee,
	})
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "create order: "+err.Error())
		return
	}
	h.publishOrder(r, o, events.OpInsert)
	writeJSONSuccess(w, "order placed", o)
}

// getOrder returns a single order to any authenticated principal.
func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := urlParamInt64(r, "id")
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "invalid order id")
		return
	}
	o, err := h.orders.GetByID(r.Context(), id)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "get order: "+err.Error())
		return
	}
	if o == nil {
		writeJSONError(w, http.StatusNotFound, "order not found")
		return
	}
	writeJSONSuccess(w, "order retrieved", o)
}

type orderStatusRequest struct {
	Status models.OrderStatus `json:"status"`
}

// sellerAdvanceOrder advances the seller's own order one status forward.
// "ready" stamps ready_at and is what triggers the offer broadcast downstream.
func (h *Handler) sellerAdvanceOrder(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.RequireSeller(r)
	if !ok {
		writeJSONError(w, http.StatusForbidden, "only seller can perform this action")
		return
	}
	id, ok := urlParamInt64(r, "id")
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "invalid order id")
		return
	}
	var req orderStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	o, err := h.orders.GetByID(r.Context(), id)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "get order: "+err.Error())
		return
	}
	if o == nil {
		writeJSONError(w, http.StatusNotFound, "order not found")
		return
	}
	seller, err := h.users.GetByUsername(r.Context(), p.Name)
	if err != nil || seller == nil || seller.ID != o.SellerID {
		writeJSONError(w, http.StatusForbidden, "order belongs to another seller")
		return
	}
	if !o.Status.CanAdvanceTo(req.Status) {
		writeJSONError(w, http.StatusUnprocessableEntity, "cannot advance from "+string(o.Status)+" to "+string(req.Status))
		return
	}
	// Sellers drive the kitchen-side statuses only; the delivery workflow owns
	// the rest.
	switch req.Status {
	case models.OrderStatusAccepted, models.OrderStatusPreparing, models.OrderStatusReady:
	default:
		writeJSONError(w, http.StatusUnprocessableEntity, "status not seller-controlled: "+string(req.Status))
		return
	}

	var advanced bool
	if req.Status == models.OrderStatusReady {
		advanced, err = h.orders.MarkReady(r.Context(), o.ID, time.Now().UTC())
	} else {
		advanced, err = h.orders.AdvanceStatus(r.Context(), o.ID, o.Status, req.Status)
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "advance order: "+err.Error())
		return
	}
	if !advanced {
		writeJSONError(w, http.StatusConflict, "order status changed concurrently")
		return
	}

	o, err = h.orders.GetByID(r.Context(), o.ID)
	if err != nil || o == nil {
		writeJSONError(w, http.StatusInternalServerError, "reload order")
		return
	}
	h.publishOrder(r, o, events.OpUpdate)
	writeJSONSuccess(w, "order advanced", o)
}

// sellerCancelOrder cancels the seller's own order if it is not completed.
func (h *Handler) sellerCancelOrder(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.RequireSeller(r)
	if !ok {
		writeJSONError(w, http.StatusForbidden, "only seller can perform this action")
		return
	}
	id, ok := urlParamInt64(r, "id")
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "invalid order id")
		return
	}
	o, err := h.orders.GetByID(r.Context(), id)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "get order: "+err.Error())
		return
	}
	if o == nil {
		writeJSONError(w, http.StatusNotFound, "order not found")
		return
	}
	seller, err := h.users.GetByUsername(r.Context(), p.Name)
	if err != nil || seller == nil || seller.ID != o.SellerID {
		writeJSONError(w, http.StatusForbidden, "order belongs to another seller")
		return
	}
	cancelled, err := h.orders.Cancel(r.Context(), o.ID)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "cancel order: "+err.Error())
		return
	}
	if !cancelled {
		writeJSONError(w, http.StatusUnprocessableEntity, "order can no longer be cancelled")
		return
	}
	o, _ = h.orders.GetByID(r.Context(), o.ID)
	if o != nil {
		h.publishOrder(r, o, events.OpUpdate)
	}
	writeJSONSuccess(w, "order cancelled", o)
}

// offerView is a pending offer decorated with its expiry, computed from the
// notification's creation timestamp and the dialog TTL.
type offerView struct {
	models.Notification
	ExpiresAt        time.Time `json:"expires_at"`
	RemainingSeconds int       `json:"remaining_seconds"`
}

// captainOffers returns the captain's live pending offers. Offers past the
// dialog TTL are filtered out read-side, mirroring the client countdown.
func (h *Handler) captainOffers(w http.ResponseWriter, r *http.Request) {
	c, ok := h.currentCaptain(w, r)
	if !ok {
		return
	}
	list, err := h.notifications.ListUnreadForUser(r.Context(), c.UserID)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "list offers: "+err.Error())
		return
	}
	now := time.Now().UTC()
	out := make([]offerView, 0, len(list))
	for _, n := range list {
		if n.Type != models.NotificationTypeDeliveryOffer {
			continue
		}
		exp := n.ExpiresAt(h.resolver.DialogTTL)
		if !exp.After(now) {
			continue
		}
		out = append(out, offerView{
			Notification:     n,
			ExpiresAt:        exp,
			RemainingSeconds: int(exp.Sub(now) / time.Second),
		})
	}
	writeJSONSuccess(w, "offers retrieved", out)
}

// captainAvailableOrders returns the read-time-filtered list of ready orders.
func (h *Handler) captainAvailableOrders(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.currentCaptain(w, r); !ok {
		return
	}
	list, err := h.broadcaster.AvailableOrders(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "list available: "+err.Error())
		return
	}
	writeJSONSuccess(w, "available orders retrieved", list)
}

// loadOwnOffer fetches the offer notification and verifies it targets the
// calling captain.
func (h *Handler) loadOwnOffer(w http.ResponseWriter, r *http.Request, c *models.Captain) (*models.Notification, bool) {
	id := chi.URLParam(r, "id")
	n, err := h.notifications.GetByID(r.Context(), id)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "get offer: "+err.Error())
		return nil, false
	}
	if n == nil || n.Type != models.NotificationTypeDeliveryOffer {
		writeJSONError(w, http.StatusNotFound, "offer not found")
		return nil, false
	}
	if n.UserID != c.UserID {
		writeJSONError(w, http.StatusForbidden, "offer belongs to another captain")
		return nil, false
	}
	return n, true
}

// captainAcceptOffer runs the accept protocol. A stale (expired) offer is
// resolved as a decline, not an error; losing the race is a 409.
func (h *Handler) captainAcceptOffer(w http.ResponseWriter, r *http.Request) {
	c, ok := h.currentCaptain(w, r)
	if !ok {
		return
	}
	n, ok := h.loadOwnOffer(w, r, c)
	if !ok {
		return
	}
	d, err := h.resolver.Accept(r.Context(), c, n)
	if err != nil {
		if errors.Is(err, dispatch.ErrOfferExpired) {
			writeJSONSuccess(w, "offer expired", map[string]string{"outcome": "expired"})
			return
		}
		writeDispatchError(w, err)
		return
	}
	writeJSONSuccess(w, "delivery claimed", d)
}

// captainDeclineOffer dismisses the offer for this captain only.
func (h *Handler) captainDeclineOffer(w http.ResponseWriter, r *http.Request) {
	c, ok := h.currentCaptain(w, r)
	if !ok {
		return
	}
	n, ok := h.loadOwnOffer(w, r, c)
	if !ok {
		return
	}
	if err := h.resolver.Decline(r.Context(), n); err != nil {
		writeDispatchError(w, err)
		return
	}
	writeJSONSuccess(w, "offer declined", map[string]string{"outcome": "declined"})
}

type advanceDeliveryRequest struct {
	Status models.DeliveryStatus `json:"status"`
}

// captainAdvanceDelivery advances the captain's claimed delivery one step.
func (h *Handler) captainAdvanceDelivery(w http.ResponseWriter, r *http.Request) {
	c, ok := h.currentCaptain(w, r)
	if !ok {
		return
	}
	id, ok := urlParamInt64(r, "id")
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "invalid delivery id")
		return
	}
	var req advanceDeliveryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	d, err := h.workflow.Advance(r.Context(), c, id, req.Status)
	if err != nil {
		writeDispatchError(w, err)
		return
	}
	writeJSONSuccess(w, "delivery advanced", d)
}

type availabilityRequest struct {
	Available bool `json:"available"`
}

// captainSetAvailability toggles the captain's eligibility for offers.
func (h *Handler) captainSetAvailability(w http.ResponseWriter, r *http.Request) {
	c, ok := h.currentCaptain(w, r)
	if !ok {
		return
	}
	var req availabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := h.captains.SetAvailable(r.Context(), c.ID, req.Available); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "set availability: "+err.Error())
		return
	}
	writeJSONSuccess(w, "availability updated", map[string]bool{"available": req.Available})
}

type locationRequest struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// captainUpdateLocation records the captain's position, used to order offer
// fan-out by proximity.
func (h *Handler) captainUpdateLocation(w http.ResponseWriter, r *http.Request) {
	c, ok := h.currentCaptain(w, r)
	if !ok {
		return
	}
	var req locationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := h.captains.UpdateLocation(r.Context(), c.ID, req.Lat, req.Lng); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "update location: "+err.Error())
		return
	}
	writeJSONSuccess(w, "location updated", nil)
}

func (h *Handler) publishOrder(r *http.Request, o *models.Order, op string) {
	payload, err := events.MarshalPayload(o)
	if err != nil {
		log.Printf("httpapi: marshal order %d: %v", o.ID, err)
		return
	}
	if err := h.bus.Publish(r.Context(), events.Change{
		Table:   events.TableOrders,
		Op:      op,
		Key:     strconv.FormatInt(o.ID, 10),
		Payload: payload,
	}); err != nil {
		log.Printf("httpapi: publish order %d: %v", o.ID, err)
	}
}
