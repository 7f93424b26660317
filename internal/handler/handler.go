package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/honeynil/safedeal/internal/infrastructure/auth"
	"github.com/honeynil/safedeal/internal/models"
	service "github.com/honeynil/safedeal/internal/services"
	pkgerrors "github.com/honeynil/safedeal/pkg/errors"
)

type Handler struct {
	deals  service.DealService
	ledger service.LedgerService
}

func NewHandler(deals service.DealService, ledger service.LedgerService) *Handler {
	return &Handler{deals: deals, ledger: ledger}
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps domain sentinels onto HTTP statuses so clients can branch
// on the code without parsing messages.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, pkgerrors.ErrDealNotFound),
		errors.Is(err, pkgerrors.ErrUserNotFound),
		errors.Is(err, pkgerrors.ErrWithdrawalNotFound),
		errors.Is(err, pkgerrors.ErrReviewNotFound):
		status = http.StatusNotFound
	case errors.Is(err, pkgerrors.ErrInvalidState),
		errors.Is(err, pkgerrors.ErrSameParticipant):
		status = http.StatusConflict
	case errors.Is(err, pkgerrors.ErrNotParticipant),
		errors.Is(err, pkgerrors.ErrNotAuthorized):
		status = http.StatusForbidden
	case errors.Is(err, pkgerrors.ErrInvalidAmount),
		errors.Is(err, pkgerrors.ErrDescriptionTooShort),
		errors.Is(err, pkgerrors.ErrInvalidRole),
		errors.Is(err, pkgerrors.ErrInvalidDeadline),
		errors.Is(err, pkgerrors.ErrInvalidRating),
		errors.Is(err, pkgerrors.ErrReviewTooShort),
		errors.Is(err, pkgerrors.ErrInvalidWallet),
		errors.Is(err, pkgerrors.ErrInsufficientBalance):
		status = http.StatusBadRequest
	case errors.Is(err, pkgerrors.ErrPaymentNotFound):
		status = http.StatusPaymentRequired
	case errors.Is(err, pkgerrors.ErrGatewayUnavailable):
		status = http.StatusBadGateway
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// RegisterRoutes wires the participant-facing endpoints. The router must run
// them behind the auth middleware.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/deals", h.CreateDeal).Methods("POST")
	r.HandleFunc("/deals", h.ListDeals).Methods("GET")
	r.HandleFunc("/deals/{id}", h.GetDeal).Methods("GET")
	r.HandleFunc("/deals/{id}/confirm", h.ConfirmParticipation).Methods("POST")
	r.HandleFunc("/deals/{id}/reject", h.RejectParticipation).Methods("POST")
	r.HandleFunc("/deals/{id}/pay", h.InitiatePayment).Methods("POST")
	r.HandleFunc("/deals/{id}/check-payment", h.CheckPayment).Methods("POST")
	r.HandleFunc("/deals/{id}/work-done", h.MarkWorkCompleted).Methods("POST")
	r.HandleFunc("/deals/{id}/confirm-receipt", h.ConfirmReceipt).Methods("POST")
	r.HandleFunc("/deals/{id}/dispute", h.OpenDispute).Methods("POST")
	r.HandleFunc("/deals/{id}/reviews", h.LeaveReview).Methods("POST")
	r.HandleFunc("/users/{id}/reviews", h.GetUserReviews).Methods("GET")
	r.HandleFunc("/balance", h.GetBalance).Methods("GET")
	r.HandleFunc("/withdrawals", h.RequestWithdrawal).Methods("POST")
	r.HandleFunc("/withdrawals", h.ListWithdrawals).Methods("GET")
}

// RegisterArbitratorRoutes wires the endpoints gated by the arbitrator set.
func (h *Handler) RegisterArbitratorRoutes(r *mux.Router) {
	r.HandleFunc("/deals/{id}/resolve", h.ResolveDispute).Methods("POST")
	r.HandleFunc("/withdrawals/{id}/process", h.ProcessWithdrawal).Methods("POST")
}

func (h *Handler) CreateDeal(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "user not authenticated"})
		return
	}

	var req struct {
		Role           string  `json:"role"`
		CounterpartyID int64   `json:"counterparty_id"`
		Amount         float64 `json:"amount"`
		Description    string  `json:"description"`
		DeadlineDays   int     `json:"deadline_days"`
		GroupLink      string  `json:"group_link"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	deal, err := h.deals.CreateDeal(r.Context(), service.CreateDealRequest{
		CreatorID:      userID,
		CreatorRole:    models.Role(req.Role),
		CounterpartyID: req.CounterpartyID,
		Amount:         req.Amount,
		Description:    req.Description,
		DeadlineDays:   req.DeadlineDays,
		GroupLink:      req.GroupLink,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, deal)
}

func (h *Handler) ListDeals(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "user not authenticated"})
		return
	}

	deals, err := h.deals.ListUserDeals(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if deals == nil {
		deals = []models.Deal{}
	}
	writeJSON(w, http.StatusOK, deals)
}

func (h *Handler) GetDeal(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "user not authenticated"})
		return
	}

	deal, err := h.deals.GetDeal(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	if _, ok := deal.ParticipantRole(userID); !ok {
		h.writeError(w, pkgerrors.ErrNotParticipant)
		return
	}
	writeJSON(w, http.StatusOK, deal)
}

func (h *Handler) ConfirmParticipation(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "user not authenticated"})
		return
	}

	already, err := h.deals.ConfirmParticipation(r.Context(), mux.Vars(r)["id"], userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"already_confirmed": already})
}

func (h *Handler) RejectParticipation(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "user not authenticated"})
		return
	}

	if err := h.deals.RejectParticipation(r.Context(), mux.Vars(r)["id"], userID); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(models.StatusRejected)})
}

func (h *Handler) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "user not authenticated"})
		return
	}

	url, err := h.deals.InitiatePayment(r.Context(), mux.Vars(r)["id"], userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"payment_url": url})
}

func (h *Handler) CheckPayment(w http.ResponseWriter, r *http.Request) {
	if err := h.deals.ConfirmPaymentReceived(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(models.StatusPaymentReceived)})
}

func (h *Handler) MarkWorkCompleted(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "user not authenticated"})
		return
	}

	if err := h.deals.MarkWorkCompleted(r.Context(), mux.Vars(r)["id"], userID); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (h *Handler) ConfirmReceipt(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "user not authenticated"})
		return
	}

	if err := h.deals.ConfirmReceipt(r.Context(), mux.Vars(r)["id"], userID); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(models.StatusCompleted)})
}

func (h *Handler) OpenDispute(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "user not authenticated"})
		return
	}

	if err := h.deals.OpenDispute(r.Context(), mux.Vars(r)["id"], userID); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(models.StatusDispute)})
}

func (h *Handler) ResolveDispute(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "user not authenticated"})
		return
	}

	var req struct {
		Outcome string `json:"outcome"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	outcome := service.DisputeOutcome(req.Outcome)
	if outcome != service.OutcomeRefundBuyer && outcome != service.OutcomePaySeller {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "outcome must be refund_buyer or pay_seller"})
		return
	}

	if err := h.deals.ResolveDispute(r.Context(), mux.Vars(r)["id"], userID, outcome); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"outcome": req.Outcome})
}

func (h *Handler) LeaveReview(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "user not authenticated"})
		return
	}

	var req struct {
		Rating int    `json:"rating"`
		Text   string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	review, err := h.deals.LeaveReview(r.Context(), mux.Vars(r)["id"], userID, req.Rating, req.Text)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, review)
}

func (h *Handler) GetUserReviews(w http.ResponseWriter, r *http.Request) {
	reviewedID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid user id"})
		return
	}

	reviews, avg, err := h.deals.GetUserReviews(r.Context(), reviewedID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if reviews == nil {
		reviews = []models.Review{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reviews":        reviews,
		"average_rating": avg,
	})
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "user not authenticated"})
		return
	}

	balance, err := h.ledger.GetBalance(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"balance": balance})
}

func (h *Handler) RequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "user not authenticated"})
		return
	}

	var req struct {
		Wallet string `json:"wallet"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	withdrawal, err := h.ledger.RequestWithdrawal(r.Context(), userID, req.Wallet)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, withdrawal)
}

func (h *Handler) ListWithdrawals(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "user not authenticated"})
		return
	}

	withdrawals, err := h.ledger.ListUserWithdrawals(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if withdrawals == nil {
		withdrawals = []models.Withdrawal{}
	}
	writeJSON(w, http.StatusOK, withdrawals)
}

func (h *Handler) ProcessWithdrawal(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "user not authenticated"})
		return
	}

	withdrawalID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid withdrawal id"})
		return
	}

	if err := h.ledger.ProcessWithdrawal(r.Context(), withdrawalID, userID); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(models.WithdrawalCompleted)})
}
