package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"refcommission/internal/apperr"
	"refcommission/internal/catalog"
	"refcommission/internal/purchase"
	"refcommission/internal/withdrawal"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type handlers struct {
	svc    Services
	logger *slog.Logger
}

type errorBody struct {
	Error string `json:"error"`
}

func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	} else {
		h.logger.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, errorBody{Error: apperr.Message(err)})
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Validation("request body is required")
		}
		return apperr.Validation("invalid request body: %v", err)
	}
	return nil
}

func caller(r *http.Request) string {
	id, _ := identityFrom(r.Context())
	return id.UserID
}

func (h *handlers) me(w http.ResponseWriter, r *http.Request) {
	user, err := h.svc.Users.User(r.Context(), caller(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type purchaseRequest struct {
	Slug          string `json:"slug"`
	TransactionID string `json:"transactionId"`
	SenderNumber  string `json:"senderNumber"`
}

func (h *handlers) createPurchase(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.svc.Purchases.Purchase(r.Context(), purchase.PurchaseInput{
		UserID:        caller(r),
		Slug:          req.Slug,
		TransactionID: req.TransactionID,
		SenderNumber:  req.SenderNumber,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *handlers) membership(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Purchases.Latest(r.Context(), caller(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handlers) myPurchases(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.Purchases.ListForUser(r.Context(), caller(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handlers) allPurchases(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.Purchases.ListAll(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *handlers) updatePurchaseStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.svc.Purchases.Transition(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type withdrawalRequest struct {
	PaymentMethod string          `json:"paymentMethod"`
	Amount        decimal.Decimal `json:"amount"`
	AccountNumber string          `json:"accountNumber"`
	AccountName   string          `json:"accountName"`
}

func (h *handlers) createWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req withdrawalRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	wd, err := h.svc.Withdrawals.Request(r.Context(), withdrawal.RequestInput{
		UserID:          caller(r),
		PaymentMethodID: req.PaymentMethod,
		Amount:          req.Amount,
		AccountNumber:   req.AccountNumber,
		AccountName:     req.AccountName,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, wd)
}

func (h *handlers) myWithdrawals(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.Withdrawals.ListForUser(r.Context(), caller(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handlers) latestWithdrawal(w http.ResponseWriter, r *http.Request) {
	wd, err := h.svc.Withdrawals.Latest(r.Context(), caller(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wd)
}

func (h *handlers) latestDeduction(w http.ResponseWriter, r *http.Request) {
	pct, err := h.svc.Withdrawals.LatestDeductionPercent(r.Context(), caller(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]*int{"deductionPercent": pct})
}

func (h *handlers) previewWithdrawal(w http.ResponseWriter, r *http.Request) {
	amount, err := decimal.NewFromString(strings.TrimSpace(r.URL.Query().Get("amount")))
	if err != nil {
		h.fail(w, r, apperr.Validation("amount must be a number"))
		return
	}
	d, err := h.svc.Withdrawals.Preview(r.Context(), caller(r), amount)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *handlers) allWithdrawals(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.Withdrawals.ListAll(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handlers) updateWithdrawalStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.svc.Withdrawals.UpdateStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handlers) deleteWithdrawal(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Withdrawals.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) referrals(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.Users.Referrals(r.Context(), caller(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"total": len(list), "referrals": list})
}

func (h *handlers) activeReferrals(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.Users.ActiveReferrals(r.Context(), caller(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"total": len(list), "referrals": list})
}

func (h *handlers) ledger(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.Users.Ledger(r.Context(), caller(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// listPackages filters by ?currency= when given and groups by currency otherwise.
func (h *handlers) listPackages(w http.ResponseWriter, r *http.Request) {
	if currency := r.URL.Query().Get("currency"); currency != "" {
		list, err := h.svc.Catalog.ListPackages(r.Context(), currency)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
		return
	}
	grouped, err := h.svc.Catalog.PackagesByCurrency(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, grouped)
}

func (h *handlers) packageBySlug(w http.ResponseWriter, r *http.Request) {
	pkg, err := h.svc.Catalog.PackageBySlug(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pkg)
}

func (h *handlers) withdrawalAccounts(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.Catalog.ListWithdrawalAccounts(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type userRequest struct {
	Currency   string `json:"currency"`
	ReferredBy string `json:"referredBy"`
}

func (h *handlers) createUser(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	user, err := h.svc.Users.CreateUser(r.Context(), req.Currency, req.ReferredBy)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

type referrerRequest struct {
	ReferralCode string `json:"referralCode"`
}

func (h *handlers) assignReferrer(w http.ResponseWriter, r *http.Request) {
	var req referrerRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	user, err := h.svc.Graph.AssignReferrer(r.Context(), chi.URLParam(r, "id"), req.ReferralCode)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type packageRequest struct {
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	Price          decimal.Decimal `json:"price"`
	Discount       decimal.Decimal `json:"discount"`
	Duration       int             `json:"duration"`
	EarningRate    decimal.Decimal `json:"earningRate"`
	NumOfAds       int             `json:"numOfAds"`
	CommissionRate decimal.Decimal `json:"commissionRate"`
	Currency       string          `json:"currency"`
	Inactive       bool            `json:"inactive"`
}

func (h *handlers) createPackage(w http.ResponseWriter, r *http.Request) {
	var req packageRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	pkg, err := h.svc.Catalog.CreatePackage(r.Context(), catalog.PackageInput{
		Name:           req.Name,
		Description:    req.Description,
		Price:          req.Price,
		Discount:       req.Discount,
		DurationDays:   req.Duration,
		EarningRate:    req.EarningRate,
		NumOfAds:       req.NumOfAds,
		CommissionRate: req.CommissionRate,
		Currency:       req.Currency,
		Inactive:       req.Inactive,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, pkg)
}

type accountRequest struct {
	Method    string          `json:"method"`
	MinAmount decimal.Decimal `json:"minAmount"`
}

func (h *handlers) createWithdrawalAccount(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	acc, err := h.svc.Catalog.CreateWithdrawalAccount(r.Context(), req.Method, req.MinAmount)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, acc)
}
