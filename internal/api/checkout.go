package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rajasatyajit/EstateHub/internal/billing"
	apperrors "github.com/rajasatyajit/EstateHub/internal/errors"
	"github.com/rajasatyajit/EstateHub/internal/logger"
	"github.com/rajasatyajit/EstateHub/internal/order"
	"github.com/rajasatyajit/EstateHub/internal/store"
)

const maxCheckoutBody = 16 << 10

type checkoutProfile struct {
	DisplayName string `json:"display_name"`
	Phone       string `json:"phone"`
	Agency      string `json:"agency"`
}

type checkoutRequest struct {
	UserID  int64            `json:"user_id"`
	Plan    string           `json:"plan"`
	Kind    string           `json:"kind"`
	Profile *checkoutProfile `json:"profile,omitempty"`
}

// checkoutHandler starts a purchase and returns the gateway URL to redirect the payer to
func (h *Handler) checkoutHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	provider, ok := h.provider(r)
	if !ok {
		h.writeErrorResponse(w, r, http.StatusNotFound, "unknown gateway")
		return
	}

	var body checkoutRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCheckoutBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		h.writeErrorResponse(w, r, http.StatusBadRequest, "invalid json")
		return
	}

	if body.UserID <= 0 {
		h.writeError(w, r, apperrors.ValidationError{Field: "user_id", Message: "must be positive"})
		return
	}
	plan, err := order.ParsePlan(body.Plan)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if body.Kind == "" {
		body.Kind = string(order.KindMembership)
	}
	kind, err := order.ParseKind(body.Kind)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if body.Profile != nil && kind != order.KindAgentProfile {
		h.writeError(w, r, apperrors.ValidationError{Field: "profile", Message: "only allowed for agent_profile orders"})
		return
	}
	price, ok := h.checkout.Price(string(plan))
	if !ok {
		h.writeError(w, r, apperrors.ValidationError{Field: "plan", Message: "no price configured"})
		return
	}

	allowed, reset, err := h.deps.Limiter.Allow(ctx, strconv.FormatInt(body.UserID, 10), "checkout")
	if err != nil {
		logger.WithContext(ctx).Warn("Checkout rate limit unavailable, allowing request", "error", err)
	} else if !allowed {
		w.Header().Set("Retry-After", strconv.Itoa(reset))
		h.writeErrorResponse(w, r, http.StatusTooManyRequests, "too many checkout attempts")
		return
	}

	if _, err := h.deps.Users.Get(ctx, body.UserID); err != nil {
		h.writeError(w, r, err)
		return
	}

	d := order.Descriptor{UserID: body.UserID, Plan: plan, Kind: kind, Amount: price}
	if body.Profile != nil {
		draftID, err := h.deps.Drafts.Save(ctx, store.ProfileDraft{
			UserID:      body.UserID,
			DisplayName: body.Profile.DisplayName,
			Phone:       body.Profile.Phone,
			Agency:      body.Profile.Agency,
		})
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		d.DraftID = draftID
	}

	resp, err := provider.CreateCheckout(ctx, billing.CheckoutRequest{Order: d, ClientIP: clientIP(r)})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	logger.WithContext(ctx).Info("Checkout started",
		"gateway", resp.Provider, "order_ref", resp.OrderRef, "user_id", d.UserID, "plan", d.Plan, "kind", d.Kind)
	h.writeJSONResponse(w, http.StatusOK, resp)
}
