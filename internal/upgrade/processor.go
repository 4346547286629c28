// Package upgrade applies verified payment notifications to user accounts.
//
// Every channel of every gateway funnels into Processor.Process. The ledger
// claim is the only point where concurrent deliveries of one payment meet;
// account side effects happen strictly between a successful claim and its
// finalization.
package upgrade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rajasatyajit/EstateHub/config"
	"github.com/rajasatyajit/EstateHub/internal/billing"
	apperrors "github.com/rajasatyajit/EstateHub/internal/errors"
	"github.com/rajasatyajit/EstateHub/internal/ledger"
	"github.com/rajasatyajit/EstateHub/internal/logger"
	"github.com/rajasatyajit/EstateHub/internal/metrics"
	"github.com/rajasatyajit/EstateHub/internal/order"
	"github.com/rajasatyajit/EstateHub/internal/store"
)

// finalizeTimeout bounds the ledger write after the processing deadline may
// already have passed.
const finalizeTimeout = 5 * time.Second

// Result describes how one notification was resolved
type Result struct {
	Outcome  billing.Outcome
	OrderRef string
	// Paid is the gateway's own verdict on the payment.
	Paid      bool
	Order     order.Descriptor
	ProfileID int64
	Err       error
}

// Processor runs the confirmation state machine
type Processor struct {
	ledger  ledger.Ledger
	stores  store.Stores
	timeout time.Duration
}

// New creates a processor; cfg.ProcessTimeout bounds each notification.
func New(l ledger.Ledger, s store.Stores, cfg config.LedgerConfig) *Processor {
	return &Processor{ledger: l, stores: s, timeout: cfg.ProcessTimeout}
}

// Process verifies n through provider and applies it at most once. It never
// observes cancellation of ctx; the gateway hanging up must not abandon a
// claimed payment.
func (p *Processor) Process(ctx context.Context, provider billing.Provider, n billing.Notification) Result {
	ctx = context.WithoutCancel(ctx)
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	res := p.process(ctx, provider, n)
	metrics.RecordNotification(string(n.Gateway), string(n.Channel), string(res.Outcome))
	return res
}

func (p *Processor) process(ctx context.Context, provider billing.Provider, n billing.Notification) Result {
	vn, err := provider.Adapt(n)
	log := logger.ForOrder(ctx, string(n.Gateway), string(n.Channel), vn.OrderRef())
	res := Result{OrderRef: vn.OrderRef(), Paid: vn.Success(), Order: vn.Order(), Err: err}

	switch {
	case errors.Is(err, apperrors.ErrVerificationFailed):
		log.Warn("Rejected notification with invalid signature", "error", err)
		res.Outcome = billing.OutcomeVerificationFailed
		return res
	case errors.Is(err, apperrors.ErrMalformedOrder):
		log.Error("Verified notification carries a malformed order", "error", err)
		res.Outcome = billing.OutcomeMalformed
		return res
	case err != nil:
		log.Error("Failed to adapt notification", "error", err)
		res.Outcome = billing.OutcomeRejected
		return res
	}

	d := vn.Order()
	if !vn.Amount().Equal(d.Amount) {
		log.Error("Paid amount does not match order, needs review",
			"paid", vn.Amount().String(), "expected", d.Amount.String(), "user_id", d.UserID)
		res.Outcome = billing.OutcomeAmountMismatch
		res.Err = fmt.Errorf("paid %s, ordered %s: %w", vn.Amount(), d.Amount, apperrors.ErrAmountMismatch)
		return res
	}
	if !vn.Success() {
		log.Info("Gateway reported unsuccessful payment", "user_id", d.UserID)
		res.Outcome = billing.OutcomeDeclined
		return res
	}

	claim, err := p.ledger.TryClaim(ctx, vn.OrderRef(), string(vn.Gateway()))
	if err != nil {
		// Nothing recorded yet, so a redelivery is always safe.
		log.Error("Ledger claim failed", "error", err)
		res.Outcome = billing.OutcomeRetry
		res.Err = err
		return res
	}
	if !claim.Claimed {
		if claim.Status == ledger.StatusPending {
			log.Info("Order is being processed by another delivery")
			res.Outcome = billing.OutcomeInProgress
			return res
		}
		log.Info("Order already processed", "status", claim.Status)
		res.Outcome = billing.OutcomeSkipped
		res.Err = apperrors.ErrAlreadyProcessed
		return res
	}

	start := time.Now()
	res.ProfileID, res.Outcome, res.Err = p.applyClaimed(ctx, log, vn, claim.Attempt)
	metrics.RecordProcessing(string(vn.Gateway()), time.Since(start))
	return res
}

func (p *Processor) applyClaimed(ctx context.Context, log *slog.Logger, vn billing.VerifiedNotification, attempt int) (int64, billing.Outcome, error) {
	d := vn.Order()
	log = log.With("user_id", d.UserID, "plan", d.Plan, "kind", d.Kind, "attempt", attempt)

	profileID, err := p.safeApply(ctx, log, d)
	switch {
	case err == nil:
		if ferr := p.finalize(ctx, vn.OrderRef(), attempt, ledger.Applied()); ferr != nil {
			log.Error("Applied upgrade but could not finalize ledger", "error", ferr)
			return profileID, billing.OutcomeRetry, ferr
		}
		log.Info("Payment applied", "transaction_id", vn.TransactionID(), "profile_id", profileID)
		return profileID, billing.OutcomeApplied, nil

	case errors.Is(err, apperrors.ErrUserNotFound):
		log.Error("Paid order references unknown user, needs manual review", "error", err)
		if ferr := p.finalize(ctx, vn.OrderRef(), attempt, ledger.Rejected(ledger.ReasonUserNotFound)); ferr != nil {
			log.Error("Could not finalize rejected order", "error", ferr)
			return 0, billing.OutcomeRetry, ferr
		}
		return 0, billing.OutcomeRejected, err

	case apperrors.IsRetryable(err):
		// Left pending; a redelivery after the stale sweep claims it again.
		log.Warn("Downstream unavailable, leaving order pending", "error", err)
		return 0, billing.OutcomeRetry, err

	default:
		log.Error("Failed to apply payment", "error", err)
		if ferr := p.finalize(ctx, vn.OrderRef(), attempt, ledger.Rejected(ledger.ReasonInternal)); ferr != nil {
			log.Error("Could not finalize rejected order", "error", ferr)
			return 0, billing.OutcomeRetry, ferr
		}
		return 0, billing.OutcomeRejected, err
	}
}

// safeApply turns a panic in a store into an error so the claim is still finalized
func (p *Processor) safeApply(ctx context.Context, log *slog.Logger, d order.Descriptor) (id int64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic applying order: %v", r)
		}
	}()
	return p.apply(ctx, log, d)
}

func (p *Processor) apply(ctx context.Context, log *slog.Logger, d order.Descriptor) (int64, error) {
	user, err := p.stores.Users.Get(ctx, d.UserID)
	if err != nil {
		return 0, err
	}

	switch d.Kind {
	case order.KindMembership:
		changed, err := p.stores.Users.SetTier(ctx, d.UserID, d.Plan)
		if err != nil {
			return 0, err
		}
		if !changed {
			log.Info("Tier unchanged, user already at or above plan", "current", user.Tier)
		}
		return 0, nil
	case order.KindAgentProfile:
		return p.provisionProfile(ctx, log, user, d)
	default:
		return 0, fmt.Errorf("unsupported order kind %q", d.Kind)
	}
}

func (p *Processor) provisionProfile(ctx context.Context, log *slog.Logger, user *store.User, d order.Descriptor) (int64, error) {
	exists, err := p.stores.Profiles.ExistsForUser(ctx, user.ID)
	if err != nil {
		return 0, err
	}
	if exists {
		log.Info("Agent profile already exists")
		p.dropDraft(ctx, log, d.DraftID)
		return 0, nil
	}

	profile := store.AgentProfile{UserID: user.ID, DisplayName: user.Email}
	if profile.DisplayName == "" {
		profile.DisplayName = fmt.Sprintf("Agent %d", user.ID)
	}
	if d.DraftID != "" {
		draft, err := p.stores.Drafts.Get(ctx, d.DraftID)
		switch {
		case errors.Is(err, apperrors.ErrNotFound):
			log.Warn("Profile draft expired, provisioning minimal profile", "draft_id", d.DraftID)
		case err != nil:
			return 0, err
		case draft.UserID != user.ID:
			log.Warn("Profile draft belongs to another user, ignoring", "draft_id", d.DraftID, "draft_user_id", draft.UserID)
		default:
			profile.DisplayName = draft.DisplayName
			profile.Phone = draft.Phone
			profile.Agency = draft.Agency
		}
	}

	id, err := p.stores.Profiles.Create(ctx, profile)
	if errors.Is(err, apperrors.ErrConflict) {
		log.Info("Agent profile created concurrently", "profile_id", id)
		err = nil
	}
	if err != nil {
		return 0, err
	}
	p.dropDraft(ctx, log, d.DraftID)
	return id, nil
}

func (p *Processor) dropDraft(ctx context.Context, log *slog.Logger, id string) {
	if id == "" {
		return
	}
	if err := p.stores.Drafts.Delete(ctx, id); err != nil {
		log.Warn("Failed to delete profile draft", "draft_id", id, "error", err)
	}
}

func (p *Processor) finalize(ctx context.Context, ref string, attempt int, out ledger.Outcome) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()
	return p.ledger.Finalize(ctx, ref, attempt, out)
}
