package upgrade

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/rajasatyajit/EstateHub/config"
	"github.com/rajasatyajit/EstateHub/internal/billing"
	apperrors "github.com/rajasatyajit/EstateHub/internal/errors"
	"github.com/rajasatyajit/EstateHub/internal/ledger"
	"github.com/rajasatyajit/EstateHub/internal/order"
	"github.com/rajasatyajit/EstateHub/internal/store"
)

// countingUsers wraps a UserStore to count writes and inject failures
type countingUsers struct {
	store.UserStore

	mu          sync.Mutex
	getFailures int
	getErr      error
	panicOnGet  bool

	setTierCalls atomic.Int32
}

func (u *countingUsers) Get(ctx context.Context, id int64) (*store.User, error) {
	u.mu.Lock()
	if u.panicOnGet {
		u.mu.Unlock()
		panic("user store exploded")
	}
	if u.getFailures > 0 {
		u.getFailures--
		err := u.getErr
		u.mu.Unlock()
		return nil, err
	}
	u.mu.Unlock()
	return u.UserStore.Get(ctx, id)
}

func (u *countingUsers) SetTier(ctx context.Context, id int64, tier order.Plan) (bool, error) {
	u.setTierCalls.Add(1)
	return u.UserStore.SetTier(ctx, id, tier)
}

type fixture struct {
	proc     *Processor
	ledger   *ledger.MemoryLedger
	users    *countingUsers
	base     *store.MemoryUserStore
	profiles *store.MemoryProfileStore
	drafts   *store.MemoryDraftStore
	vnpay    *billing.VNPayService
	momo     *billing.MoMoService
}

func newFixture(t *testing.T, users ...store.User) *fixture {
	t.Helper()
	base := store.NewMemoryUserStore(users...)
	f := &fixture{
		ledger:   ledger.NewMemoryLedger(),
		base:     base,
		users:    &countingUsers{UserStore: base},
		profiles: store.NewMemoryProfileStore(),
		drafts:   store.NewMemoryDraftStore(30 * time.Minute),
		vnpay:    billing.NewVNPay(config.VNPayConfig{TmnCode: "ESTATE01", HashSecret: "VNPAYSECRETKEY"}),
		momo: billing.NewMoMo(config.MoMoConfig{
			PartnerCode: "MOMOESTATE",
			AccessKey:   "F8BBA842ECF85",
			SecretKey:   "K951B6PE1waDMi640xX08PD3vg6EkVlz",
		}),
	}
	f.proc = New(f.ledger, store.Stores{Users: f.users, Profiles: f.profiles, Drafts: f.drafts},
		config.LedgerConfig{ProcessTimeout: 5 * time.Second})
	return f
}

func pro3Membership() order.Descriptor {
	return order.Descriptor{UserID: 42, Plan: order.PlanPro3, Kind: order.KindMembership, Amount: decimal.NewFromInt(199000)}
}

func (f *fixture) vnpayParams(t *testing.T, d order.Descriptor, txnRef, code string) map[string]string {
	t.Helper()
	desc, err := order.Encode(d)
	if err != nil {
		t.Fatal(err)
	}
	return map[string]string{
		"vnp_TmnCode":           "ESTATE01",
		"vnp_Amount":            d.Amount.Mul(decimal.NewFromInt(100)).String(),
		"vnp_BankCode":          "NCB",
		"vnp_OrderInfo":         desc,
		"vnp_PayDate":           "20240501120105",
		"vnp_ResponseCode":      code,
		"vnp_TransactionNo":     "14226112",
		"vnp_TransactionStatus": code,
		"vnp_TxnRef":            txnRef,
	}
}

func (f *fixture) vnpayNotification(ch billing.Channel, fields map[string]string) billing.Notification {
	n := billing.Notification{Gateway: billing.GatewayVNPay, Channel: ch, Params: map[string][]string{}}
	for k, v := range fields {
		n.Params.Set(k, v)
	}
	n.Params.Set("vnp_SecureHash", f.vnpay.Sign(n.Params))
	return n
}

func (f *fixture) vnpay3(t *testing.T, ch billing.Channel, d order.Descriptor, txnRef string) billing.Notification {
	return f.vnpayNotification(ch, f.vnpayParams(t, d, txnRef, "00"))
}

func TestProcess_ReturnThenIPNAppliesOnce(t *testing.T) {
	f := newFixture(t, store.User{ID: 42, Email: "agent@example.com"})
	ctx := context.Background()

	first := f.proc.Process(ctx, f.vnpay, f.vnpay3(t, billing.ChannelReturn, pro3Membership(), "TXN1"))
	if first.Outcome != billing.OutcomeApplied || first.Err != nil {
		t.Fatalf("first delivery: %+v", first)
	}
	if first.OrderRef != "vnpay:TXN1" || !first.Paid || !first.Order.Equal(pro3Membership()) {
		t.Errorf("unexpected result %+v", first)
	}
	u, _ := f.base.Get(ctx, 42)
	if u.Tier != order.PlanPro3 {
		t.Fatalf("tier = %q, want pro3", u.Tier)
	}
	e, err := f.ledger.Get(ctx, "vnpay:TXN1")
	if err != nil || e.Status != ledger.StatusApplied || e.AppliedAt == nil {
		t.Fatalf("ledger entry = %+v, %v", e, err)
	}

	second := f.proc.Process(ctx, f.vnpay, f.vnpay3(t, billing.ChannelIPN, pro3Membership(), "TXN1"))
	if second.Outcome != billing.OutcomeSkipped || !errors.Is(second.Err, apperrors.ErrAlreadyProcessed) {
		t.Fatalf("second delivery: %+v", second)
	}
	if billing.VNPayAckCode(second.Outcome) != "02" {
		t.Errorf("duplicate ack = %s", billing.VNPayAckCode(second.Outcome))
	}
	if n := f.users.setTierCalls.Load(); n != 1 {
		t.Errorf("SetTier called %d times, want 1", n)
	}
}

func TestProcess_ConcurrentDeliveriesApplyOnce(t *testing.T) {
	f := newFixture(t, store.User{ID: 42})
	d := order.Descriptor{UserID: 42, Plan: order.PlanPro12, Kind: order.KindAgentProfile, Amount: decimal.NewFromInt(990000)}

	var applied, other atomic.Int32
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 30; i++ {
		ch := []billing.Channel{billing.ChannelReturn, billing.ChannelIPN, billing.ChannelNotify}[i%3]
		n := f.vnpay3(t, ch, d, "TXN-CONC")
		g.Go(func() error {
			res := f.proc.Process(ctx, f.vnpay, n)
			switch res.Outcome {
			case billing.OutcomeApplied:
				applied.Add(1)
			case billing.OutcomeSkipped, billing.OutcomeInProgress:
				other.Add(1)
			default:
				return res.Err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if applied.Load() != 1 || other.Load() != 29 {
		t.Errorf("applied=%d other=%d", applied.Load(), other.Load())
	}
	if f.profiles.Count() != 1 {
		t.Errorf("profiles = %d, want 1", f.profiles.Count())
	}
}

func TestProcess_NeverDowngrades(t *testing.T) {
	f := newFixture(t, store.User{ID: 42, Tier: order.PlanPro12})
	d := order.Descriptor{UserID: 42, Plan: order.PlanPro1, Kind: order.KindMembership, Amount: decimal.NewFromInt(79000)}

	res := f.proc.Process(context.Background(), f.vnpay, f.vnpay3(t, billing.ChannelIPN, d, "OLD"))
	if res.Outcome != billing.OutcomeApplied {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	u, _ := f.base.Get(context.Background(), 42)
	if u.Tier != order.PlanPro12 {
		t.Errorf("tier = %q, want pro12", u.Tier)
	}
}

func TestProcess_RejectsWithoutTouchingLedger(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p map[string]string)
		resign bool
		want   billing.Outcome
	}{
		{
			name:   "tampered signature",
			mutate: func(p map[string]string) { p["vnp_Amount"] = "100" },
			want:   billing.OutcomeVerificationFailed,
		},
		{
			name:   "truncated order",
			mutate: func(p map[string]string) { p["vnp_OrderInfo"] = p["vnp_OrderInfo"][:12] },
			resign: true,
			want:   billing.OutcomeMalformed,
		},
		{
			name:   "free text order",
			mutate: func(p map[string]string) { p["vnp_OrderInfo"] = "Thanh toan don hang" },
			resign: true,
			want:   billing.OutcomeMalformed,
		},
		{
			name:   "amount mismatch",
			mutate: func(p map[string]string) { p["vnp_Amount"] = "100000" },
			resign: true,
			want:   billing.OutcomeAmountMismatch,
		},
		{
			name: "declined",
			mutate: func(p map[string]string) {
				p["vnp_ResponseCode"] = "24"
				p["vnp_TransactionStatus"] = "02"
			},
			resign: true,
			want:   billing.OutcomeDeclined,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, store.User{ID: 42})
			params := f.vnpayParams(t, pro3Membership(), "TXN-X", "00")
			if tt.resign {
				tt.mutate(params)
			}
			n := f.vnpayNotification(billing.ChannelIPN, params)
			if !tt.resign {
				tt.mutate(params)
				for k, v := range params {
					n.Params.Set(k, v)
				}
			}

			res := f.proc.Process(context.Background(), f.vnpay, n)
			if res.Outcome != tt.want {
				t.Fatalf("outcome = %s (%v), want %s", res.Outcome, res.Err, tt.want)
			}
			if _, err := f.ledger.Get(context.Background(), "vnpay:TXN-X"); !errors.Is(err, apperrors.ErrNotFound) {
				t.Errorf("ledger entry created: %v", err)
			}
			if f.users.setTierCalls.Load() != 0 {
				t.Error("store written for unapplied notification")
			}
		})
	}
}

func TestProcess_DeclinedThenPaidIsApplied(t *testing.T) {
	f := newFixture(t, store.User{ID: 42})
	ctx := context.Background()

	declined := f.vnpayNotification(billing.ChannelReturn, f.vnpayParams(t, pro3Membership(), "TXN-D", "24"))
	if res := f.proc.Process(ctx, f.vnpay, declined); res.Outcome != billing.OutcomeDeclined || res.Paid {
		t.Fatalf("declined: %+v", res)
	}
	if res := f.proc.Process(ctx, f.vnpay, f.vnpay3(t, billing.ChannelIPN, pro3Membership(), "TXN-D")); res.Outcome != billing.OutcomeApplied {
		t.Fatalf("paid: %+v", res)
	}
}

func TestProcess_DownstreamOutageStaysPendingUntilSwept(t *testing.T) {
	f := newFixture(t, store.User{ID: 42})
	f.users.getFailures = 1
	f.users.getErr = apperrors.Unavailable("get user", errors.New("connection refused"))
	ctx := context.Background()
	n := f.vnpay3(t, billing.ChannelIPN, pro3Membership(), "TXN-R")

	res := f.proc.Process(ctx, f.vnpay, n)
	if res.Outcome != billing.OutcomeRetry || !res.Outcome.Retryable() {
		t.Fatalf("outage: %+v", res)
	}
	e, _ := f.ledger.Get(ctx, "vnpay:TXN-R")
	if e.Status != ledger.StatusPending {
		t.Fatalf("status = %s, want pending", e.Status)
	}

	// A redelivery while pending is told to come back later
	if res := f.proc.Process(ctx, f.vnpay, n); res.Outcome != billing.OutcomeInProgress {
		t.Fatalf("while pending: %+v", res)
	}

	swept, err := f.ledger.SweepStale(ctx, -time.Minute)
	if err != nil || len(swept) != 1 {
		t.Fatalf("sweep = %v, %v", swept, err)
	}

	res = f.proc.Process(ctx, f.vnpay, n)
	if res.Outcome != billing.OutcomeApplied {
		t.Fatalf("after sweep: %+v", res)
	}
	e, _ = f.ledger.Get(ctx, "vnpay:TXN-R")
	if e.Status != ledger.StatusApplied || e.Attempt != 2 {
		t.Errorf("entry = %+v", e)
	}
}

func TestProcess_UnknownUserIsRejectedPermanently(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	n := f.vnpay3(t, billing.ChannelIPN, pro3Membership(), "TXN-U")

	res := f.proc.Process(ctx, f.vnpay, n)
	if res.Outcome != billing.OutcomeRejected || !errors.Is(res.Err, apperrors.ErrUserNotFound) {
		t.Fatalf("unknown user: %+v", res)
	}
	e, _ := f.ledger.Get(ctx, "vnpay:TXN-U")
	if e.Status != ledger.StatusRejected || e.Reason != ledger.ReasonUserNotFound || e.Retryable {
		t.Errorf("entry = %+v", e)
	}

	f.base.Put(store.User{ID: 42})
	if res := f.proc.Process(ctx, f.vnpay, n); res.Outcome != billing.OutcomeSkipped {
		t.Errorf("redelivery after rejection: %s", res.Outcome)
	}
}

func TestProcess_PanicFinalizesAsInternal(t *testing.T) {
	f := newFixture(t, store.User{ID: 42})
	f.users.panicOnGet = true
	ctx := context.Background()

	res := f.proc.Process(ctx, f.vnpay, f.vnpay3(t, billing.ChannelIPN, pro3Membership(), "TXN-P"))
	if res.Outcome != billing.OutcomeRejected || res.Err == nil {
		t.Fatalf("panic: %+v", res)
	}
	e, _ := f.ledger.Get(ctx, "vnpay:TXN-P")
	if e.Status != ledger.StatusRejected || e.Reason != ledger.ReasonInternal {
		t.Errorf("entry = %+v", e)
	}
}

func TestProcess_AgentProfileFromDraft(t *testing.T) {
	f := newFixture(t, store.User{ID: 42, Email: "agent@example.com"})
	ctx := context.Background()

	draftID, err := f.drafts.Save(ctx, store.ProfileDraft{UserID: 42, DisplayName: "Lan Nguyen", Phone: "+84901234567", Agency: "Saigon Homes"})
	if err != nil {
		t.Fatal(err)
	}
	d := order.Descriptor{UserID: 42, Plan: order.PlanPro1, Kind: order.KindAgentProfile, Amount: decimal.NewFromInt(79000), DraftID: draftID}

	res := f.proc.Process(ctx, f.vnpay, f.vnpay3(t, billing.ChannelReturn, d, "TXN-A"))
	if res.Outcome != billing.OutcomeApplied || res.ProfileID == 0 {
		t.Fatalf("agent order: %+v", res)
	}
	if _, err := f.drafts.Get(ctx, draftID); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("draft not deleted: %v", err)
	}

	if res := f.proc.Process(ctx, f.vnpay, f.vnpay3(t, billing.ChannelIPN, d, "TXN-A")); res.Outcome != billing.OutcomeSkipped {
		t.Errorf("duplicate: %s", res.Outcome)
	}
	// A second, separately paid agent order does not create another profile
	if res := f.proc.Process(ctx, f.vnpay, f.vnpay3(t, billing.ChannelIPN, d, "TXN-B")); res.Outcome != billing.OutcomeApplied {
		t.Errorf("second order: %s", res.Outcome)
	}
	if f.profiles.Count() != 1 {
		t.Errorf("profiles = %d, want 1", f.profiles.Count())
	}
	if f.users.setTierCalls.Load() != 0 {
		t.Error("agent profile order must not change the tier")
	}
}

func TestProcess_AgentProfileWithExpiredDraft(t *testing.T) {
	f := newFixture(t, store.User{ID: 42, Email: "agent@example.com"})
	ctx := context.Background()
	d := order.Descriptor{UserID: 42, Plan: order.PlanPro1, Kind: order.KindAgentProfile, Amount: decimal.NewFromInt(79000),
		DraftID: "0123456789abcdef0123456789abcdef"}

	res := f.proc.Process(ctx, f.vnpay, f.vnpay3(t, billing.ChannelIPN, d, "TXN-E"))
	if res.Outcome != billing.OutcomeApplied || res.ProfileID == 0 {
		t.Fatalf("expired draft: %+v", res)
	}
	if f.profiles.Count() != 1 {
		t.Errorf("profiles = %d", f.profiles.Count())
	}
}

func TestProcess_MoMoNotify(t *testing.T) {
	f := newFixture(t, store.User{ID: 42})
	desc, _ := order.Encode(pro3Membership())

	n := billing.Notification{Gateway: billing.GatewayMoMo, Channel: billing.ChannelNotify, Params: map[string][]string{}}
	for k, v := range map[string]string{
		"partnerCode":  "MOMOESTATE",
		"orderId":      "f00dcafe",
		"requestId":    "req-1",
		"amount":       "199000",
		"orderInfo":    "EstateHub pro3",
		"orderType":    "momo_wallet",
		"transId":      "4088878653",
		"resultCode":   "0",
		"message":      "Successful.",
		"payType":      "qr",
		"responseTime": "1714550412345",
		"extraData":    billing.EncodeExtraData(desc),
	} {
		n.Params.Set(k, v)
	}
	n.Params.Set("signature", f.momo.Sign(n.Params))

	res := f.proc.Process(context.Background(), f.momo, n)
	if res.Outcome != billing.OutcomeApplied || res.OrderRef != "momo:f00dcafe" {
		t.Fatalf("momo notify: %+v", res)
	}

	// The same native reference on the other gateway is a different payment
	if res := f.proc.Process(context.Background(), f.vnpay, f.vnpay3(t, billing.ChannelIPN, pro3Membership(), "f00dcafe")); res.Outcome != billing.OutcomeApplied {
		t.Errorf("vnpay with same native ref: %s", res.Outcome)
	}
}

func TestProcess_IgnoresCallerCancellation(t *testing.T) {
	f := newFixture(t, store.User{ID: 42})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := f.proc.Process(ctx, f.vnpay, f.vnpay3(t, billing.ChannelIPN, pro3Membership(), "TXN-C"))
	if res.Outcome != billing.OutcomeApplied {
		t.Fatalf("outcome = %s", res.Outcome)
	}
}
