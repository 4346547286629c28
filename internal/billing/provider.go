package billing

import (
	"context"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"

	"github.com/rajasatyajit/EstateHub/internal/order"
)

// Gateway identifies a payment provider
type Gateway string

const (
	GatewayVNPay Gateway = "vnpay"
	GatewayMoMo  Gateway = "momo"
)

// Channel is the delivery path a notification arrived on
type Channel string

const (
	// ChannelReturn is the payer's browser redirected back from the gateway.
	ChannelReturn Channel = "return"
	// ChannelIPN is the gateway's server-to-server confirmation.
	ChannelIPN Channel = "ipn"
	// ChannelNotify is the gateway's asynchronous notify call.
	ChannelNotify Channel = "notify"
)

// ParseChannel validates a channel name from a route
func ParseChannel(s string) (Channel, bool) {
	switch c := Channel(s); c {
	case ChannelReturn, ChannelIPN, ChannelNotify:
		return c, true
	}
	return "", false
}

// Notification is a raw, unverified gateway callback
type Notification struct {
	Gateway Gateway
	Channel Channel
	Params  url.Values
}

// Verification is the result of checking a notification's signature
type Verification struct {
	Valid    bool
	OrderRef string
}

// VerifiedNotification is built only by a Provider after the signature
// verified, so holding one proves the fields came from the gateway.
type VerifiedNotification struct {
	orderRef      string
	success       bool
	order         order.Descriptor
	amount        decimal.Decimal
	gateway       Gateway
	channel       Channel
	transactionID string
}

func (v VerifiedNotification) OrderRef() string         { return v.orderRef }
func (v VerifiedNotification) Success() bool            { return v.success }
func (v VerifiedNotification) Order() order.Descriptor  { return v.order }
func (v VerifiedNotification) Amount() decimal.Decimal  { return v.amount }
func (v VerifiedNotification) Gateway() Gateway         { return v.gateway }
func (v VerifiedNotification) Channel() Channel         { return v.channel }
func (v VerifiedNotification) TransactionID() string    { return v.transactionID }

// Outcome is how a notification was resolved; it selects the acknowledgement
type Outcome string

const (
	OutcomeApplied            Outcome = "applied"
	OutcomeSkipped            Outcome = "skipped"
	OutcomeInProgress         Outcome = "in_progress"
	OutcomeRetry              Outcome = "retry"
	OutcomeRejected           Outcome = "rejected"
	OutcomeVerificationFailed Outcome = "verification_failed"
	OutcomeMalformed          Outcome = "malformed"
	OutcomeAmountMismatch     Outcome = "amount_mismatch"
	OutcomeDeclined           Outcome = "declined"
)

// Retryable reports whether the gateway should deliver the notification again
func (o Outcome) Retryable() bool {
	return o == OutcomeRetry || o == OutcomeInProgress
}

// CheckoutRequest starts a purchase
type CheckoutRequest struct {
	Order    order.Descriptor
	ClientIP string
}

// CheckoutResponse tells the client where to send the payer
type CheckoutResponse struct {
	Provider   Gateway `json:"provider"`
	URL        string  `json:"url"`
	OrderRef   string  `json:"order_ref"`
	Descriptor string  `json:"descriptor"`
}

// Provider adapts one gateway's protocol
type Provider interface {
	Name() Gateway
	// Verify checks the signature without trusting any other field.
	Verify(params url.Values, ch Channel) Verification
	CreateCheckout(ctx context.Context, req CheckoutRequest) (CheckoutResponse, error)
	// ParseRequest extracts the signed parameters from an HTTP callback.
	ParseRequest(r *http.Request, ch Channel) (Notification, error)
	// Adapt verifies n and reads its payment fields. On ErrMalformedOrder the
	// returned value is verified but carries no order.
	Adapt(n Notification) (VerifiedNotification, error)
	// WriteAck writes the acknowledgement the gateway's protocol requires.
	WriteAck(w http.ResponseWriter, n Notification, out Outcome)
}

// OrderRef scopes a gateway's native reference so two gateways never collide
func OrderRef(g Gateway, native string) string {
	if native == "" {
		return ""
	}
	return string(g) + ":" + native
}

// Registry looks providers up by gateway name
type Registry map[Gateway]Provider

func NewRegistry(providers ...Provider) Registry {
	r := make(Registry, len(providers))
	for _, p := range providers {
		r[p.Name()] = p
	}
	return r
}

func (r Registry) Get(name string) (Provider, bool) {
	p, ok := r[Gateway(name)]
	return p, ok
}

// maxCallbackBody bounds notification bodies
const maxCallbackBody = 64 << 10
