package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rajasatyajit/EstateHub/config"
	apperrors "github.com/rajasatyajit/EstateHub/internal/errors"
	"github.com/rajasatyajit/EstateHub/internal/order"
)

// VNPay amounts are sent in hundredths of the currency unit
var vnpAmountScale = decimal.NewFromInt(100)

// VNPay timestamps are Vietnam local time
var vnpZone = time.FixedZone("ICT", 7*60*60)

const vnpTimeLayout = "20060102150405"

// VNPayService implements Provider for the VNPay payment gateway
type VNPayService struct {
	cfg config.VNPayConfig
	now func() time.Time
}

func NewVNPay(cfg config.VNPayConfig) *VNPayService {
	return &VNPayService{cfg: cfg, now: time.Now}
}

func (v *VNPayService) Name() Gateway { return GatewayVNPay }

// canonical is the string VNPay signs: every non-empty vnp_ parameter except
// the hash fields, sorted by key, values query-escaped.
func (v *VNPayService) canonical(params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if !strings.HasPrefix(k, "vnp_") || k == "vnp_SecureHash" || k == "vnp_SecureHashType" {
			continue
		}
		if params.Get(k) == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params.Get(k)))
	}
	return b.String()
}

// Sign returns the hex HMAC-SHA512 VNPay expects in vnp_SecureHash
func (v *VNPayService) Sign(params url.Values) string {
	mac := hmac.New(sha512.New, []byte(v.cfg.HashSecret))
	mac.Write([]byte(v.canonical(params)))
	return hex.EncodeToString(mac.Sum(nil))
}

func (v *VNPayService) Verify(params url.Values, ch Channel) Verification {
	if v.cfg.HashSecret == "" {
		return Verification{}
	}
	got := strings.ToLower(params.Get("vnp_SecureHash"))
	if got == "" {
		return Verification{}
	}
	if !hmac.Equal([]byte(got), []byte(v.Sign(params))) {
		return Verification{}
	}
	return Verification{Valid: true, OrderRef: OrderRef(GatewayVNPay, params.Get("vnp_TxnRef"))}
}

// CreateCheckout builds a signed payment URL; VNPay needs no server call.
func (v *VNPayService) CreateCheckout(ctx context.Context, req CheckoutRequest) (CheckoutResponse, error) {
	if v.cfg.TmnCode == "" || v.cfg.HashSecret == "" {
		return CheckoutResponse{}, apperrors.GatewayError{Gateway: string(GatewayVNPay), Op: "checkout", Err: errors.New("vnpay not configured")}
	}
	descriptor, err := order.Encode(req.Order)
	if err != nil {
		return CheckoutResponse{}, err
	}
	minor := req.Order.Amount.Mul(vnpAmountScale)
	if !minor.IsInteger() {
		return CheckoutResponse{}, apperrors.ValidationError{Field: "amount", Message: "vnpay supports at most two decimal places"}
	}

	txnRef := strings.ReplaceAll(uuid.NewString(), "-", "")
	now := v.now().In(vnpZone)
	ip := req.ClientIP
	if ip == "" {
		ip = "127.0.0.1"
	}

	params := url.Values{}
	params.Set("vnp_Version", v.cfg.Version)
	params.Set("vnp_Command", "pay")
	params.Set("vnp_TmnCode", v.cfg.TmnCode)
	params.Set("vnp_Amount", minor.String())
	params.Set("vnp_CurrCode", v.cfg.CurrCode)
	params.Set("vnp_TxnRef", txnRef)
	params.Set("vnp_OrderInfo", descriptor)
	params.Set("vnp_OrderType", v.cfg.OrderType)
	params.Set("vnp_Locale", v.cfg.Locale)
	params.Set("vnp_ReturnUrl", v.cfg.ReturnURL)
	params.Set("vnp_IpAddr", ip)
	params.Set("vnp_CreateDate", now.Format(vnpTimeLayout))
	params.Set("vnp_ExpireDate", now.Add(v.cfg.ExpireIn).Format(vnpTimeLayout))

	u := v.cfg.PayURL + "?" + v.canonical(params) + "&vnp_SecureHash=" + v.Sign(params)
	return CheckoutResponse{
		Provider:   GatewayVNPay,
		URL:        u,
		OrderRef:   OrderRef(GatewayVNPay, txnRef),
		Descriptor: descriptor,
	}, nil
}

// ParseRequest reads the query string; VNPay sends every channel as GET.
func (v *VNPayService) ParseRequest(r *http.Request, ch Channel) (Notification, error) {
	params := r.URL.Query()
	if r.Method == http.MethodPost {
		r.Body = http.MaxBytesReader(nil, r.Body, maxCallbackBody)
		if err := r.ParseForm(); err != nil {
			return Notification{}, apperrors.ValidationError{Field: "body", Message: err.Error()}
		}
		params = r.Form
	}
	return Notification{Gateway: GatewayVNPay, Channel: ch, Params: params}, nil
}

func (v *VNPayService) Adapt(n Notification) (VerifiedNotification, error) {
	ver := v.Verify(n.Params, n.Channel)
	if !ver.Valid {
		return VerifiedNotification{}, fmt.Errorf("vnpay %s: %w", n.Channel, apperrors.ErrVerificationFailed)
	}

	// Signature verified; the fields below are trusted from here on.
	p := n.Params
	vn := VerifiedNotification{
		orderRef:      ver.OrderRef,
		gateway:       GatewayVNPay,
		channel:       n.Channel,
		transactionID: p.Get("vnp_TransactionNo"),
	}
	status := p.Get("vnp_TransactionStatus")
	vn.success = p.Get("vnp_ResponseCode") == "00" && (status == "" || status == "00")

	if vn.orderRef == "" {
		return vn, fmt.Errorf("vnpay: missing vnp_TxnRef: %w", apperrors.ErrMalformedOrder)
	}
	minor, err := strconv.ParseInt(p.Get("vnp_Amount"), 10, 64)
	if err != nil || minor < 0 {
		return vn, fmt.Errorf("vnpay: bad vnp_Amount %q: %w", p.Get("vnp_Amount"), apperrors.ErrMalformedOrder)
	}
	vn.amount = decimal.NewFromInt(minor).Div(vnpAmountScale)

	d, err := order.Decode(p.Get("vnp_OrderInfo"))
	if err != nil {
		return vn, fmt.Errorf("vnpay: %w", err)
	}
	vn.order = d
	return vn, nil
}

type vnpayAck struct {
	RspCode string `json:"RspCode"`
	Message string `json:"Message"`
}

var vnpayAcks = map[Outcome]vnpayAck{
	OutcomeApplied:            {"00", "Confirm Success"},
	OutcomeDeclined:           {"00", "Confirm Success"},
	OutcomeSkipped:            {"02", "Order already confirmed"},
	OutcomeRejected:           {"01", "Order not found"},
	OutcomeMalformed:          {"01", "Order not found"},
	OutcomeAmountMismatch:     {"04", "Invalid amount"},
	OutcomeVerificationFailed: {"97", "Invalid signature"},
	OutcomeRetry:              {"99", "Unknown error"},
	OutcomeInProgress:         {"99", "Unknown error"},
}

// VNPayAckCode returns the RspCode sent for an outcome
func VNPayAckCode(out Outcome) string {
	if a, ok := vnpayAcks[out]; ok {
		return a.RspCode
	}
	return "99"
}

// WriteAck answers with VNPay's IPN contract: HTTP 200 and a JSON RspCode.
func (v *VNPayService) WriteAck(w http.ResponseWriter, n Notification, out Outcome) {
	ack, ok := vnpayAcks[out]
	if !ok {
		ack = vnpayAck{"99", "Unknown error"}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(ack)
}
