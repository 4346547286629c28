package billing

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rajasatyajit/EstateHub/config"
	apperrors "github.com/rajasatyajit/EstateHub/internal/errors"
	"github.com/rajasatyajit/EstateHub/internal/order"
)

// Field order MoMo signs for payment results
var momoResultFields = []string{
	"accessKey", "amount", "extraData", "message", "orderId", "orderInfo",
	"orderType", "partnerCode", "payType", "requestId", "responseTime",
	"resultCode", "transId",
}

// Field order MoMo signs for the notify acknowledgement
var momoAckFields = []string{
	"accessKey", "extraData", "message", "orderId", "partnerCode",
	"requestId", "responseTime", "resultCode",
}

// Field order MoMo signs for payment creation
var momoCreateFields = []string{
	"accessKey", "amount", "extraData", "ipnUrl", "orderId", "orderInfo",
	"partnerCode", "redirectUrl", "requestId", "requestType",
}

// MoMoService implements Provider for the MoMo e-wallet gateway
type MoMoService struct {
	cfg    config.MoMoConfig
	client *http.Client
	now    func() time.Time
}

func NewMoMo(cfg config.MoMoConfig) *MoMoService {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &MoMoService{cfg: cfg, client: &http.Client{Timeout: timeout}, now: time.Now}
}

func (m *MoMoService) Name() Gateway { return GatewayMoMo }

// rawSignature joins fields as key=value in the given order. accessKey comes
// from configuration, never from the request.
func (m *MoMoService) rawSignature(fields []string, params url.Values) string {
	var b strings.Builder
	for i, k := range fields {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		if k == "accessKey" {
			b.WriteString(m.cfg.AccessKey)
		} else {
			b.WriteString(params.Get(k))
		}
	}
	return b.String()
}

func (m *MoMoService) digest(raw string) string {
	mac := hmac.New(sha256.New, []byte(m.cfg.SecretKey))
	mac.Write([]byte(raw))
	return hex.EncodeToString(mac.Sum(nil))
}

// Sign returns the signature MoMo puts on a payment result
func (m *MoMoService) Sign(params url.Values) string {
	return m.digest(m.rawSignature(momoResultFields, params))
}

func (m *MoMoService) Verify(params url.Values, ch Channel) Verification {
	if m.cfg.SecretKey == "" {
		return Verification{}
	}
	got := strings.ToLower(params.Get("signature"))
	if got == "" {
		return Verification{}
	}
	if !hmac.Equal([]byte(got), []byte(m.Sign(params))) {
		return Verification{}
	}
	return Verification{Valid: true, OrderRef: OrderRef(GatewayMoMo, params.Get("orderId"))}
}

// EncodeExtraData carries a descriptor in MoMo's extraData field
func EncodeExtraData(descriptor string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(descriptor))
}

func decodeExtraData(s string) (string, error) {
	// Tolerate padded input; some MoMo environments re-pad base64 fields.
	b, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

type momoCreateRequest struct {
	PartnerCode string `json:"partnerCode"`
	RequestID   string `json:"requestId"`
	Amount      int64  `json:"amount"`
	OrderID     string `json:"orderId"`
	OrderInfo   string `json:"orderInfo"`
	RedirectURL string `json:"redirectUrl"`
	IPNURL      string `json:"ipnUrl"`
	RequestType string `json:"requestType"`
	ExtraData   string `json:"extraData"`
	Lang        string `json:"lang"`
	Signature   string `json:"signature"`
}

type momoCreateResponse struct {
	PartnerCode  string `json:"partnerCode"`
	OrderID      string `json:"orderId"`
	RequestID    string `json:"requestId"`
	Amount       int64  `json:"amount"`
	ResponseTime int64  `json:"responseTime"`
	Message      string `json:"message"`
	ResultCode   int    `json:"resultCode"`
	PayURL       string `json:"payUrl"`
}

// CreateCheckout registers the payment with MoMo and returns its payUrl
func (m *MoMoService) CreateCheckout(ctx context.Context, req CheckoutRequest) (CheckoutResponse, error) {
	if m.cfg.PartnerCode == "" || m.cfg.AccessKey == "" || m.cfg.SecretKey == "" {
		return CheckoutResponse{}, apperrors.GatewayError{Gateway: string(GatewayMoMo), Op: "checkout", Err: errors.New("momo not configured")}
	}
	descriptor, err := order.Encode(req.Order)
	if err != nil {
		return CheckoutResponse{}, err
	}
	if !req.Order.Amount.IsInteger() {
		return CheckoutResponse{}, apperrors.ValidationError{Field: "amount", Message: "momo requires a whole amount"}
	}

	orderID := strings.ReplaceAll(uuid.NewString(), "-", "")
	payload := momoCreateRequest{
		PartnerCode: m.cfg.PartnerCode,
		RequestID:   uuid.NewString(),
		Amount:      req.Order.Amount.IntPart(),
		OrderID:     orderID,
		OrderInfo:   fmt.Sprintf("EstateHub %s", req.Order.Plan),
		RedirectURL: m.cfg.RedirectURL,
		IPNURL:      m.cfg.IPNURL,
		RequestType: m.cfg.RequestType,
		ExtraData:   EncodeExtraData(descriptor),
		Lang:        m.cfg.Lang,
	}
	payload.Signature = m.digest(m.rawSignature(momoCreateFields, url.Values{
		"amount":      {strconv.FormatInt(payload.Amount, 10)},
		"extraData":   {payload.ExtraData},
		"ipnUrl":      {payload.IPNURL},
		"orderId":     {payload.OrderID},
		"orderInfo":   {payload.OrderInfo},
		"partnerCode": {payload.PartnerCode},
		"redirectUrl": {payload.RedirectURL},
		"requestId":   {payload.RequestID},
		"requestType": {payload.RequestType},
	}))

	out, err := m.createPayment(ctx, payload)
	if err != nil {
		return CheckoutResponse{}, apperrors.GatewayError{Gateway: string(GatewayMoMo), Op: "create payment", Err: err}
	}
	return CheckoutResponse{
		Provider:   GatewayMoMo,
		URL:        out.PayURL,
		OrderRef:   OrderRef(GatewayMoMo, orderID),
		Descriptor: descriptor,
	}, nil
}

func (m *MoMoService) createPayment(ctx context.Context, payload momoCreateRequest) (*momoCreateResponse, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.Endpoint, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, apperrors.Unavailable("momo create", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, apperrors.Unavailable("momo create", fmt.Errorf("status %d: %s", resp.StatusCode, body))
	}

	var out momoCreateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode momo response (status %d): %w", resp.StatusCode, err)
	}
	if out.ResultCode != 0 || out.PayURL == "" {
		return nil, fmt.Errorf("momo rejected payment: %d %s", out.ResultCode, out.Message)
	}
	return &out, nil
}

// ParseRequest reads the query string for Return and a JSON or form body for
// IPN and Notify. JSON numbers keep their original text so the signature
// can be recomputed over exactly what MoMo sent.
func (m *MoMoService) ParseRequest(r *http.Request, ch Channel) (Notification, error) {
	n := Notification{Gateway: GatewayMoMo, Channel: ch}
	if r.Method == http.MethodGet {
		n.Params = r.URL.Query()
		return n, nil
	}

	r.Body = http.MaxBytesReader(nil, r.Body, maxCallbackBody)
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		params, err := jsonParams(r.Body)
		if err != nil {
			return Notification{}, apperrors.ValidationError{Field: "body", Message: err.Error()}
		}
		n.Params = params
		return n, nil
	}

	if err := r.ParseForm(); err != nil {
		return Notification{}, apperrors.ValidationError{Field: "body", Message: err.Error()}
	}
	n.Params = r.Form
	return n, nil
}

func jsonParams(body io.Reader) (url.Values, error) {
	dec := json.NewDecoder(body)
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	params := make(url.Values, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			params.Set(k, val)
		case json.Number:
			params.Set(k, val.String())
		case bool:
			params.Set(k, strconv.FormatBool(val))
		case nil:
			params.Set(k, "")
		default:
			// nested objects are not part of any signed field
		}
	}
	return params, nil
}

func (m *MoMoService) Adapt(n Notification) (VerifiedNotification, error) {
	ver := m.Verify(n.Params, n.Channel)
	if !ver.Valid {
		return VerifiedNotification{}, fmt.Errorf("momo %s: %w", n.Channel, apperrors.ErrVerificationFailed)
	}

	p := n.Params
	if p.Get("partnerCode") != m.cfg.PartnerCode {
		return VerifiedNotification{}, fmt.Errorf("momo %s: partner %q: %w", n.Channel, p.Get("partnerCode"), apperrors.ErrVerificationFailed)
	}

	vn := VerifiedNotification{
		orderRef:      ver.OrderRef,
		gateway:       GatewayMoMo,
		channel:       n.Channel,
		transactionID: p.Get("transId"),
	}
	code := p.Get("resultCode")
	vn.success = code == "0" || code == "9000"

	if vn.orderRef == "" {
		return vn, fmt.Errorf("momo: missing orderId: %w", apperrors.ErrMalformedOrder)
	}
	amount, err := decimal.NewFromString(p.Get("amount"))
	if err != nil || amount.IsNegative() {
		return vn, fmt.Errorf("momo: bad amount %q: %w", p.Get("amount"), apperrors.ErrMalformedOrder)
	}
	vn.amount = amount

	raw, err := decodeExtraData(p.Get("extraData"))
	if err != nil {
		return vn, fmt.Errorf("momo: extraData: %v: %w", err, apperrors.ErrMalformedOrder)
	}
	d, err := order.Decode(raw)
	if err != nil {
		return vn, fmt.Errorf("momo: %w", err)
	}
	vn.order = d
	return vn, nil
}

type momoNotifyAck struct {
	PartnerCode  string `json:"partnerCode"`
	RequestID    string `json:"requestId"`
	OrderID      string `json:"orderId"`
	ResultCode   int    `json:"resultCode"`
	Message      string `json:"message"`
	ResponseTime int64  `json:"responseTime"`
	ExtraData    string `json:"extraData"`
	Signature    string `json:"signature"`
}

// WriteAck follows MoMo's contract: IPN wants 204 once handled; Notify wants
// a signed JSON echo. Both answer 503 when the delivery should be retried.
func (m *MoMoService) WriteAck(w http.ResponseWriter, n Notification, out Outcome) {
	if out.Retryable() {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	if n.Channel != ChannelNotify {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	ack := momoNotifyAck{
		PartnerCode:  m.cfg.PartnerCode,
		RequestID:    n.Params.Get("requestId"),
		OrderID:      n.Params.Get("orderId"),
		ResultCode:   0,
		Message:      "success",
		ResponseTime: m.now().UnixMilli(),
		ExtraData:    n.Params.Get("extraData"),
	}
	ack.Signature = m.digest(m.rawSignature(momoAckFields, url.Values{
		"extraData":    {ack.ExtraData},
		"message":      {ack.Message},
		"orderId":      {ack.OrderID},
		"partnerCode":  {ack.PartnerCode},
		"requestId":    {ack.RequestID},
		"responseTime": {strconv.FormatInt(ack.ResponseTime, 10)},
		"resultCode":   {strconv.Itoa(ack.ResultCode)},
	}))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(ack)
}
