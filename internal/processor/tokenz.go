package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultTokenzURL     = "https://api.tokenz.one"
	DefaultTimeout       = 15 * time.Second
	defaultLocale        = "zh_TW"
	maxResponseBytes     = 1 << 20
	digitalGoodsCategory = "DIGITAL_GOODS_AND_SERVICES"
)

// Paths probed, in order, for the hosted checkout url and the session id.
var (
	checkoutURLHeaders = []string{"Location", "X-Redirect-Url", "X-Checkout-Url"}
	checkoutURLPaths   = [][]string{
		{"redirectUrl"}, {"redirectURL"}, {"checkoutUrl"}, {"url"}, {"redirect", "url"},
		{"data", "redirectUrl"}, {"data", "redirectURL"}, {"data", "checkoutUrl"}, {"data", "url"},
	}
	sessionIDPaths = [][]string{{"id"}, {"sessionId"}, {"data", "id"}, {"data", "sessionId"}}
	refundIDPaths  = [][]string{{"id"}, {"refundId"}}
)

// TokenzConfig configures the Tokenz client.
type TokenzConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Tokenz talks to the Tokenz checkout and refund APIs.
type Tokenz struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewTokenz creates a Tokenz client. Zero fields take the package defaults.
func NewTokenz(cfg TokenzConfig) *Tokenz {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultTokenzURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Tokenz{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

func (t *Tokenz) Name() string { return "tokenz" }

type tokenzPrice struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

type tokenzProduct struct {
	Price       tokenzPrice `json:"price"`
	Images      []string    `json:"images"`
	Quantity    int         `json:"quantity"`
	Label       string      `json:"label"`
	TaxCategory string      `json:"taxCategory"`
}

type tokenzItem struct {
	Product tokenzProduct `json:"product"`
}

type tokenzCustomer struct {
	Mail   string `json:"mail"`
	Number string `json:"number"`
}

type tokenzSessionBody struct {
	ItemDetails  []tokenzItem   `json:"itemDetails"`
	SuccessURL   string         `json:"successUrl"`
	CancelURL    string         `json:"cancelUrl"`
	PendingURL   string         `json:"pendingUrl"`
	CustomerInfo tokenzCustomer `json:"customerInfo"`
}

type tokenzRefundBody struct {
	OrderID string `json:"orderId"`
	Reason  string `json:"reason"`
	Detail  string `json:"detail,omitempty"`
}

// CreateSession creates a hosted checkout session. A success response that
// carries no checkout url is reported as a 502 RemoteError.
func (t *Tokenz) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	images := []string{}
	if req.ProductImage != "" {
		images = append(images, req.ProductImage)
	}
	body := tokenzSessionBody{
		ItemDetails: []tokenzItem{{Product: tokenzProduct{
			Price:       tokenzPrice{Amount: req.Amount, Currency: req.Currency},
			Images:      images,
			Quantity:    1,
			Label:       req.ProductName,
			TaxCategory: digitalGoodsCategory,
		}}},
		SuccessURL:   req.SuccessURL,
		CancelURL:    req.CancelURL,
		PendingURL:   req.PendingURL,
		CustomerInfo: tokenzCustomer{Mail: req.Mail, Number: req.Phone},
	}

	locale := req.Locale
	if locale == "" {
		locale = defaultLocale
	}
	headers := map[string]string{"Accept-Language": strings.Replace(locale, "_", "-", 1)}

	resp, raw, err := t.post(ctx, "/v2/checkoutsession", body, headers)
	if err != nil {
		return nil, err
	}
	if !isSuccess(resp.StatusCode) {
		return nil, remoteFailure(resp.StatusCode, raw, "create checkout session failed")
	}

	data := decodeBody(raw)
	checkoutURL := ""
	for _, h := range checkoutURLHeaders {
		if v := resp.Header.Get(h); v != "" {
			checkoutURL = v
			break
		}
	}
	if checkoutURL == "" {
		checkoutURL = firstStringAt(data, checkoutURLPaths)
	}
	if checkoutURL == "" {
		return nil, &RemoteError{
			Status:  http.StatusBadGateway,
			Body:    raw,
			Message: "processor response has no checkout url",
		}
	}
	return &Session{
		ID:          firstStringAt(data, sessionIDPaths),
		CheckoutURL: checkoutURL,
	}, nil
}

// CreateRefund files a refund for a processor order. Detail is only sent for
// the "other" reason.
func (t *Tokenz) CreateRefund(ctx context.Context, req RefundRequest) (*Refund, error) {
	body := tokenzRefundBody{OrderID: req.ProcessorOrderID, Reason: req.Reason}
	if req.Reason == ReasonOther {
		body.Detail = req.Detail
	}
	resp, raw, err := t.post(ctx, "/v1/refunds", body, nil)
	if err != nil {
		return nil, err
	}
	if !isSuccess(resp.StatusCode) {
		return nil, remoteFailure(resp.StatusCode, raw, "refund request failed")
	}
	return &Refund{
		ID:   firstStringAt(decodeBody(raw), refundIDPaths),
		Body: raw,
	}, nil
}

func (t *Tokenz) post(ctx context.Context, path string, body any, headers map[string]string) (*http.Response, []byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal %s request: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, nil, fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.token)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, nil, transportError("POST "+path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, nil, transportError("read "+path+" response", err)
	}
	return resp, raw, nil
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

// remoteFailure builds a RemoteError using the processor's own message when it sent one.
func remoteFailure(status int, raw []byte, fallback string) *RemoteError {
	msg := firstStringAt(decodeBody(raw), [][]string{{"message"}, {"error"}})
	if msg == "" {
		msg = fallback
	}
	return &RemoteError{Status: status, Body: raw, Message: msg}
}

func firstStringAt(v any, paths [][]string) string {
	for _, path := range paths {
		cur := v
		for _, k := range path {
			m, ok := cur.(map[string]any)
			if !ok {
				cur = nil
				break
			}
			cur = m[k]
		}
		if s, ok := cur.(string); ok && s != "" {
			return s
		}
	}
	return ""
}
