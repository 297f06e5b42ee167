package paystack

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sendgrid/rest"

	"github.com/steamspark/spark/core"
	"github.com/steamspark/spark/core/earning"
	"github.com/steamspark/spark/core/payment"
)

const (
	DefaultBaseURL = "https://api.paystack.co"
	provider       = "paystack"
	transferSource = "balance"
)

// Client talks to the Paystack REST API. It is both the payment and the transfer gateway.
type Client struct {
	secretKey string
	baseURL   string
	rest      *rest.Client
}

var (
	_ payment.Gateway         = (*Client)(nil)
	_ earning.TransferGateway = (*Client)(nil)
)

func NewClient(conf *core.Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		secretKey: conf.Paystack.SecretKey,
		baseURL:   strings.TrimSuffix(core.FirstNonEmpty(conf.Paystack.BaseURL, DefaultBaseURL), "/"),
		rest:      &rest.Client{HTTPClient: httpClient},
	}
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// call sends a request and returns the response envelope. Non JSON responses are gateway errors.
func (c *Client) call(ctx context.Context, method rest.Method, path string, query map[string]string, payload interface{}) (envelope, int, error) {
	req := rest.Request{
		Method:  method,
		BaseURL: c.baseURL + path,
		Headers: map[string]string{
			"Authorization": "Bearer " + c.secretKey,
			"Content-Type":  "application/json",
			"Accept":        "application/json",
		},
		QueryParams: query,
	}
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return envelope{}, 0, errors.Wrap(err, "encoding request")
		}
		req.Body = body
	}

	httpReq, err := rest.BuildRequestObject(req)
	if err != nil {
		return envelope{}, 0, errors.Wrapf(err, "building %s %s", method, path)
	}
	httpRes, err := c.rest.MakeRequest(httpReq.WithContext(ctx))
	if err != nil {
		return envelope{}, 0, errors.Wrapf(err, "%s %s", method, path)
	}
	res, err := rest.BuildResponse(httpRes)
	if err != nil {
		return envelope{}, httpRes.StatusCode, errors.Wrapf(err, "reading %s response", path)
	}

	var env envelope
	if err := json.Unmarshal([]byte(res.Body), &env); err != nil {
		return envelope{}, res.StatusCode, core.NewGatewayError(provider, res.StatusCode,
			fmt.Sprintf("unexpected response (%d) from %s", res.StatusCode, path))
	}
	return env, res.StatusCode, nil
}

// do sends a request and decodes the envelope data into out. A false status is a gateway error.
func (c *Client) do(ctx context.Context, method rest.Method, path string, payload, out interface{}) error {
	env, code, err := c.call(ctx, method, path, nil, payload)
	if err != nil {
		return err
	}
	if !env.Status {
		return core.NewGatewayError(provider, code, core.FirstNonEmpty(env.Message, "request failed"))
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return errors.Wrapf(json.Unmarshal(env.Data, out), "decoding %s response", path)
}

// Payments

type initializeBody struct {
	Email       string           `json:"email"`
	Amount      int64            `json:"amount"`
	Currency    string           `json:"currency"`
	Reference   string           `json:"reference,omitempty"`
	CallbackURL string           `json:"callback_url,omitempty"`
	Metadata    payment.Metadata `json:"metadata"`
	Channels    []string         `json:"channels,omitempty"`
}

func (c *Client) InitializeTransaction(ctx context.Context, req payment.InitializeRequest) (payment.Authorization, error) {
	var data struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	}
	err := c.do(ctx, rest.Post, "/transaction/initialize", initializeBody{
		Email:       req.Email,
		Amount:      req.Amount.Pesewas(),
		Currency:    core.FirstNonEmpty(req.Currency, core.Currency),
		Reference:   req.Reference,
		CallbackURL: req.CallbackURL,
		Metadata:    req.Metadata,
		Channels:    req.Channels,
	}, &data)
	if err != nil {
		return payment.Authorization{}, err
	}
	return payment.Authorization{
		AuthorizationURL: data.AuthorizationURL,
		AccessCode:       data.AccessCode,
		Reference:        data.Reference,
	}, nil
}

type chargeData struct {
	Status          string          `json:"status"`
	Reference       string          `json:"reference"`
	Amount          int64           `json:"amount"`
	Currency        string          `json:"currency"`
	Channel         string          `json:"channel"`
	GatewayResponse string          `json:"gateway_response"`
	PaidAt          *string         `json:"paid_at"`
	Metadata        json.RawMessage `json:"metadata"`
}

func (d chargeData) charge() payment.Charge {
	ch := payment.Charge{
		Status:          d.Status,
		Reference:       d.Reference,
		Amount:          core.Money(d.Amount),
		Currency:        d.Currency,
		Channel:         d.Channel,
		GatewayResponse: d.GatewayResponse,
		Metadata:        parseMetadata(d.Metadata),
	}
	if d.PaidAt != nil {
		if t, err := time.Parse(time.RFC3339, *d.PaidAt); err == nil {
			ch.PaidAt = t
		}
	}
	return ch
}

// parseMetadata accepts metadata sent as an object, as a JSON encoded string, or empty.
func parseMetadata(raw json.RawMessage) payment.Metadata {
	var md payment.Metadata
	if len(raw) == 0 {
		return md
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return md
		}
		raw = json.RawMessage(s)
	}
	_ = json.Unmarshal(raw, &md)
	return md
}

func (c *Client) VerifyTransaction(ctx context.Context, reference string) (payment.Verification, error) {
	env, _, err := c.call(ctx, rest.Get, "/transaction/verify/"+url.PathEscape(reference), nil, nil)
	if err != nil {
		return payment.Verification{}, err
	}
	v := payment.Verification{Status: env.Status, Message: env.Message}
	if !env.Status || len(env.Data) == 0 {
		return v, nil
	}
	var data chargeData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return payment.Verification{}, errors.Wrap(err, "decoding verification")
	}
	v.Charge = data.charge()
	return v, nil
}

// ValidSignature compares the HMAC-SHA512 of the body, keyed with the secret key, to the signature header.
func (c *Client) ValidSignature(body []byte, signature string) bool {
	mac := hmac.New(sha512.New, []byte(c.secretKey))
	_, _ = mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature))))
}

func (c *Client) ParseEvent(body []byte) (payment.Event, error) {
	var ev struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &ev); err != nil {
		return payment.Event{}, errors.Wrap(err, "decoding event")
	}
	out := payment.Event{Name: ev.Event}

	switch {
	case strings.HasPrefix(ev.Event, "charge."):
		var data chargeData
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			return payment.Event{}, errors.Wrap(err, "decoding charge")
		}
		out.Charge = data.charge()
	case strings.HasPrefix(ev.Event, "transfer."):
		var data transferData
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			return payment.Event{}, errors.Wrap(err, "decoding transfer")
		}
		out.Transfer = earning.TransferEvent{
			Event:        ev.Event,
			Reference:    data.Reference,
			TransferCode: data.TransferCode,
			Reason:       data.Reason,
		}
	}
	return out, nil
}

// Transfers

type transferData struct {
	Reference    string `json:"reference"`
	TransferCode string `json:"transfer_code"`
	Status       string `json:"status"`
	Reason       string `json:"reason"`
}

func (d transferData) result() earning.TransferResult {
	return earning.TransferResult{
		Reference:    d.Reference,
		TransferCode: d.TransferCode,
		Status:       earning.PayoutStatus(d.Status),
	}
}

func (c *Client) CreateTransferRecipient(ctx context.Context, r earning.Recipient) (string, error) {
	var data struct {
		RecipientCode string `json:"recipient_code"`
	}
	err := c.do(ctx, rest.Post, "/transferrecipient", map[string]string{
		"type":           r.Type,
		"name":           r.Name,
		"account_number": r.AccountNumber,
		"bank_code":      r.BankCode,
		"currency":       core.FirstNonEmpty(r.Currency, core.Currency),
	}, &data)
	return data.RecipientCode, err
}

type transferItem struct {
	Amount    int64  `json:"amount"`
	Recipient string `json:"recipient"`
	Reason    string `json:"reason,omitempty"`
	Reference string `json:"reference"`
}

func newTransferItem(t earning.Transfer) transferItem {
	return transferItem{
		Amount:    t.Amount.Pesewas(),
		Recipient: t.Recipient,
		Reason:    t.Reason,
		Reference: t.Reference,
	}
}

func (c *Client) InitiateTransfer(ctx context.Context, t earning.Transfer) (earning.TransferResult, error) {
	var data transferData
	err := c.do(ctx, rest.Post, "/transfer", struct {
		Source   string `json:"source"`
		Currency string `json:"currency"`
		transferItem
	}{
		Source:       transferSource,
		Currency:     core.Currency,
		transferItem: newTransferItem(t),
	}, &data)
	if err != nil {
		return earning.TransferResult{}, err
	}
	return data.result(), nil
}

func (c *Client) InitiateBulkTransfer(ctx context.Context, transfers []earning.Transfer) ([]earning.TransferResult, error) {
	items := make([]transferItem, 0, len(transfers))
	for _, t := range transfers {
		items = append(items, newTransferItem(t))
	}
	var data []transferData
	err := c.do(ctx, rest.Post, "/transfer/bulk", map[string]interface{}{
		"source":    transferSource,
		"currency":  core.Currency,
		"transfers": items,
	}, &data)
	if err != nil {
		return nil, err
	}
	results := make([]earning.TransferResult, 0, len(data))
	for _, d := range data {
		results = append(results, d.result())
	}
	return results, nil
}

func (c *Client) FinalizeTransfer(ctx context.Context, transferCode, otp string) (earning.TransferResult, error) {
	var data transferData
	err := c.do(ctx, rest.Post, "/transfer/finalize_transfer", map[string]string{
		"transfer_code": transferCode,
		"otp":           otp,
	}, &data)
	if err != nil {
		return earning.TransferResult{}, err
	}
	return data.result(), nil
}

func (c *Client) Balance(ctx context.Context, currency string) (core.Money, error) {
	var data []struct {
		Currency string `json:"currency"`
		Balance  int64  `json:"balance"`
	}
	if err := c.do(ctx, rest.Get, "/balance", nil, &data); err != nil {
		return 0, err
	}
	for _, b := range data {
		if strings.EqualFold(b.Currency, currency) {
			return core.Money(b.Balance), nil
		}
	}
	return 0, nil
}
