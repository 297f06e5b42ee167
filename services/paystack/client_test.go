package paystack

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steamspark/spark/core"
	"github.com/steamspark/spark/core/earning"
	"github.com/steamspark/spark/core/payment"
)

const testSecret = "sk_test_secret"

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	conf := &core.Config{Paystack: core.PaystackConfig{SecretKey: testSecret, BaseURL: srv.URL}}
	return NewClient(conf, srv.Client())
}

func TestClient_InitializeTransaction(t *testing.T) {
	var gotBody map[string]interface{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/transaction/initialize", r.URL.Path)
		assert.Equal(t, "Bearer "+testSecret, r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &gotBody))
		_, _ = io.WriteString(w, `{"status":true,"message":"Authorization URL created","data":{
			"authorization_url":"https://checkout.paystack.com/abc","access_code":"abc","reference":"SPK-1"}}`)
	})

	auth, err := c.InitializeTransaction(context.Background(), payment.InitializeRequest{
		Email:     "parent@test.gh",
		Amount:    core.Cedis(480),
		Reference: "SPK-1",
		Metadata:  payment.Metadata{BookingID: "b1"},
		Channels:  payment.Channels,
	})
	require.NoError(t, err)
	assert.Equal(t, payment.Authorization{
		AuthorizationURL: "https://checkout.paystack.com/abc", AccessCode: "abc", Reference: "SPK-1",
	}, auth)
	assert.Equal(t, float64(48000), gotBody["amount"])
	assert.Equal(t, "GHS", gotBody["currency"])
	assert.Equal(t, "b1", gotBody["metadata"].(map[string]interface{})["booking_id"])
}

func TestClient_InitializeTransaction_rejected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"status":false,"message":"Invalid email"}`)
	})

	_, err := c.InitializeTransaction(context.Background(), payment.InitializeRequest{Amount: 100})
	var gwErr *core.GatewayError
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, "Invalid email", gwErr.Message)
	assert.Equal(t, http.StatusBadRequest, gwErr.StatusCode)
}

func TestClient_VerifyTransaction(t *testing.T) {
	tests := []struct {
		name string
		body string
		want payment.Verification
	}{
		{
			name: "metadata object",
			body: `{"status":true,"message":"Verification successful","data":{"status":"success","reference":"SPK-1",
				"amount":48000,"currency":"GHS","channel":"mobile_money","paid_at":"2026-03-01T10:00:00.000Z",
				"metadata":{"booking_id":"b1"}}}`,
			want: payment.Verification{Status: true, Message: "Verification successful", Charge: payment.Charge{
				Status: "success", Reference: "SPK-1", Amount: 48000, Currency: "GHS", Channel: "mobile_money",
				PaidAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), Metadata: payment.Metadata{BookingID: "b1"},
			}},
		},
		{
			name: "metadata string",
			body: `{"status":true,"message":"ok","data":{"status":"abandoned","reference":"SPK-2","amount":100,
				"currency":"GHS","paid_at":null,"metadata":"{\"booking_id\":\"b2\"}"}}`,
			want: payment.Verification{Status: true, Message: "ok", Charge: payment.Charge{
				Status: "abandoned", Reference: "SPK-2", Amount: 100, Currency: "GHS",
				Metadata: payment.Metadata{BookingID: "b2"},
			}},
		},
		{
			name: "empty metadata",
			body: `{"status":true,"message":"ok","data":{"status":"failed","reference":"SPK-3","amount":100,"metadata":""}}`,
			want: payment.Verification{Status: true, Message: "ok", Charge: payment.Charge{
				Status: "failed", Reference: "SPK-3", Amount: 100,
			}},
		},
		{
			name: "unknown reference",
			body: `{"status":false,"message":"Transaction reference not found"}`,
			want: payment.Verification{Status: false, Message: "Transaction reference not found"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodGet, r.Method)
				_, _ = io.WriteString(w, tt.body)
			})
			got, err := c.VerifyTransaction(context.Background(), "SPK-1")
			require.NoError(t, err)
			if !got.Charge.PaidAt.IsZero() {
				got.Charge.PaidAt = got.Charge.PaidAt.UTC()
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClient_VerifyTransaction_escapesReference(t *testing.T) {
	var gotPath, gotQuery string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotQuery = r.URL.EscapedPath(), r.URL.RawQuery
		_, _ = io.WriteString(w, `{"status":false,"message":"Transaction reference not found"}`)
	})

	_, err := c.VerifyTransaction(context.Background(), "SPK-1?perPage=100")
	require.NoError(t, err)
	assert.Equal(t, "/transaction/verify/SPK-1%3FperPage=100", gotPath)
	assert.Empty(t, gotQuery)
}

func TestClient_call_cancelled(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"status":true}`)
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Balance(ctx, core.Currency)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestClient_ValidSignature(t *testing.T) {
	c := NewClient(&core.Config{Paystack: core.PaystackConfig{SecretKey: testSecret}}, nil)
	body := []byte(`{"event":"charge.success","data":{"reference":"SPK-1"}}`)

	mac := hmac.New(sha512.New, []byte(testSecret))
	_, _ = mac.Write(body)
	sig := hex.EncodeToString(mac.Sum(nil))

	assert.True(t, c.ValidSignature(body, sig))
	assert.False(t, c.ValidSignature(body, "lol"))
	assert.False(t, c.ValidSignature([]byte(`{"event":"charge.success"}`), sig))
}

func TestClient_ParseEvent(t *testing.T) {
	c := NewClient(&core.Config{}, nil)

	ev, err := c.ParseEvent([]byte(`{"event":"charge.success","data":{"status":"success","reference":"SPK-1",
		"amount":2500,"currency":"GHS","metadata":{"booking_id":"b1"}}}`))
	require.NoError(t, err)
	assert.Equal(t, payment.EventChargeSuccess, ev.Name)
	assert.Equal(t, "SPK-1", ev.Charge.Reference)
	assert.Equal(t, core.Money(2500), ev.Charge.Amount)
	assert.Equal(t, "b1", ev.Charge.Metadata.BookingID)

	ev, err = c.ParseEvent([]byte(`{"event":"transfer.failed","data":{"reference":"PAYOUT-1","transfer_code":"TRF_1","reason":"Account closed"}}`))
	require.NoError(t, err)
	assert.Equal(t, earning.TransferEvent{
		Event: earning.EventTransferFailed, Reference: "PAYOUT-1", TransferCode: "TRF_1", Reason: "Account closed",
	}, ev.Transfer)

	_, err = c.ParseEvent([]byte(`lol`))
	assert.Error(t, err)
}

func TestClient_Transfers(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/transferrecipient":
			_, _ = io.WriteString(w, `{"status":true,"message":"ok","data":{"recipient_code":"RCP_1"}}`)
		case "/transfer":
			_, _ = io.WriteString(w, `{"status":true,"message":"ok","data":{"reference":"PAYOUT-1","transfer_code":"TRF_1","status":"otp"}}`)
		case "/transfer/bulk":
			_, _ = io.WriteString(w, `{"status":true,"message":"ok","data":[{"reference":"PAYOUT-1","transfer_code":"TRF_1","status":"pending"}]}`)
		case "/transfer/finalize_transfer":
			_, _ = io.WriteString(w, `{"status":true,"message":"ok","data":{"reference":"PAYOUT-1","transfer_code":"TRF_1","status":"success"}}`)
		case "/balance":
			_, _ = io.WriteString(w, `{"status":true,"message":"ok","data":[{"currency":"NGN","balance":1},{"currency":"GHS","balance":150000}]}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	ctx := context.Background()

	code, err := c.CreateTransferRecipient(ctx, earning.Recipient{Type: earning.RecipientMobileMoney, Name: "T", AccountNumber: "0241234567", BankCode: "MTN"})
	require.NoError(t, err)
	assert.Equal(t, "RCP_1", code)

	res, err := c.InitiateTransfer(ctx, earning.Transfer{Amount: 100, Recipient: code, Reference: "PAYOUT-1"})
	require.NoError(t, err)
	assert.Equal(t, earning.TransferResult{Reference: "PAYOUT-1", TransferCode: "TRF_1", Status: earning.PayoutOTP}, res)

	results, err := c.InitiateBulkTransfer(ctx, []earning.Transfer{{Amount: 100, Recipient: code, Reference: "PAYOUT-1"}})
	require.NoError(t, err)
	assert.Len(t, results, 1)
	assert.Equal(t, earning.PayoutPending, results[0].Status)

	res, err = c.FinalizeTransfer(ctx, "TRF_1", "123456")
	require.NoError(t, err)
	assert.Equal(t, earning.PayoutSuccess, res.Status)

	balance, err := c.Balance(ctx, core.Currency)
	require.NoError(t, err)
	assert.Equal(t, core.Cedis(1500), balance)
}
