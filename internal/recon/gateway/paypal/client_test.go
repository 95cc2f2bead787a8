package paypal

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/segmentio/encoding/json"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"payrecon.com/internal/recon/domain"
	"payrecon.com/pkg/ratelimit"
	"payrecon.com/pkg/xerr"
)

type fakePaypal struct {
	tokens   atomic.Int32
	creates  atomic.Int32
	executes atomic.Int32
	lookups  atomic.Int32

	// 为 true 时第一次业务请求返回 401
	expireOnce atomic.Bool
	createCode int
	execBody   string
	execCode   int
	lookupBody string
	lastCreate map[string]any
}

func (f *fakePaypal) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "cid", user)
		assert.Equal(t, "secret", pass)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		n := f.tokens.Add(1)
		_, _ = io.WriteString(w, `{"access_token":"tok-`+string(rune('0'+n))+`","expires_in":3600}`)
	})
	mux.HandleFunc("/v1/payments/payment", func(w http.ResponseWriter, r *http.Request) {
		f.creates.Add(1)
		if f.expireOnce.CompareAndSwap(true, false) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.True(t, strings.HasPrefix(r.Header.Get("Authorization"), "Bearer tok-"))
		raw, _ := io.ReadAll(r.Body)
		f.lastCreate = map[string]any{}
		require.NoError(t, json.Unmarshal(raw, &f.lastCreate))
		if f.createCode != 0 {
			w.WriteHeader(f.createCode)
			_, _ = io.WriteString(w, `{"name":"VALIDATION_ERROR","message":"bad"}`)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id":"PAY-1","state":"created","links":[
			{"href":"https://api/self","rel":"self"},
			{"href":"https://www.sandbox.paypal.com/checkoutnow?token=EC-1","rel":"approval_url"}]}`)
	})
	mux.HandleFunc("/v1/payments/payment/PAY-1/execute", func(w http.ResponseWriter, r *http.Request) {
		f.executes.Add(1)
		raw, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"payer_id":"PAYER"}`, string(raw))
		if f.execCode != 0 {
			w.WriteHeader(f.execCode)
		}
		_, _ = io.WriteString(w, f.execBody)
	})
	mux.HandleFunc("/v1/payments/payment/PAY-1", func(w http.ResponseWriter, r *http.Request) {
		f.lookups.Add(1)
		assert.Equal(t, http.MethodGet, r.Method)
		_, _ = io.WriteString(w, f.lookupBody)
	})
	return mux
}

func newTestClient(t *testing.T, f *fakePaypal, rule ratelimit.Rule) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL + "/", ClientID: "cid", ClientSecret: "secret", Timeout: time.Second},
		ratelimit.NewManager("recon-test", rule, nil))
}

func orderReq() domain.OrderRequest {
	return domain.OrderRequest{
		Amount:      decimal.RequireFromString("12.5"),
		Currency:    "USD",
		ReturnURL:   "https://shop/return",
		CancelURL:   "https://shop/cancel",
		Description: strings.Repeat("x", 200),
		InvoiceID:   "42",
	}
}

func TestCreateOrder(t *testing.T) {
	f := &fakePaypal{}
	c := newTestClient(t, f, ratelimit.Rule{})

	o, err := c.CreateOrder(context.Background(), orderReq())
	require.NoError(t, err)
	assert.Equal(t, "PAY-1", o.ID)
	assert.Equal(t, "https://www.sandbox.paypal.com/checkoutnow?token=EC-1", o.ApprovalURL)

	txs := f.lastCreate["transactions"].([]any)
	tx := txs[0].(map[string]any)
	assert.Equal(t, "12.50", tx["amount"].(map[string]any)["total"])
	assert.Len(t, tx["description"], maxDescription)
	assert.Equal(t, "42", tx["invoice_number"])
	assert.Equal(t, "sale", f.lastCreate["intent"])

	// token 缓存
	_, err = c.CreateOrder(context.Background(), orderReq())
	require.NoError(t, err)
	assert.EqualValues(t, 1, f.tokens.Load())
}

func TestCreateOrderRefreshesExpiredToken(t *testing.T) {
	f := &fakePaypal{}
	f.expireOnce.Store(true)
	c := newTestClient(t, f, ratelimit.Rule{})

	_, err := c.CreateOrder(context.Background(), orderReq())
	require.NoError(t, err)
	assert.EqualValues(t, 2, f.tokens.Load())
	assert.EqualValues(t, 2, f.creates.Load())
}

func TestCreateOrderErrors(t *testing.T) {
	f := &fakePaypal{createCode: http.StatusBadRequest}
	c := newTestClient(t, f, ratelimit.Rule{})
	_, err := c.CreateOrder(context.Background(), orderReq())
	assert.ErrorIs(t, err, xerr.ErrParams)

	f.createCode = http.StatusServiceUnavailable
	_, err = c.CreateOrder(context.Background(), orderReq())
	assert.ErrorIs(t, err, xerr.ErrGatewayUnavailable)
}

func TestCaptureOrder(t *testing.T) {
	f := &fakePaypal{execBody: `{"id":"PAY-1","state":"approved","transactions":[{"amount":{"total":"12.50","currency":"USD"},
		"related_resources":[{"sale":{"id":"SALE-9","state":"completed"}}]}]}`}
	c := newTestClient(t, f, ratelimit.Rule{})

	cp, err := c.CaptureOrder(context.Background(), "PAY-1", "PAYER")
	require.NoError(t, err)
	assert.True(t, cp.Success)
	assert.Equal(t, "SALE-9", cp.CaptureID)
	assert.True(t, cp.Amount.Equal(decimal.RequireFromString("12.5")))
}

func TestCaptureOrderDeclined(t *testing.T) {
	f := &fakePaypal{execCode: http.StatusBadRequest, execBody: `{"name":"INSTRUMENT_DECLINED","message":"declined"}`}
	c := newTestClient(t, f, ratelimit.Rule{})

	cp, err := c.CaptureOrder(context.Background(), "PAY-1", "PAYER")
	require.NoError(t, err)
	assert.False(t, cp.Success)
	assert.Equal(t, "INSTRUMENT_DECLINED", cp.State)

	f.execCode, f.execBody = 0, `{"id":"PAY-1","state":"failed"}`
	cp, err = c.CaptureOrder(context.Background(), "PAY-1", "PAYER")
	require.NoError(t, err)
	assert.False(t, cp.Success)
}

func TestCaptureOrderAlreadyDoneUsesPaymentState(t *testing.T) {
	// 上一次 execute 超时但 PayPal 已扣款，重试返回 PAYMENT_ALREADY_DONE
	f := &fakePaypal{
		execCode: http.StatusBadRequest,
		execBody: `{"name":"PAYMENT_ALREADY_DONE","message":"Payment has been done already for this cart."}`,
		lookupBody: `{"id":"PAY-1","state":"approved","transactions":[{"amount":{"total":"12.50","currency":"USD"},
			"related_resources":[{"sale":{"id":"SALE-9","state":"completed"}}]}]}`,
	}
	c := newTestClient(t, f, ratelimit.Rule{})

	cp, err := c.CaptureOrder(context.Background(), "PAY-1", "PAYER")
	require.NoError(t, err)
	assert.True(t, cp.Success)
	assert.Equal(t, "SALE-9", cp.CaptureID)
	assert.EqualValues(t, 1, f.lookups.Load())
}

func TestCaptureOrderUnclearRejection(t *testing.T) {
	f := &fakePaypal{
		execCode:   http.StatusBadRequest,
		execBody:   `{"name":"VALIDATION_ERROR","message":"invalid payer_id"}`,
		lookupBody: `{"id":"PAY-1","state":"created"}`,
	}
	c := newTestClient(t, f, ratelimit.Rule{})

	// 支付单还没执行：请求错误，不是拒付
	_, err := c.CaptureOrder(context.Background(), "PAY-1", "PAYER")
	assert.ErrorIs(t, err, xerr.ErrParams)

	f.lookupBody = `{"id":"PAY-1","state":"expired"}`
	cp, err := c.CaptureOrder(context.Background(), "PAY-1", "PAYER")
	require.NoError(t, err)
	assert.False(t, cp.Success)
	assert.Equal(t, "expired", cp.State)

	// 明确的拒付不回查
	f.execBody = `{"name":"INSTRUMENT_DECLINED"}`
	_, err = c.CaptureOrder(context.Background(), "PAY-1", "PAYER")
	require.NoError(t, err)
	assert.EqualValues(t, 2, f.lookups.Load())
}

func TestBreakerOpensOnGatewayFailures(t *testing.T) {
	f := &fakePaypal{execCode: http.StatusInternalServerError, execBody: `{"name":"INTERNAL_SERVICE_ERROR"}`}
	c := newTestClient(t, f, ratelimit.Rule{TripConsecutiveFailures: 2, Timeout: time.Minute})

	for i := 0; i < 2; i++ {
		_, err := c.CaptureOrder(context.Background(), "PAY-1", "PAYER")
		assert.ErrorIs(t, err, xerr.ErrGatewayUnavailable)
	}
	_, err := c.CaptureOrder(context.Background(), "PAY-1", "PAYER")
	assert.ErrorIs(t, err, xerr.ErrGatewayUnavailable)
	assert.EqualValues(t, 2, f.executes.Load(), "open breaker must not reach paypal")
}

func TestTransportFailureIsGatewayUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c := New(Config{BaseURL: srv.URL, Timeout: 200 * time.Millisecond}, ratelimit.NewManager("recon-test", ratelimit.Rule{}, nil))

	_, err := c.CreateOrder(context.Background(), orderReq())
	assert.ErrorIs(t, err, xerr.ErrGatewayUnavailable)
}

func TestOutboundThrottleQueuesUntilDeadline(t *testing.T) {
	f := &fakePaypal{}
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	c := New(Config{BaseURL: srv.URL, ClientID: "cid", ClientSecret: "secret", RequestsPerSecond: 0.001, Burst: 1},
		ratelimit.NewManager("recon-test", ratelimit.Rule{}, nil))

	_, err := c.CreateOrder(context.Background(), orderReq())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.CreateOrder(ctx, orderReq())
	assert.ErrorIs(t, err, xerr.ErrGatewayUnavailable)
	assert.EqualValues(t, 1, f.creates.Load(), "throttled call must not reach paypal")
}
