// Package paypal PayPal REST v1 payments 的 domain.PaymentGateway 实现
package paypal

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/encoding/json"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"payrecon.com/internal/recon/domain"
	"payrecon.com/pkg/logger"
	"payrecon.com/pkg/ratelimit"
	"payrecon.com/pkg/xerr"
)

const (
	SandboxURL = "https://api-m.sandbox.paypal.com"
	LiveURL    = "https://api-m.paypal.com"

	opToken   = "paypal.token"
	opCreate  = "paypal.create_payment"
	opExecute = "paypal.execute_payment"
	opLookup  = "paypal.get_payment"

	maxDescription = 127
)

type Config struct {
	BaseURL      string        `yaml:"base_url" mapstructure:"base_url"`
	ClientID     string        `yaml:"client_id" mapstructure:"client_id"`
	ClientSecret string        `yaml:"client_secret" mapstructure:"client_secret"`
	Timeout      time.Duration `yaml:"timeout" mapstructure:"timeout"`
	// 出站限速，<=0 不限；超出的请求排队直到 ctx 到期
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`
}

type Client struct {
	cfg      Config
	hc       *http.Client
	breakers *ratelimit.Manager
	throttle *ratelimit.Buckets

	mu       sync.Mutex
	token    string
	tokenExp time.Time
}

var _ domain.PaymentGateway = (*Client)(nil)

func New(cfg Config, breakers *ratelimit.Manager) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = SandboxURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	c := &Client{
		cfg:      cfg,
		hc:       &http.Client{Timeout: cfg.Timeout},
		breakers: breakers,
	}
	if cfg.RequestsPerSecond > 0 {
		c.throttle = ratelimit.NewBuckets(rate.Limit(cfg.RequestsPerSecond), cfg.Burst, 0)
	}
	return c
}

type link struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type amount struct {
	Total    string `json:"total"`
	Currency string `json:"currency"`
}

type transaction struct {
	Amount           amount `json:"amount"`
	Description      string `json:"description,omitempty"`
	InvoiceNumber    string `json:"invoice_number,omitempty"`
	RelatedResources []struct {
		Sale *struct {
			ID    string `json:"id"`
			State string `json:"state"`
		} `json:"sale,omitempty"`
	} `json:"related_resources,omitempty"`
}

type payment struct {
	ID           string        `json:"id"`
	State        string        `json:"state"`
	Transactions []transaction `json:"transactions"`
	Links        []link        `json:"links"`
}

// declineNames execute 返回这些错误名才算付款被拒；
// 其余 4xx（比如超时重试碰到的 PAYMENT_ALREADY_DONE）要回查支付单
var declineNames = map[string]bool{
	"INSTRUMENT_DECLINED":                true,
	"CREDIT_CARD_REFUSED":                true,
	"TRANSACTION_REFUSED":                true,
	"PAYER_CANNOT_PAY":                   true,
	"PAYMENT_DENIED":                     true,
	"PAYMENT_NOT_APPROVED_FOR_EXECUTION": true,
	"PAYMENT_EXPIRED":                    true,
	"INSUFFICIENT_FUNDS":                 true,
	"PAYER_ACCOUNT_RESTRICTED":           true,
	"PAYER_ACCOUNT_LOCKED_OR_CLOSED":     true,
}

type apiError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

func (c *Client) CreateOrder(ctx context.Context, req domain.OrderRequest) (*domain.Order, error) {
	return ratelimit.Execute(c.breakers, opCreate, func() (*domain.Order, error) {
		return c.createPayment(ctx, req)
	})
}

func (c *Client) CaptureOrder(ctx context.Context, orderID, payerID string) (*domain.Capture, error) {
	return ratelimit.Execute(c.breakers, opExecute, func() (*domain.Capture, error) {
		return c.executePayment(ctx, orderID, payerID)
	})
}

func (c *Client) createPayment(ctx context.Context, req domain.OrderRequest) (*domain.Order, error) {
	desc := req.Description
	if len(desc) > maxDescription {
		desc = desc[:maxDescription]
	}
	body := map[string]any{
		"intent": "sale",
		"payer":  map[string]string{"payment_method": "paypal"},
		"transactions": []transaction{{
			Amount:        amount{Total: req.Amount.StringFixed(2), Currency: req.Currency},
			Description:   desc,
			InvoiceNumber: req.InvoiceID,
		}},
		"redirect_urls": map[string]string{
			"return_url": req.ReturnURL,
			"cancel_url": req.CancelURL,
		},
	}
	var p payment
	status, apiErr, err := c.call(ctx, http.MethodPost, "/v1/payments/payment", body, &p)
	if err != nil {
		return nil, err
	}
	if status != http.StatusCreated && status != http.StatusOK {
		return nil, c.statusErr(ctx, opCreate, status, apiErr)
	}
	for _, l := range p.Links {
		if l.Rel == "approval_url" {
			logger.Info(ctx, "paypal payment created", zap.String("payment_id", p.ID), zap.String("state", p.State))
			return &domain.Order{ID: p.ID, ApprovalURL: l.Href}, nil
		}
	}
	return nil, xerr.Newf(xerr.GatewayUnavailable, "paypal payment %s has no approval_url", p.ID)
}

func (c *Client) executePayment(ctx context.Context, paymentID, payerID string) (*domain.Capture, error) {
	path := "/v1/payments/payment/" + url.PathEscape(paymentID) + "/execute"
	var p payment
	status, apiErr, err := c.call(ctx, http.MethodPost, path, map[string]string{"payer_id": payerID}, &p)
	if err != nil {
		return nil, err
	}
	switch {
	case status == http.StatusOK:
		cp := captureFrom(ctx, paymentID, &p)
		logger.Info(ctx, "paypal payment executed", zap.String("payment_id", paymentID), zap.String("state", p.State), zap.String("sale_id", cp.CaptureID))
		return cp, nil
	case (status == http.StatusBadRequest || status == http.StatusUnprocessableEntity) && declineNames[apiErr.Name]:
		// 付款人没批准 / 卡被拒：这是支付结果，不是网关故障
		logger.Warn(ctx, "paypal execute declined", zap.String("payment_id", paymentID), zap.String("name", apiErr.Name), zap.String("message", apiErr.Message))
		return &domain.Capture{Success: false, State: apiErr.Name}, nil
	case status >= 400 && status < 500 && status != http.StatusTooManyRequests:
		logger.Warn(ctx, "paypal execute rejected, checking payment state", zap.String("payment_id", paymentID), zap.Int("status", status), zap.String("name", apiErr.Name))
		return c.lookupPayment(ctx, paymentID, apiErr)
	default:
		return nil, c.statusErr(ctx, opExecute, status, apiErr)
	}
}

// lookupPayment execute 结果不明确时以支付单实际状态为准
func (c *Client) lookupPayment(ctx context.Context, paymentID string, cause apiError) (*domain.Capture, error) {
	var p payment
	status, apiErr, err := c.call(ctx, http.MethodGet, "/v1/payments/payment/"+url.PathEscape(paymentID), nil, &p)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, c.statusErr(ctx, opLookup, status, apiErr)
	}
	switch p.State {
	case "approved":
		cp := captureFrom(ctx, paymentID, &p)
		logger.Info(ctx, "paypal payment already executed", zap.String("payment_id", paymentID), zap.String("sale_id", cp.CaptureID), zap.String("execute_error", cause.Name))
		return cp, nil
	case "failed", "canceled", "expired":
		return &domain.Capture{Success: false, State: p.State}, nil
	default:
		// 还没执行，本次请求本身有问题，状态不动
		return nil, xerr.Newf(xerr.RequestParamsError, "%s: payment %s is %s: %s", opExecute, paymentID, p.State, cause.Name)
	}
}

func captureFrom(ctx context.Context, paymentID string, p *payment) *domain.Capture {
	cp := &domain.Capture{State: p.State, Success: p.State == "approved"}
	if len(p.Transactions) == 0 {
		return cp
	}
	t := p.Transactions[0]
	if d, err := decimal.NewFromString(t.Amount.Total); err == nil {
		cp.Amount = d
	}
	for _, r := range t.RelatedResources {
		if r.Sale == nil {
			continue
		}
		cp.CaptureID = r.Sale.ID
		if r.Sale.State != "completed" {
			logger.Warn(ctx, "paypal sale not completed", zap.String("payment_id", paymentID), zap.String("sale_state", r.Sale.State))
		}
	}
	return cp
}

// call 发 JSON 请求，in 为 nil 时不带 body；token 过期(401)时刷新后重试一次
func (c *Client) call(ctx context.Context, method, path string, in, out any) (int, apiError, error) {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return 0, apiError{}, err
		}
	}
	for attempt := 0; ; attempt++ {
		token, err := c.accessToken(ctx)
		if err != nil {
			return 0, apiError{}, err
		}
		if c.throttle != nil {
			if err := c.throttle.Wait(ctx, "api"); err != nil {
				return 0, apiError{}, xerr.Wrap(err, xerr.GatewayUnavailable, "paypal throttled")
			}
		}
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
		if err != nil {
			return 0, apiError{}, err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Authorization", "Bearer "+token)

		status, raw, err := c.do(req)
		if err != nil {
			return 0, apiError{}, err
		}
		if status == http.StatusUnauthorized && attempt == 0 {
			c.resetToken()
			continue
		}
		if status >= 200 && status < 300 {
			if err := json.Unmarshal(raw, out); err != nil {
				return status, apiError{}, xerr.Wrap(err, xerr.GatewayUnavailable, "decode paypal response")
			}
			return status, apiError{}, nil
		}
		var ae apiError
		_ = json.Unmarshal(raw, &ae)
		return status, ae, nil
	}
}

func (c *Client) do(req *http.Request) (int, []byte, error) {
	resp, err := c.hc.Do(req)
	if err != nil {
		return 0, nil, xerr.Wrap(err, xerr.GatewayUnavailable, "paypal request failed")
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, xerr.Wrap(err, xerr.GatewayUnavailable, "read paypal response")
	}
	return resp.StatusCode, raw, nil
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.token != "" && time.Now().Before(c.tokenExp) {
		t := c.token
		c.mu.Unlock()
		return t, nil
	}
	c.mu.Unlock()

	type tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	tr, err := ratelimit.Execute(c.breakers, opToken, func() (*tokenResp, error) {
		form := url.Values{"grant_type": {"client_credentials"}}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		status, raw, err := c.do(req)
		if err != nil {
			return nil, err
		}
		if status != http.StatusOK {
			return nil, xerr.Newf(xerr.GatewayUnavailable, "paypal token: http %d", status)
		}
		var out tokenResp
		if err := json.Unmarshal(raw, &out); err != nil || out.AccessToken == "" {
			return nil, xerr.New(xerr.GatewayUnavailable, "paypal token: bad response")
		}
		return &out, nil
	})
	if err != nil {
		logger.Error(ctx, "paypal token failed", zap.Error(err))
		return "", err
	}

	// 提前一分钟过期
	ttl := time.Duration(tr.ExpiresIn)*time.Second - time.Minute
	if ttl <= 0 {
		ttl = time.Minute
	}
	c.mu.Lock()
	c.token, c.tokenExp = tr.AccessToken, time.Now().Add(ttl)
	c.mu.Unlock()
	return tr.AccessToken, nil
}

func (c *Client) resetToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

// statusErr 4xx 是请求本身的问题，其余当作网关不可用
func (c *Client) statusErr(ctx context.Context, op string, status int, ae apiError) error {
	logger.Error(ctx, "paypal api error", zap.String("op", op), zap.Int("status", status), zap.String("name", ae.Name), zap.String("message", ae.Message))
	msg := fmt.Sprintf("%s: http %d %s", op, status, ae.Name)
	if status >= 400 && status < 500 && status != http.StatusTooManyRequests {
		return xerr.New(xerr.RequestParamsError, msg)
	}
	return xerr.New(xerr.GatewayUnavailable, msg)
}
