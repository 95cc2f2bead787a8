package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"payrecon.com/internal/recon/domain"
	"payrecon.com/internal/recon/service"
	"payrecon.com/pkg/common"
	"payrecon.com/pkg/xerr"
)

type Handler struct {
	svc *service.Recon
}

type pageResp[T any] struct {
	List  []T   `json:"list"`
	Total int64 `json:"total"`
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
}

type pageQuery struct {
	Page  int `form:"page"`
	Limit int `form:"limit"`
}

func (q pageQuery) normalize() (int, int) {
	page, limit := q.Page, q.Limit
	if page <= 0 {
		page = 1
	}
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	return page, limit
}

func pathID(c *gin.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		common.Fail(c, http.StatusBadRequest, xerr.RequestParamsError, "invalid "+name)
		return 0, false
	}
	return id, true
}

func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		common.FailLogged(c, http.StatusBadRequest, xerr.RequestParamsError, "invalid request body", err)
		return false
	}
	return true
}

func respond[T any](c *gin.Context, v T, err error) {
	if err != nil {
		common.FailFromErr(c, err)
		return
	}
	common.Success(c, v)
}

// ---- deposits ----

type createDepositReq struct {
	PrincipalID string          `json:"principal_id" binding:"required"`
	Method      string          `json:"method" binding:"required"`
	Amount      decimal.Decimal `json:"amount"`
}

func (h *Handler) CreateDeposit(c *gin.Context) {
	var req createDepositReq
	if !bind(c, &req) {
		return
	}
	m, _ := domain.ParseMethod(req.Method)
	d, err := h.svc.Lifecycle.Create(c.Request.Context(), req.PrincipalID, m, req.Amount)
	respond(c, d, err)
}

type listDepositsQuery struct {
	pageQuery
	PrincipalID string `form:"principal_id"`
	Status      string `form:"status"`
	Method      string `form:"method"`
}

func (h *Handler) ListDeposits(c *gin.Context) {
	var q listDepositsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		common.FailLogged(c, http.StatusBadRequest, xerr.RequestParamsError, "invalid query", err)
		return
	}
	page, limit := q.normalize()
	f := domain.DepositFilter{PrincipalID: q.PrincipalID, Page: page, Limit: limit}
	if q.Status != "" {
		f.Status = domain.DepositStatus(q.Status)
		if !f.Status.Valid() {
			common.Fail(c, http.StatusBadRequest, xerr.RequestParamsError, "invalid status")
			return
		}
	}
	if q.Method != "" {
		m, ok := domain.ParseMethod(q.Method)
		if !ok {
			common.Fail(c, http.StatusBadRequest, xerr.RequestParamsError, "invalid method")
			return
		}
		f.Method = m
	}
	list, total, err := h.svc.Lifecycle.List(c.Request.Context(), f)
	respond(c, pageResp[*domain.Deposit]{List: list, Total: total, Page: page, Limit: limit}, err)
}

func (h *Handler) GetDeposit(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	d, err := h.svc.Lifecycle.Get(c.Request.Context(), id)
	respond(c, d, err)
}

type proofReq struct {
	Reference string `json:"reference"`
}

func (h *Handler) SubmitProof(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req proofReq
	if !bind(c, &req) {
		return
	}
	d, err := h.svc.Lifecycle.SubmitProof(c.Request.Context(), id, req.Reference)
	respond(c, d, err)
}

type operatorReq struct {
	OperatorID string `json:"operator_id"`
}

func (h *Handler) ApproveDeposit(c *gin.Context) { h.resolve(c, domain.DecisionApprove) }
func (h *Handler) RejectDeposit(c *gin.Context)  { h.resolve(c, domain.DecisionReject) }

func (h *Handler) resolve(c *gin.Context, decision domain.Decision) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req operatorReq
	if !bind(c, &req) {
		return
	}
	d, err := h.svc.Lifecycle.ManualResolve(c.Request.Context(), id, decision, req.OperatorID)
	respond(c, d, err)
}

// ---- ledger ----

type listLedgerQuery struct {
	pageQuery
	Matched *bool  `form:"matched"`
	Held    *bool  `form:"held"`
	Method  string `form:"method"`
}

func (h *Handler) ListLedger(c *gin.Context) {
	var q listLedgerQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		common.FailLogged(c, http.StatusBadRequest, xerr.RequestParamsError, "invalid query", err)
		return
	}
	page, limit := q.normalize()
	f := domain.LedgerFilter{Matched: q.Matched, Held: q.Held, Page: page, Limit: limit}
	if q.Method != "" {
		m, ok := domain.ParseMethod(q.Method)
		if !ok {
			common.Fail(c, http.StatusBadRequest, xerr.RequestParamsError, "invalid method")
			return
		}
		f.Method = m
	}
	list, total, err := h.svc.Ingest.List(c.Request.Context(), f)
	respond(c, pageResp[*domain.LedgerEntry]{List: list, Total: total, Page: page, Limit: limit}, err)
}

func (h *Handler) PushLedger(c *gin.Context) {
	var rec domain.LedgerRecord
	if !bind(c, &rec) {
		return
	}
	e, err := h.svc.Ingest.Record(c.Request.Context(), rec)
	if err != nil {
		common.FailFromErr(c, err)
		return
	}
	if e == nil {
		common.Fail(c, http.StatusBadRequest, xerr.RequestParamsError, "malformed ledger record dropped")
		return
	}
	common.Success(c, e)
}

// ReleaseLedger 人工处理完后解冻流水
func (h *Handler) ReleaseLedger(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	e, err := h.svc.Matcher.ReleaseEntry(c.Request.Context(), id)
	respond(c, e, err)
}

// ---- accounts ----

type proposeAccountReq struct {
	AccountType    string          `json:"account_type" binding:"required"`
	IdentifierName string          `json:"identifier_name" binding:"required"`
	Details        json.RawMessage `json:"details" binding:"required"`
}

func (h *Handler) ProposeAccount(c *gin.Context) {
	var req proposeAccountReq
	if !bind(c, &req) {
		return
	}
	t, _ := domain.ParseAccountType(req.AccountType)
	a, err := h.svc.Registry.Propose(c.Request.Context(), t, req.IdentifierName, req.Details)
	respond(c, a, err)
}

type listAccountsQuery struct {
	Type   string `form:"type"`
	Status string `form:"status"`
}

func (h *Handler) ListAccounts(c *gin.Context) {
	var q listAccountsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		common.FailLogged(c, http.StatusBadRequest, xerr.RequestParamsError, "invalid query", err)
		return
	}
	var f domain.AccountFilter
	if q.Type != "" {
		t, ok := domain.ParseAccountType(q.Type)
		if !ok {
			common.Fail(c, http.StatusBadRequest, xerr.RequestParamsError, "invalid type")
			return
		}
		f.Type = t
	}
	if q.Status != "" {
		f.Status = domain.AccountStatus(q.Status)
	}
	list, err := h.svc.Registry.List(c.Request.Context(), f)
	respond(c, list, err)
}

func (h *Handler) ApproveAccount(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req operatorReq
	if !bind(c, &req) {
		return
	}
	a, err := h.svc.Registry.Approve(c.Request.Context(), id, req.OperatorID)
	respond(c, a, err)
}

func (h *Handler) RejectAccount(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req operatorReq
	if !bind(c, &req) {
		return
	}
	a, err := h.svc.Registry.Reject(c.Request.Context(), id, req.OperatorID)
	respond(c, a, err)
}

func (h *Handler) ActivateAccount(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	a, err := h.svc.Registry.Activate(c.Request.Context(), id)
	respond(c, a, err)
}

func (h *Handler) DeactivateAccount(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	a, err := h.svc.Registry.Deactivate(c.Request.Context(), id)
	respond(c, a, err)
}

func (h *Handler) DeleteAccount(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	err := h.svc.Registry.Delete(c.Request.Context(), id)
	respond(c, gin.H{"id": id}, err)
}

func (h *Handler) PaymentInstructions(c *gin.Context) {
	m, err := h.svc.Registry.PaymentInstructions(c.Request.Context())
	respond(c, m, err)
}

// ---- gateway ----

var errGatewayDisabled = xerr.New(xerr.GatewayUnavailable, "payment gateway not configured")

type initiateReq struct {
	ReturnURL string `json:"return_url" binding:"required"`
	CancelURL string `json:"cancel_url" binding:"required"`
}

func (h *Handler) InitiateGateway(c *gin.Context) {
	if h.svc.Gateway == nil {
		common.FailFromErr(c, errGatewayDisabled)
		return
	}
	id, ok := pathID(c, "deposit_id")
	if !ok {
		return
	}
	var req initiateReq
	if !bind(c, &req) {
		return
	}
	tx, err := h.svc.Gateway.Initiate(c.Request.Context(), id, req.ReturnURL, req.CancelURL)
	respond(c, tx, err)
}

type executeReq struct {
	PaymentID string `json:"payment_id" binding:"required"`
	PayerID   string `json:"payer_id" binding:"required"`
}

func (h *Handler) ExecuteGateway(c *gin.Context) {
	if h.svc.Gateway == nil {
		common.FailFromErr(c, errGatewayDisabled)
		return
	}
	id, ok := pathID(c, "deposit_id")
	if !ok {
		return
	}
	var req executeReq
	if !bind(c, &req) {
		return
	}
	d, err := h.svc.Gateway.Execute(c.Request.Context(), id, req.PaymentID, req.PayerID)
	respond(c, d, err)
}

func (h *Handler) CancelGateway(c *gin.Context) {
	if h.svc.Gateway == nil {
		common.FailFromErr(c, errGatewayDisabled)
		return
	}
	id, ok := pathID(c, "deposit_id")
	if !ok {
		return
	}
	d, err := h.svc.Gateway.Cancel(c.Request.Context(), id)
	respond(c, d, err)
}

func (h *Handler) GatewayStatus(c *gin.Context) {
	if h.svc.Gateway == nil {
		common.FailFromErr(c, errGatewayDisabled)
		return
	}
	id, ok := pathID(c, "deposit_id")
	if !ok {
		return
	}
	tx, err := h.svc.Gateway.Status(c.Request.Context(), id)
	respond(c, tx, err)
}

// ---- admin ----

func (h *Handler) Sweep(c *gin.Context) {
	rep, err := h.svc.Sweeper.RunOnce(c.Request.Context())
	respond(c, rep, err)
}
