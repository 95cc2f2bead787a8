package domain

import "strings"

// Method 支付方式
type Method string

const (
	MethodUPI     Method = "UPI"
	MethodBank    Method = "BANK"
	MethodCrypto  Method = "CRYPTO"
	MethodCard    Method = "CARD"
	MethodGateway Method = "GATEWAY" // 由第三方网关回调结算，不走流水匹配
)

func (m Method) Valid() bool {
	switch m {
	case MethodUPI, MethodBank, MethodCrypto, MethodCard, MethodGateway:
		return true
	}
	return false
}

// LedgerMatched 是否走流水匹配
func (m Method) LedgerMatched() bool { return m.Valid() && m != MethodGateway }

// ParseMethod 大小写不敏感
func ParseMethod(s string) (Method, bool) {
	m := Method(strings.ToUpper(strings.TrimSpace(s)))
	return m, m.Valid()
}

// DepositStatus 充值单状态。PENDING 之外都是终态（FLAGGED 只允许人工处理）
type DepositStatus string

const (
	DepositPending DepositStatus = "PENDING"
	DepositSuccess DepositStatus = "SUCCESS"
	DepositFailed  DepositStatus = "FAILED"
	DepositFlagged DepositStatus = "FLAGGED"
)

func (s DepositStatus) Valid() bool {
	switch s {
	case DepositPending, DepositSuccess, DepositFailed, DepositFlagged:
		return true
	}
	return false
}

func (s DepositStatus) Terminal() bool { return s.Valid() && s != DepositPending }

// FlagReason 进入 FLAGGED 的原因
type FlagReason string

const (
	FlagAmbiguous      FlagReason = "AMBIGUOUS"
	FlagAmountMismatch FlagReason = "AMOUNT_MISMATCH"
	FlagStale          FlagReason = "STALE" // 有凭证但长时间没有对应流水
)

// VerdictKind 匹配结论
type VerdictKind string

const (
	VerdictMatched        VerdictKind = "MATCHED"
	VerdictAmbiguous      VerdictKind = "AMBIGUOUS"
	VerdictAmountMismatch VerdictKind = "AMOUNT_MISMATCH"
)

// Verdict 匹配器/网关推给状态机的结论；MATCHED 必须带流水 ID
type Verdict struct {
	Kind          VerdictKind
	LedgerEntryID uint64
}

func Matched(entryID uint64) Verdict { return Verdict{Kind: VerdictMatched, LedgerEntryID: entryID} }
func Ambiguous() Verdict             { return Verdict{Kind: VerdictAmbiguous} }
func AmountMismatch() Verdict        { return Verdict{Kind: VerdictAmountMismatch} }

// Decision 人工审核结论
type Decision string

const (
	DecisionApprove Decision = "APPROVE"
	DecisionReject  Decision = "REJECT"
)

func (d Decision) Valid() bool { return d == DecisionApprove || d == DecisionReject }
