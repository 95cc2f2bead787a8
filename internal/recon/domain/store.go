package domain

import "context"

// Store 对账服务的持久化。Transaction 内 fn 拿到的 txCtx 传给任意 repo 方法都走同一事务
type Store interface {
	Transaction(ctx context.Context, fn func(txCtx context.Context) error) error

	DepositRepo
	LedgerRepo
	AccountRepo
	GatewayRepo
	CreditRepo
}

// Models 需要建表的模型
func Models() []any {
	return []any{
		&Deposit{},
		&LedgerEntry{},
		&PaymentAccount{},
		&GatewayTransaction{},
		&Credit{},
		&PrincipalBalance{},
	}
}
