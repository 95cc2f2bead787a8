package service

import (
	"strconv"

	"payrecon.com/internal/recon/domain"
)

// 加锁顺序固定为 ledger -> deposit，account-type 单独使用
func depositLockKey(id uint64) string { return "deposit:" + strconv.FormatUint(id, 10) }

func ledgerLockKey(id uint64) string { return "ledger:" + strconv.FormatUint(id, 10) }

func accountTypeLockKey(t domain.AccountType) string { return "account-type:" + string(t) }
