package domain

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"payrecon.com/pkg/xerr"
)

// AccountDetails 按账户类型区分的收款信息
type AccountDetails interface {
	AccountType() AccountType
}

type UPIDetails struct {
	UPIID      string `json:"upi_id"`
	PayeeName  string `json:"payee_name"`
	QRLocation string `json:"qr_location,omitempty"`
}

type BankDetails struct {
	AccountHolder string `json:"account_holder,omitempty"`
	AccountNumber string `json:"account_number"`
	IFSC          string `json:"ifsc"`
	BankName      string `json:"bank_name"`
	Branch        string `json:"branch,omitempty"`
}

type CryptoDetails struct {
	BTC       string `json:"btc,omitempty"`
	ETH       string `json:"eth,omitempty"`
	USDTTRC20 string `json:"usdt_trc20,omitempty"`
	USDTERC20 string `json:"usdt_erc20,omitempty"`
	USDTBEP20 string `json:"usdt_bep20,omitempty"`
}

func (UPIDetails) AccountType() AccountType    { return AccountUPI }
func (BankDetails) AccountType() AccountType   { return AccountBank }
func (CryptoDetails) AccountType() AccountType { return AccountCrypto }

var detailSchemas = map[AccountType]string{
	AccountUPI: `{
		"type": "object",
		"required": ["upi_id", "payee_name"],
		"additionalProperties": false,
		"properties": {
			"upi_id":      {"type": "string", "pattern": "^[A-Za-z0-9._-]{2,}@[A-Za-z]{2,}$"},
			"payee_name":  {"type": "string", "minLength": 1, "maxLength": 128},
			"qr_location": {"type": "string"}
		}
	}`,
	AccountBank: `{
		"type": "object",
		"required": ["account_number", "ifsc", "bank_name"],
		"additionalProperties": false,
		"properties": {
			"account_holder": {"type": "string", "maxLength": 128},
			"account_number": {"type": "string", "pattern": "^[0-9]{6,20}$"},
			"ifsc":           {"type": "string", "pattern": "^[A-Z]{4}0[A-Z0-9]{6}$"},
			"bank_name":      {"type": "string", "minLength": 1},
			"branch":         {"type": "string"}
		}
	}`,
	AccountCrypto: `{
		"type": "object",
		"minProperties": 1,
		"additionalProperties": false,
		"properties": {
			"btc":        {"type": "string", "minLength": 26},
			"eth":        {"type": "string", "pattern": "^0x[0-9a-fA-F]{40}$"},
			"usdt_trc20": {"type": "string", "pattern": "^T[1-9A-HJ-NP-Za-km-z]{33}$"},
			"usdt_erc20": {"type": "string", "pattern": "^0x[0-9a-fA-F]{40}$"},
			"usdt_bep20": {"type": "string", "pattern": "^0x[0-9a-fA-F]{40}$"}
		}
	}`,
}

var compiledSchemas = func() map[AccountType]*gojsonschema.Schema {
	out := make(map[AccountType]*gojsonschema.Schema, len(detailSchemas))
	for t, s := range detailSchemas {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(s))
		if err != nil {
			panic(fmt.Sprintf("account details schema %s: %v", t, err))
		}
		out[t] = schema
	}
	return out
}()

// ParseDetails 先按类型 schema 校验，再解码成对应的结构体
func ParseDetails(t AccountType, raw []byte) (AccountDetails, error) {
	schema, ok := compiledSchemas[t]
	if !ok {
		return nil, xerr.Newf(xerr.RequestParamsError, "unknown account type %q", t)
	}
	if len(raw) == 0 {
		return nil, xerr.New(xerr.RequestParamsError, "details required")
	}
	res, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, xerr.Wrap(err, xerr.RequestParamsError, "details is not valid json")
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, xerr.New(xerr.RequestParamsError, "invalid details: "+strings.Join(msgs, "; "))
	}

	var d AccountDetails
	switch t {
	case AccountUPI:
		d = &UPIDetails{}
	case AccountBank:
		d = &BankDetails{}
	case AccountCrypto:
		d = &CryptoDetails{}
	}
	if err := json.Unmarshal(raw, d); err != nil {
		return nil, xerr.Wrap(err, xerr.RequestParamsError, "decode details")
	}
	return d, nil
}

// DecodeDetails 从已入库的账户还原收款信息
func (a *PaymentAccount) DecodeDetails() (AccountDetails, error) {
	return ParseDetails(a.AccountType, a.Details)
}
