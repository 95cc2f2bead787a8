// Package feed 外部流水源接入：Redis Stream 和 NATS 两种传输，载荷都是 JSON 编码的 LedgerRecord
package feed

import (
	"context"

	"github.com/segmentio/encoding/json"
	"payrecon.com/internal/recon/domain"
)

// Recorder 流水落库入口，由 service.Ingest 实现
type Recorder interface {
	Record(ctx context.Context, rec domain.LedgerRecord) (*domain.LedgerEntry, error)
}

func Decode(data []byte) (domain.LedgerRecord, error) {
	var rec domain.LedgerRecord
	err := json.Unmarshal(data, &rec)
	return rec, err
}

func Encode(rec domain.LedgerRecord) ([]byte, error) {
	return json.Marshal(rec)
}
