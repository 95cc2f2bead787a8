package feed

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"
	"payrecon.com/pkg/logger"
	"payrecon.com/pkg/wal"
)

// Spool NATS 投递是 at-most-once，落库失败的流水先写到本地 wal，重启时回放
type Spool struct {
	path string
	w    *wal.Writer
}

type spooled struct {
	Transport string    `json:"transport"`
	Reason    string    `json:"reason"`
	At        time.Time `json:"at"`
	Data      []byte    `json:"data"`
}

func OpenSpool(path string) (*Spool, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	w, err := wal.OpenWriter(path, 0)
	if err != nil {
		return nil, err
	}
	return &Spool{path: path, w: w}, nil
}

// Put 写入并 fsync；失败只能打日志，消息已经无处可放
func (s *Spool) Put(ctx context.Context, transport string, data []byte, cause error) {
	b, err := json.Marshal(spooled{Transport: transport, Reason: cause.Error(), At: time.Now().UTC(), Data: data})
	if err == nil {
		err = s.w.Append(b)
	}
	if err == nil {
		err = s.w.Sync()
	}
	if err != nil {
		logger.Error(ctx, "ledger spool write failed, record lost", zap.String("path", s.path), zap.ByteString("data", data), zap.Error(err))
		return
	}
	logger.Warn(ctx, "ledger record spooled", zap.String("transport", transport), zap.Error(cause))
}

func (s *Spool) Close() error { return s.w.Close() }

// DrainSpool 把 spool 里的流水重新 Record 一遍（Record 幂等），全部成功后清空文件。
// 必须在 OpenSpool 之前调用
func DrainSpool(ctx context.Context, path string, rec Recorder) (int, error) {
	n := 0
	st, err := wal.Replay(path, wal.ReplayOptions{AllowTruncatedTail: true}, func(payload []byte) error {
		var sp spooled
		if err := json.Unmarshal(payload, &sp); err != nil {
			logger.Warn(ctx, "bad spool entry skipped", zap.Error(err))
			return nil
		}
		r, err := Decode(sp.Data)
		if err != nil {
			logger.Warn(ctx, "bad spooled ledger record skipped", zap.Error(err))
			return nil
		}
		if _, err := rec.Record(ctx, r); err != nil {
			return err
		}
		n++
		return nil
	})
	if err != nil {
		return n, err
	}
	if st.Records > 0 || st.TruncatedTail {
		if err := wal.TruncateTo(path, 0); err != nil {
			return n, err
		}
		logger.Info(ctx, "ledger spool drained", zap.String("path", path), zap.Int("replayed", n))
	}
	return n, nil
}
