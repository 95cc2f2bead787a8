// Package wal 追加写的记录日志：每条记录 = len(4) + crc32(4) + payload，小端
package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sync"
)

const (
	headerSize      = 8
	defaultFilePerm = 0o644

	// DefaultMaxPayload 防止坏头把内存吃爆
	DefaultMaxPayload = 4 << 20
)

var (
	ErrCorruptHeader    = errors.New("wal: corrupt header")
	ErrCorruptPayload   = errors.New("wal: corrupt payload")
	ErrChecksumMismatch = errors.New("wal: checksum mismatch")
	ErrPayloadTooLarge  = errors.New("wal: payload too large")
)

// Writer 并发安全。Append 只进缓冲，Sync 才保证落盘
type Writer struct {
	mu  sync.Mutex
	f   *os.File
	bw  *bufio.Writer
	off int64
}

func OpenWriter(path string, bufSize int) (*Writer, error) {
	if bufSize <= 0 {
		bufSize = 64 << 10
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, defaultFilePerm)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Writer{f: f, bw: bufio.NewWriterSize(f, bufSize), off: st.Size()}, nil
}

func (w *Writer) Append(payload []byte) error {
	if len(payload) > DefaultMaxPayload {
		return ErrPayloadTooLarge
	}
	var hdr [headerSize]byte
	binary.LittleEndian.PutUint32(hdr[:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(hdr[4:], crc32.ChecksumIEEE(payload))

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.bw.Write(hdr[:]); err != nil {
		return fmt.Errorf("wal append header: %w", err)
	}
	if _, err := w.bw.Write(payload); err != nil {
		return fmt.Errorf("wal append payload: %w", err)
	}
	w.off += int64(headerSize + len(payload))
	return nil
}

// Offset 已追加的逻辑长度，含未 flush 部分
func (w *Writer) Offset() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.off
}

func (w *Writer) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.bw.Flush(); err != nil {
		return err
	}
	return w.f.Sync()
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.bw.Flush(); err != nil {
		_ = w.f.Close()
		return err
	}
	if err := w.f.Sync(); err != nil {
		_ = w.f.Close()
		return err
	}
	return w.f.Close()
}

type ReplayOptions struct {
	MaxPayload int
	// 崩溃时最后一条可能只写了一半，为 true 时视为正常结束
	AllowTruncatedTail bool
}

type ReplayStats struct {
	Records        int
	LastGoodOffset int64
	TruncatedTail  bool
}

// Replay 顺序读出每条记录交给 fn；文件不存在视为空。fn 返回错误时立即停止
func Replay(path string, opts ReplayOptions, fn func(payload []byte) error) (ReplayStats, error) {
	var st ReplayStats
	maxPayload := opts.MaxPayload
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return st, err
	}
	defer f.Close()

	br := bufio.NewReaderSize(f, 64<<10)
	var hdr [headerSize]byte
	for {
		if _, err := io.ReadFull(br, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return st, nil
			}
			return st, tail(&st, opts, err, ErrCorruptHeader)
		}
		ln := int(binary.LittleEndian.Uint32(hdr[:4]))
		crc := binary.LittleEndian.Uint32(hdr[4:])
		if ln > maxPayload {
			return st, ErrPayloadTooLarge
		}
		payload := make([]byte, ln)
		if _, err := io.ReadFull(br, payload); err != nil {
			return st, tail(&st, opts, err, ErrCorruptPayload)
		}
		if crc32.ChecksumIEEE(payload) != crc {
			return st, ErrChecksumMismatch
		}
		if err := fn(payload); err != nil {
			return st, err
		}
		st.Records++
		st.LastGoodOffset += int64(headerSize + ln)
	}
}

func tail(st *ReplayStats, opts ReplayOptions, err, corrupt error) error {
	if !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return err
	}
	st.TruncatedTail = true
	if opts.AllowTruncatedTail {
		return nil
	}
	return corrupt
}

// TruncateTo 截断到 offset；文件不存在或 offset 超出文件长度时什么也不做
func TruncateTo(path string, offset int64) error {
	if offset < 0 {
		return fmt.Errorf("wal: negative truncate offset %d", offset)
	}
	st, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if offset >= st.Size() {
		return nil
	}
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.Truncate(offset); err != nil {
		return err
	}
	return f.Sync()
}
