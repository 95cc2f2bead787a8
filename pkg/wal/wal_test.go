package wal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRecords(t *testing.T, path string, recs ...string) int64 {
	t.Helper()
	w, err := OpenWriter(path, 0)
	require.NoError(t, err)
	for _, r := range recs {
		require.NoError(t, w.Append([]byte(r)))
	}
	off := w.Offset()
	require.NoError(t, w.Close())
	return off
}

func replayAll(t *testing.T, path string, opts ReplayOptions) ([]string, ReplayStats, error) {
	t.Helper()
	var got []string
	st, err := Replay(path, opts, func(p []byte) error {
		got = append(got, string(p))
		return nil
	})
	return got, st, err
}

func TestAppendReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spool.wal")
	off := writeRecords(t, path, "a", "bb", "")
	// 重新打开继续追加
	writeRecords(t, path, "ccc")

	got, st, err := replayAll(t, path, ReplayOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "bb", "", "ccc"}, got)
	assert.Equal(t, 4, st.Records)
	assert.Equal(t, off+headerSize+3, st.LastGoodOffset)
}

func TestReplayMissingFile(t *testing.T) {
	got, st, err := replayAll(t, filepath.Join(t.TempDir(), "nope.wal"), ReplayOptions{})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Zero(t, st.Records)
}

func TestReplayTruncatedTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spool.wal")
	off := writeRecords(t, path, "one", "two")
	require.NoError(t, os.Truncate(path, off-1))

	_, _, err := replayAll(t, path, ReplayOptions{})
	assert.ErrorIs(t, err, ErrCorruptPayload)

	got, st, err := replayAll(t, path, ReplayOptions{AllowTruncatedTail: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"one"}, got)
	assert.True(t, st.TruncatedTail)

	require.NoError(t, TruncateTo(path, st.LastGoodOffset))
	got, st, err = replayAll(t, path, ReplayOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"one"}, got)
	assert.False(t, st.TruncatedTail)
}

func TestReplayChecksumMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spool.wal")
	writeRecords(t, path, "payload")
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	_, _, err = replayAll(t, path, ReplayOptions{})
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}
