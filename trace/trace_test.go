package trace

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAndRead(t *testing.T) {
	r, err := Open(filepath.Join(t.TempDir(), "trace.sqlite3"))
	require.NoError(t, err)
	defer r.Close()

	start := time.Unix(1700000000, 42)
	want := []Transfer{
		{Round: 0, Mode: ModePoll, Src: 0x8000_0000, Dst: 0x8000_1000, Bytes: 32, Start: start, Duration: time.Microsecond},
		{Round: 1, Mode: ModeIRQ, Src: 0x1_0000_0000, Dst: 0x8000_1000, Bytes: 64, Start: start, Err: "cdma: timeout waiting for transfer"},
	}
	for _, tr := range want {
		require.NoError(t, r.Record(tr))
	}

	got, err := r.Transfers(r.Run())
	require.NoError(t, err)
	assert.Empty(t, got, "transfers written before flush")

	require.NoError(t, r.Flush())
	got, err = r.Transfers(r.Run())
	require.NoError(t, err)
	require.Len(t, got, len(want))
	for i := range want {
		want[i].Run = r.Run()
		assert.Equal(t, want[i].Round, got[i].Round)
		assert.Equal(t, want[i].Mode, got[i].Mode)
		assert.Equal(t, want[i].Src, got[i].Src)
		assert.Equal(t, want[i].Dst, got[i].Dst)
		assert.Equal(t, want[i].Bytes, got[i].Bytes)
		assert.True(t, want[i].Start.Equal(got[i].Start))
		assert.Equal(t, want[i].Duration, got[i].Duration)
		assert.Equal(t, want[i].Err, got[i].Err)
		assert.Equal(t, want[i].Run, got[i].Run)
	}
}

func TestBatchFlush(t *testing.T) {
	r, err := Open(filepath.Join(t.TempDir(), "trace.sqlite3"))
	require.NoError(t, err)
	defer r.Close()
	r.batchSize = 2

	require.NoError(t, r.Record(Transfer{Round: 0, Mode: ModePoll, Bytes: 4}))
	require.NoError(t, r.Record(Transfer{Round: 1, Mode: ModePoll, Bytes: 4}))
	got, err := r.Transfers(r.Run())
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestRunsShareDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.sqlite3")
	r1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, r1.Record(Transfer{Mode: ModePoll, Bytes: 8}))
	require.NoError(t, r1.Close())

	r2, err := Open(path)
	require.NoError(t, err)
	defer r2.Close()
	assert.NotEqual(t, r1.Run(), r2.Run())

	got, err := r2.Transfers(r1.Run())
	require.NoError(t, err)
	assert.Len(t, got, 1)
	got, err = r2.Transfers(r2.Run())
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, r2.Record(Transfer{Mode: ModeIRQ, Bytes: 8}))
	require.NoError(t, r2.Flush())
	runs, err := r2.Runs()
	require.NoError(t, err)
	assert.Equal(t, []string{r1.Run(), r2.Run()}, runs)
}

func TestClosed(t *testing.T) {
	r, err := Open(filepath.Join(t.TempDir(), "trace.sqlite3"))
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.ErrorIs(t, r.Record(Transfer{}), ErrClosed)
	assert.ErrorIs(t, r.Close(), ErrClosed)
}
