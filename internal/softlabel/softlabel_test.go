package softlabel

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/birdsed/internal/errors"
)

func TestNPYRoundTripFloat16(t *testing.T) {
	t.Parallel()

	seq, err := FromRows([][]float32{
		{0, 0.5, 1},
		{0.25, 0.125, 0.95},
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteNPY(&buf, seq))

	// header block is 64-byte aligned and ends with a newline
	raw := buf.Bytes()
	headerLen := int(raw[8]) | int(raw[9])<<8
	assert.Zero(t, (10+headerLen)%64)
	assert.Equal(t, byte('\n'), raw[10+headerLen-1])
	assert.Contains(t, string(raw[10:10+headerLen]), "'shape': (2, 3)")
	assert.Len(t, raw, 10+headerLen+2*6)

	got, err := ReadNPY(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, 2, got.Rows)
	assert.Equal(t, 3, got.Cols)
	for i, want := range seq.Data {
		// float16 keeps about three decimal digits
		assert.InDelta(t, want, got.Data[i], 1e-3, "element %d", i)
	}
}

func TestReadNPYRejects(t *testing.T) {
	t.Parallel()

	header := func(h string) []byte {
		b := append([]byte("\x93NUMPY\x01\x00"), byte(len(h)), 0)
		return append(b, h...)
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"bad magic", []byte("NOTNUMPY....")},
		{"one dimensional", header("{'descr': '<f2', 'fortran_order': False, 'shape': (4,), }\n")},
		{"fortran order", header("{'descr': '<f2', 'fortran_order': True, 'shape': (1, 1), }\n")},
		{"integer dtype", header("{'descr': '<i4', 'fortran_order': False, 'shape': (1, 1), }\n")},
		{"truncated data", header("{'descr': '<f4', 'fortran_order': False, 'shape': (2, 2), }\n")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := ReadNPY(bytes.NewReader(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestSequenceWindowPadsWithZeros(t *testing.T) {
	t.Parallel()

	seq, err := FromRows([][]float32{{1, 2}, {3, 4}, {5, 6}})
	require.NoError(t, err)

	w := seq.Window(1, 4)
	assert.Equal(t, 4, w.Rows)
	assert.Equal(t, []float32{3, 4, 5, 6, 0, 0, 0, 0}, w.Data)

	// window must not alias the source
	w.Set(0, 0, 42)
	assert.InDelta(t, 3, seq.At(1, 0), 0)

	assert.Equal(t, []float32{5, 6}, seq.ColumnMax())
	assert.Equal(t, []float32{9, 12}, seq.ColumnSum())
	assert.Equal(t, 2, seq.Head(2).Rows)
	assert.Equal(t, 3, seq.Head(10).Rows)
}

func TestSequenceAppend(t *testing.T) {
	t.Parallel()

	var acc Sequence
	a, _ := FromRows([][]float32{{1, 2}})
	b, _ := FromRows([][]float32{{3, 4}, {5, 6}})
	require.NoError(t, acc.Append(a))
	require.NoError(t, acc.Append(b))
	require.NoError(t, acc.Append(NewSequence(0, 2)))
	assert.Equal(t, 3, acc.Rows)
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, acc.Data)

	c, _ := FromRows([][]float32{{1, 2, 3}})
	assert.Error(t, acc.Append(c))

	_, err := FromRows([][]float32{{1}, {1, 2}})
	assert.Error(t, err)
}

func TestStoreSaveLoad(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "soft")
	store := NewStore(dir, 0)

	seq, _ := FromRows([][]float32{{0.5, 0.25}})
	require.NoError(t, store.Save("XC1234.wav", seq))
	assert.FileExists(t, filepath.Join(dir, "XC1234.wav.npy"))
	assert.True(t, store.Exists("XC1234.wav"))

	got, err := store.Load("XC1234.wav")
	require.NoError(t, err)
	assert.Equal(t, seq.Data, got.Data)
	assert.Equal(t, 1, store.CachedCount())

	// saving invalidates the cached entry
	updated, _ := FromRows([][]float32{{1, 0}})
	require.NoError(t, store.Save("XC1234.wav", updated))
	assert.Zero(t, store.CachedCount())
	got, err = store.Load("XC1234.wav")
	require.NoError(t, err)
	assert.Equal(t, updated.Data, got.Data)

	_, err = store.Load("missing.wav")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))

	require.NoError(t, os.WriteFile(store.Path("broken.wav"), []byte("garbage"), 0o600))
	_, err = store.Load("broken.wav")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryFileParsing))
}
