package progress

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressReader(t *testing.T) {
	var (
		chunks  int64
		reports []int64
	)

	src := strings.NewReader(strings.Repeat("x", 100))
	pr := NewReader(io.LimitReader(src, 100), 100, 30,
		func(n int64) { chunks += n },
		func(written, total int64) {
			assert.Equal(t, int64(100), total)

			reports = append(reports, written)
		},
	)

	buf := make([]byte, 10)

	for {
		_, err := pr.Read(buf)
		if err == io.EOF {
			break
		}

		require.NoError(t, err)
	}

	assert.Equal(t, int64(100), chunks)
	assert.Equal(t, int64(100), pr.BytesRead())
	assert.Equal(t, []int64{30, 60, 90}, reports)
}

func TestProgressReader_NilCallbacks(t *testing.T) {
	pr := NewReader(strings.NewReader("abc"), 3, 1, nil, nil)

	b, err := io.ReadAll(pr)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(b))
}
