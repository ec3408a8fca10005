package edge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBytes(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"512", 512},
		{"1b", 1},
		{"64k", 64 * kb},
		{"64kb", 64 * kb},
		{"1mb", mb},
		{" 2 MB ", 2 * mb},
		{"1.5g", gb + gb/2},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseBytes(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"", "b", "kb", "-1k", "many"} {
		_, err := parseBytes(bad)
		assert.Error(t, err, bad)
	}
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512b", formatBytes(512))
	assert.Equal(t, "1kb", formatBytes(kb))
	assert.Equal(t, "1.5kb", formatBytes(kb+kb/2))
	assert.Equal(t, "3mb", formatBytes(3*mb))
	assert.Equal(t, "2gb", formatBytes(2*gb))
}
