//go:build !windows

package flash

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMmapFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flash.img")

	m, err := OpenMmapFile(path, testSize)
	require.NoError(t, err)
	assert.Equal(t, uint32(testSize), m.Size())

	require.NoError(t, m.WritePage(4096, []byte("nor")))
	require.NoError(t, m.Sync())
	require.NoError(t, m.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, raw, testSize)
	assert.Equal(t, []byte("nor"), raw[4096:4099])
	assert.Equal(t, byte(Erased), raw[4099])

	m, err = OpenMmapFile(path, testSize)
	require.NoError(t, err)
	defer m.Close()

	buf := make([]byte, 3)
	require.NoError(t, m.ReadBlock(4096, buf))
	assert.Equal(t, []byte("nor"), buf)
}
