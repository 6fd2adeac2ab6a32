package norfs_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/norfs"
)

func TestWriterLogsFileID(t *testing.T) {
	var buf bytes.Buffer
	logger := norfs.NewLogger(slog.NewJSONHandler(&buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	fs, _ := mountMemory(t, smallDevice, norfs.WithLogger(logger))
	id := createFile(t, fs, 5, []byte("gps fix"))
	require.NoError(t, fs.Close(context.Background()))

	var closed []map[string]any
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		if rec["msg"] == "writer closed" {
			closed = append(closed, rec)
		}
	}
	require.NoError(t, sc.Err())

	require.Len(t, closed, 1)
	assert.Equal(t, "DEBUG", closed[0]["level"])
	assert.Equal(t, float64(id), closed[0]["file_id"])
}
