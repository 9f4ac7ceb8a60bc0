package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBlobWriter struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newFakeBlobWriter() *fakeBlobWriter {
	return &fakeBlobWriter{objects: make(map[string][]byte), types: make(map[string]string)}
}

func (f *fakeBlobWriter) Put(_ context.Context, path string, data []byte, contentType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[path] = data
	f.types[path] = contentType
	return nil
}

func TestArchiveWritesDatedJSONKey(t *testing.T) {
	blob := newFakeBlobWriter()
	arch := NewReportArchiver(blob, "reports")

	report := ExecutionReport{
		ExecutionID: "exec-42",
		Pair:        "AAA_BBB",
		Allowed:     true,
		Success:     true,
		Timestamp:   time.Date(2026, 3, 14, 15, 9, 0, 0, time.UTC),
	}
	require.NoError(t, arch.Archive(context.Background(), report))

	data, ok := blob.objects["reports/2026/03/14/exec-42.json"]
	require.True(t, ok)
	assert.Equal(t, "application/json", blob.types["reports/2026/03/14/exec-42.json"])

	var decoded ExecutionReport
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "AAA_BBB", decoded.Pair)
	assert.True(t, decoded.Success)
}

func TestArchiveDefaultPrefix(t *testing.T) {
	blob := newFakeBlobWriter()
	arch := NewReportArchiver(blob, "")

	report := ExecutionReport{
		ExecutionID: "exec-1",
		Timestamp:   time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, arch.Archive(context.Background(), report))
	assert.Contains(t, blob.objects, "reports/2026/01/02/exec-1.json")
}
