package loader_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/triekv/triekv/internal/loader"
	"github.com/triekv/triekv/internal/model"
	"go.uber.org/zap"
)

func TestReadServers(t *testing.T) {
	input := strings.Join([]string{
		"127.0.0.1 5000",
		"",
		"10.0.0.2   5001",
		"only-host",
		"host 5002 extra",
		"host notaport",
		"host 70000",
		"  localhost 5003  ",
	}, "\n")

	servers, err := loader.ReadServers(strings.NewReader(input), zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []model.ServerAddress{
		{Host: "127.0.0.1", Port: 5000},
		{Host: "10.0.0.2", Port: 5001},
		{Host: "localhost", Port: 5003},
	}, servers)
}

func TestReadRecords(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int
		wantErr string
	}{
		{name: "two records", input: "{\"a\": 1}\n\n{\"b\": {\"c\": [1, 2]}}\n", want: 2},
		{name: "empty", input: "", want: 0},
		{name: "bad json", input: "{\"a\": 1}\n{nope\n", wantErr: "line 2"},
		{name: "not an object", input: "[1, 2]\n", wantErr: "line 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := loader.ReadRecords(strings.NewReader(tt.input))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Len(t, records, tt.want)
		})
	}
}

func TestLoadFiles(t *testing.T) {
	dir := t.TempDir()
	serversPath := filepath.Join(dir, "servers.txt")
	dataPath := filepath.Join(dir, "data.txt")
	require.NoError(t, os.WriteFile(serversPath, []byte("127.0.0.1 5000\n"), 0o644))
	require.NoError(t, os.WriteFile(dataPath, []byte(`{"person": {"age": 86}}`+"\n"), 0o644))

	servers, err := loader.LoadServers(serversPath, zap.NewNop())
	require.NoError(t, err)
	assert.Len(t, servers, 1)

	records, err := loader.LoadRecords(dataPath)
	require.NoError(t, err)
	require.Len(t, records, 1)
	age, ok := records[0].Fields["person"].Field("age")
	require.True(t, ok)
	n, _ := age.AsNumber()
	assert.Equal(t, 86.0, n)

	_, err = loader.LoadServers(filepath.Join(dir, "missing"), zap.NewNop())
	assert.Error(t, err)
	_, err = loader.LoadRecords(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}
