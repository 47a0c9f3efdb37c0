package backend

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hongminglow/solace-be/internal/storage/memory"
)

func TestOpenMemory(t *testing.T) {
	store, err := Open(context.Background(), "memory://", "solace")
	require.NoError(t, err)
	assert.IsType(t, &memory.Store{}, store)
	assert.NoError(t, store.Ping(context.Background()))
}

func TestOpenUnsupportedScheme(t *testing.T) {
	_, err := Open(context.Background(), "mysql://root@localhost/solace", "solace")
	assert.ErrorContains(t, err, `unsupported database scheme "mysql"`)
}

func TestMongoDatabaseName(t *testing.T) {
	cases := map[string]string{
		"mongodb://localhost:27017":                             "solace",
		"mongodb://localhost:27017/":                            "solace",
		"mongodb+srv://u:p@cluster0.example.net/mydatabase?w=1": "mydatabase",
	}
	for raw, want := range cases {
		u, err := url.Parse(raw)
		require.NoError(t, err)
		assert.Equal(t, want, mongoDatabaseName(u, "solace"), raw)
	}
}
