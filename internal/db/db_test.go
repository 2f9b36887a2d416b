package db

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tos-rag/internal/config"
	"tos-rag/internal/index"
)

func TestVector_Value(t *testing.T) {
	v, err := Vector{1, -0.5, 0.25}.Value()
	require.NoError(t, err)
	assert.Equal(t, "[1,-0.5,0.25]", v)

	v, err = Vector{}.Value()
	require.NoError(t, err)
	assert.Equal(t, "[]", v)
}

func TestVector_Scan(t *testing.T) {
	tests := []struct {
		name    string
		src     any
		want    Vector
		wantErr bool
	}{
		{"string", "[1,2,3]", Vector{1, 2, 3}, false},
		{"bytes with spaces", []byte("[0.5, -1]"), Vector{0.5, -1}, false},
		{"empty", "[]", Vector{}, false},
		{"nil", nil, nil, false},
		{"no brackets", "1,2", nil, true},
		{"bad element", "[1,x]", nil, true},
		{"wrong type", 42, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var v Vector
			err := v.Scan(tt.src)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, v)
		})
	}
}

func TestStrategy_NotConfigured(t *testing.T) {
	p := index.Resolve(context.Background(), []index.Strategy{Strategy(&config.DatabaseConfig{})})
	assert.False(t, p.Available())

	_, err := ConnectDB(&config.DatabaseConfig{})
	assert.ErrorIs(t, err, index.ErrNotConfigured)
}

func TestBackend_CloseReleasesPool(t *testing.T) {
	// lib/pq connects lazily, so no server is needed
	sqldb, err := sql.Open("postgres", "postgres://tos@127.0.0.1:1/tos?sslmode=disable")
	require.NoError(t, err)
	b := NewBackend(NewDB(sqldb, false))

	p := index.NewProvider(b)
	require.NoError(t, p.Close())
	assert.ErrorContains(t, sqldb.PingContext(context.Background()), "closed")
}
