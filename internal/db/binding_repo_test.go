package db

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"searchpulse/internal/types"
)

func TestBindingRepo_Get_Found(t *testing.T) {
	dbx := new(mockDBTX)
	repo := NewBindingRepo(dbx)

	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	row := &mockRow{scanFn: func(dest ...any) error {
		*(dest[0].(*string)) = "t-1"
		*(dest[1].(*types.Provider)) = types.ProviderSearch
		*(dest[2].(*string)) = "sc-domain:example.com"
		*(dest[3].(*time.Time)) = created
		return nil
	}}
	dbx.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(row)

	b, err := repo.Get(context.Background(), "t-1", types.ProviderSearch)
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, "sc-domain:example.com", b.ExternalID)
	assert.Equal(t, created, b.CreatedAt)
}

func TestBindingRepo_Get_AbsentIsNilNotError(t *testing.T) {
	dbx := new(mockDBTX)
	repo := NewBindingRepo(dbx)

	dbx.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	b, err := repo.Get(context.Background(), "t-1", types.ProviderTraffic)
	require.NoError(t, err)
	assert.Nil(t, b)
}

func TestBindingRepo_Create_IsInsertIfAbsent(t *testing.T) {
	dbx := new(mockDBTX)
	repo := NewBindingRepo(dbx)

	dbx.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) {
			sql := args.Get(1).(string)
			assert.Contains(t, sql, "ON CONFLICT (tenant_id, provider) DO NOTHING")
		}).
		Return(pgconn.CommandTag{}, nil).Once()

	err := repo.Create(context.Background(), &types.Binding{
		TenantID:   "t-1",
		Provider:   types.ProviderTraffic,
		ExternalID: "123456",
	})
	require.NoError(t, err)
	dbx.AssertExpectations(t)
}
