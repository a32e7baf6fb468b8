package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/contextswitch/pkg/db/option"
	"github.com/smallbiznis/contextswitch/pkg/db/pagination"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type note struct {
	ID        int64 `gorm:"primaryKey"`
	Owner     int64
	Body      string
	CreatedAt time.Time
}

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&note{}))
	return db
}

func TestStoreFindCountAndPaging(t *testing.T) {
	db := setupDB(t)
	repo := ProvideStore[note](db)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 1; i <= 5; i++ {
		require.NoError(t, repo.Create(ctx, &note{ID: int64(i), Owner: 7, Body: "n", CreatedAt: base.Add(time.Duration(i) * time.Minute)}))
	}
	require.NoError(t, repo.Create(ctx, &note{ID: 99, Owner: 8, CreatedAt: base}))

	count, err := repo.Count(ctx, &note{Owner: 7})
	require.NoError(t, err)
	require.Equal(t, int64(5), count)

	page, err := repo.Find(ctx, &note{Owner: 7},
		option.WithSortBy(option.QuerySortBy{Allow: map[string]bool{"created_at": true}, SortBy: "created_at", Desc: true}),
		option.WithLimitOffset(2, 2),
	)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, int64(3), page[0].ID)
	require.Equal(t, int64(2), page[1].ID)

	recent, err := repo.Count(ctx, &note{Owner: 7}, option.ApplyOperator(option.Condition{
		Field: "created_at", Operator: option.GT, Value: base.Add(3 * time.Minute),
	}))
	require.NoError(t, err)
	require.Equal(t, int64(2), recent)
}

func TestStoreFindOneMissing(t *testing.T) {
	repo := ProvideStore[note](setupDB(t))
	got, err := repo.FindOne(context.Background(), &note{ID: 123})
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestStoreFindPage(t *testing.T) {
	repo := ProvideStore[note](setupDB(t))
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 1; i <= 5; i++ {
		require.NoError(t, repo.Create(ctx, &note{ID: int64(i), Owner: 3, CreatedAt: base.Add(time.Duration(i) * time.Minute)}))
	}
	newest := option.WithSortBy(option.QuerySortBy{
		Allow:  map[string]bool{"created_at": true},
		SortBy: "created_at",
		Desc:   true,
	})

	items, total, err := repo.FindPage(ctx, &note{Owner: 3}, pagination.Pagination{Page: 2, Limit: 2}, newest)
	require.NoError(t, err)
	require.Equal(t, int64(5), total)
	require.Len(t, items, 2)
	require.Equal(t, int64(3), items[0].ID)
	require.Equal(t, int64(2), items[1].ID)

	items, total, err = repo.FindPage(ctx, &note{Owner: 3}, pagination.Pagination{Page: 9, Limit: 2}, newest)
	require.NoError(t, err)
	require.Equal(t, int64(5), total)
	require.Empty(t, items)

	items, total, err = repo.FindPage(ctx, &note{Owner: 4}, pagination.Pagination{}, newest)
	require.NoError(t, err)
	require.Zero(t, total)
	require.NotNil(t, items)
}
