package repository

import (
	"context"

	"github.com/smallbiznis/contextswitch/pkg/db/option"
	"github.com/smallbiznis/contextswitch/pkg/db/pagination"
)

// Repository is a generic gorm store for append-mostly tables. Filters are
// struct conditions; zero fields are ignored by gorm.
type Repository[T any] interface {
	Find(ctx context.Context, filter *T, opts ...option.QueryOption) ([]*T, error)
	FindOne(ctx context.Context, filter *T, opts ...option.QueryOption) (*T, error)
	FindPage(ctx context.Context, filter *T, page pagination.Pagination, opts ...option.QueryOption) ([]*T, int64, error)
	Create(ctx context.Context, resource *T) error
	Count(ctx context.Context, filter *T, opts ...option.QueryOption) (int64, error)
}
