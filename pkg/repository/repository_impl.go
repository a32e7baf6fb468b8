package repository

import (
	"context"
	"errors"

	"github.com/smallbiznis/contextswitch/pkg/db/option"
	"github.com/smallbiznis/contextswitch/pkg/db/pagination"
	"gorm.io/gorm"
)

type store[T any] struct {
	db *gorm.DB
}

func ProvideStore[T any](db *gorm.DB) Repository[T] {
	return &store[T]{db: db}
}

func (s *store[T]) Find(ctx context.Context, filter *T, opts ...option.QueryOption) ([]*T, error) {
	var out []*T
	if err := s.query(ctx, filter, opts).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// FindOne returns nil, nil when nothing matches.
func (s *store[T]) FindOne(ctx context.Context, filter *T, opts ...option.QueryOption) (*T, error) {
	var out T
	err := s.query(ctx, filter, opts).Take(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// FindPage counts the filtered rows, then loads the requested page. opts
// apply to both queries, so sort options are harmless on the count.
func (s *store[T]) FindPage(ctx context.Context, filter *T, page pagination.Pagination, opts ...option.QueryOption) ([]*T, int64, error) {
	page = page.Normalize()
	total, err := s.Count(ctx, filter, opts...)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 || int64(page.Offset()) >= total {
		return []*T{}, total, nil
	}
	items, err := s.Find(ctx, filter, append(opts[:len(opts):len(opts)], option.WithLimitOffset(page.Limit, page.Offset()))...)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (s *store[T]) Create(ctx context.Context, resource *T) error {
	return s.db.WithContext(ctx).Create(resource).Error
}

func (s *store[T]) Count(ctx context.Context, filter *T, opts ...option.QueryOption) (int64, error) {
	var n int64
	err := s.query(ctx, filter, opts).Count(&n).Error
	return n, err
}

func (s *store[T]) query(ctx context.Context, filter *T, opts []option.QueryOption) *gorm.DB {
	q := s.db.WithContext(ctx).Model(new(T))
	if filter != nil {
		q = q.Where(filter)
	}
	for _, opt := range opts {
		q = opt.Apply(q)
	}
	return q
}
