package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hitoshi/market/internal/model"
	"github.com/hitoshi/market/internal/repository"
)

// ItemSearcher は商品検索に必要なリポジトリ操作。
type ItemSearcher interface {
	Search(ctx context.Context, q repository.ItemQuery) ([]model.Item, int, error)
}

// Recorder は検索結果件数を記録するメトリクス。
type Recorder interface {
	RecordCatalogSearch(resultCount int)
}

// Result は検索結果の1ページを表す。
type Result struct {
	Items    []model.Item
	Total    int
	Page     int
	PageSize int
	Pages    int
	Criteria Criteria
	// NoFilter はカテゴリ未選択のためリポジトリを参照しなかったことを表す。
	NoFilter bool
	// Empty は該当する商品が1件もないことを表す。エラーではない。
	Empty bool
}

// Service はマーケット一覧の検索サービス。
type Service struct {
	items    ItemSearcher
	pageSize int
	metrics  Recorder
}

// NewService はServiceを生成する。metricsはnilでもよい。
func NewService(items ItemSearcher, pageSize int, metrics Recorder) *Service {
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	return &Service{items: items, pageSize: pageSize, metrics: metrics}
}

// Search は条件に一致する商品の1ページ分を返す。
// カテゴリ未指定の場合はNoFilterを立てて即座に返す。
// 範囲外のページや0件はEmptyを立てた空の結果となる。
func (s *Service) Search(ctx context.Context, q Query) (*Result, error) {
	if strings.TrimSpace(q.Category) == "" {
		return &Result{Items: []model.Item{}, Page: 1, PageSize: s.pageSize, NoFilter: true}, nil
	}

	c := NewCriteria(q, s.pageSize)
	items, total, err := s.items.Search(ctx, c.SQL())
	if err != nil {
		return nil, fmt.Errorf("failed to search items: %w", err)
	}
	if items == nil {
		items = []model.Item{}
	}

	if s.metrics != nil {
		s.metrics.RecordCatalogSearch(len(items))
	}
	slog.Debug("catalog search",
		slog.String("category", string(c.Category)),
		slog.Int("page", c.Page),
		slog.Int("total", total),
	)

	return &Result{
		Items:    items,
		Total:    total,
		Page:     c.Page,
		PageSize: c.PageSize,
		Pages:    (total + c.PageSize - 1) / c.PageSize,
		Criteria: c,
		Empty:    len(items) == 0,
	}, nil
}
