package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/hitoshi/market/internal/catalog"
)

// CatalogServiceInterface はマーケット一覧ハンドラーが必要とするサービスインターフェース。
type CatalogServiceInterface interface {
	Search(ctx context.Context, q catalog.Query) (*catalog.Result, error)
}

// MarketHandler はマーケット一覧のHTTPハンドラー。
type MarketHandler struct {
	service CatalogServiceInterface
	media   mediaURLs
}

// NewMarketHandler はMarketHandlerを生成する。
func NewMarketHandler(service CatalogServiceInterface, mediaBaseURL string) *MarketHandler {
	return &MarketHandler{
		service: service,
		media:   mediaURLs{baseURL: mediaBaseURL},
	}
}

// marketFilters は適用された検索条件。ページリンクの組み立てに使う。
type marketFilters struct {
	Category   string `json:"category"`
	PriceRange string `json:"priceRange"`
	Location   string `json:"location"`
	Delivery   string `json:"delivery"`
	Sort       string `json:"sort"`
}

// marketResponse はマーケット一覧のレスポンス。
type marketResponse struct {
	Items    []itemResponse `json:"items"`
	Total    int            `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
	Pages    int            `json:"pages"`
	NoFilter bool           `json:"no_filter"`
	Empty    bool           `json:"empty"`
	Filters  marketFilters  `json:"filters"`
}

// Search は条件に一致する商品の1ページ分を返す。
// カテゴリ未指定の場合はno_filterを立てた空の一覧を返す。
// GET /api/market?category=&priceRange=&location=&delivery=&sort=&page=
func (h *MarketHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := catalog.Query{
		Category:  q.Get("category"),
		PriceBand: q.Get("priceRange"),
		Location:  q.Get("location"),
		Delivery:  q.Get("delivery"),
		Sort:      q.Get("sort"),
		Page:      1,
	}
	if p, err := strconv.Atoi(q.Get("page")); err == nil {
		query.Page = p
	}

	result, err := h.service.Search(r.Context(), query)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, marketResponse{
		Items:    h.media.items(result.Items),
		Total:    result.Total,
		Page:     result.Page,
		PageSize: result.PageSize,
		Pages:    result.Pages,
		NoFilter: result.NoFilter,
		Empty:    result.Empty,
		Filters: marketFilters{
			Category:   query.Category,
			PriceRange: query.PriceBand,
			Location:   query.Location,
			Delivery:   query.Delivery,
			Sort:       query.Sort,
		},
	})
}
