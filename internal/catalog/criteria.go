// Package catalog はマーケット一覧の絞り込み・並び替え・ページングを提供する。
package catalog

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/hitoshi/market/internal/model"
	"github.com/hitoshi/market/internal/repository"
)

// DefaultPageSize は1ページあたりの商品数の既定値。
const DefaultPageSize = 10

// PriceBand は価格帯フィルタ。
type PriceBand int

const (
	// PriceAny は価格で絞り込まない。
	PriceAny PriceBand = iota
	// PriceUnder50 は price < 50。
	PriceUnder50
	// Price50To100 は 50 <= price <= 100。
	Price50To100
	// PriceOver100 は price > 100。
	PriceOver100
)

// ParsePriceBand はクエリ文字列の価格帯 "1" "2" "3" を変換する。
// それ以外の値はPriceAnyとなる。
func ParsePriceBand(s string) PriceBand {
	switch strings.TrimSpace(s) {
	case "1":
		return PriceUnder50
	case "2":
		return Price50To100
	case "3":
		return PriceOver100
	default:
		return PriceAny
	}
}

// Contains は価格が価格帯に含まれるかを返す。
func (b PriceBand) Contains(price int64) bool {
	switch b {
	case PriceUnder50:
		return price < 50
	case Price50To100:
		return price >= 50 && price <= 100
	case PriceOver100:
		return price > 100
	default:
		return true
	}
}

// Query はHTTPクエリから受け取る生の検索条件。
type Query struct {
	Category  string
	PriceBand string
	Location  string
	Delivery  string
	Sort      string
	Page      int
}

// Criteria は正規化済みの検索条件。
// SQLとMatches/Lessは同じ意味論を表す。
type Criteria struct {
	Category   model.Category
	PriceBand  PriceBand
	Location   string
	Delivery   model.Delivery // 空の場合は絞り込まない
	Descending bool
	Page       int
	PageSize   int
}

// NewCriteria はQueryを正規化する。
// ページ番号は1未満を1に、ページサイズは1未満をDefaultPageSizeに丸める。
// ページ番号の上限はOffsetが溢れない範囲に抑える。
func NewCriteria(q Query, pageSize int) Criteria {
	c := Criteria{
		Category:   model.Category(strings.TrimSpace(q.Category)),
		PriceBand:  ParsePriceBand(q.PriceBand),
		Location:   strings.TrimSpace(q.Location),
		Descending: strings.EqualFold(strings.TrimSpace(q.Sort), "desc"),
		Page:       q.Page,
		PageSize:   pageSize,
	}
	if d := model.Delivery(strings.TrimSpace(q.Delivery)); d.Valid() {
		c.Delivery = d
	}
	if c.Page < 1 {
		c.Page = 1
	}
	if c.PageSize < 1 {
		c.PageSize = DefaultPageSize
	}
	if maxPage := math.MaxInt / c.PageSize; c.Page > maxPage {
		c.Page = maxPage
	}
	return c
}

// Offset はページの先頭位置を返す。
func (c Criteria) Offset() int {
	return (c.Page - 1) * c.PageSize
}

// SQL はitemsテーブルに対するWHERE句、ORDER BY句、LIMIT/OFFSETを構築する。
func (c Criteria) SQL() repository.ItemQuery {
	var conds []string
	var args []any
	argIndex := 1

	conds = append(conds, fmt.Sprintf("category = $%d", argIndex))
	args = append(args, string(c.Category))
	argIndex++

	switch c.PriceBand {
	case PriceUnder50:
		conds = append(conds, "price < 50")
	case Price50To100:
		conds = append(conds, "price BETWEEN 50 AND 100")
	case PriceOver100:
		conds = append(conds, "price > 100")
	}

	if c.Location != "" {
		conds = append(conds, fmt.Sprintf("location ILIKE '%%' || $%d || '%%'", argIndex))
		args = append(args, escapeLike(c.Location))
		argIndex++
	}

	if c.Delivery != "" {
		conds = append(conds, fmt.Sprintf("delivery = $%d", argIndex))
		args = append(args, string(c.Delivery))
	}

	orderBy := "price ASC, id ASC"
	if c.Descending {
		orderBy = "price DESC, id ASC"
	}

	return repository.ItemQuery{
		Where:   strings.Join(conds, " AND "),
		Args:    args,
		OrderBy: orderBy,
		Limit:   c.PageSize,
		Offset:  c.Offset(),
	}
}

// Matches は商品が条件に一致するかをメモリ上で判定する。
func (c Criteria) Matches(item *model.Item) bool {
	if item.Category != c.Category {
		return false
	}
	if !c.PriceBand.Contains(item.Price) {
		return false
	}
	if c.Location != "" && !strings.Contains(strings.ToLower(item.Location), strings.ToLower(c.Location)) {
		return false
	}
	if c.Delivery != "" && item.Delivery != c.Delivery {
		return false
	}
	return true
}

// Less は並び順でaがbより前になるかを返す。同額の場合はIDの昇順。
func (c Criteria) Less(a, b *model.Item) bool {
	if a.Price != b.Price {
		if c.Descending {
			return a.Price > b.Price
		}
		return a.Price < b.Price
	}
	return a.ID < b.ID
}

// Filter はメモリ上の商品一覧に条件を適用し、並び替えた結果を返す。
// ページングは行わない。
func Filter(items []model.Item, c Criteria) []model.Item {
	out := make([]model.Item, 0, len(items))
	for i := range items {
		if c.Matches(&items[i]) {
			out = append(out, items[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return c.Less(&out[i], &out[j]) })
	return out
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike はLIKEパターンのメタ文字をエスケープする。
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
