package pricing

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"marketplace/backend/internal/domain"
)

// MarkupResult is the outcome of resolving a base price against a template.
// MatchedRange is nil when no range applied.
type MarkupResult struct {
	BasePrice    decimal.Decimal     `json:"base_price"`
	DisplayPrice decimal.Decimal     `json:"display_price"`
	MarkupAmount decimal.Decimal     `json:"markup_amount"`
	MatchedRange *domain.MarkupRange `json:"matched_range,omitempty"`
}

type IssueKind string

const (
	IssueOverlap IssueKind = "overlap"
	IssueGap     IssueKind = "gap"
)

// RangeIssue points at two ranges by their position in the submitted list.
type RangeIssue struct {
	Kind   IssueKind `json:"kind"`
	First  int       `json:"first"`
	Second int       `json:"second"`
	Detail string    `json:"detail"`
}

// Resolve returns the display price for basePrice under template. The first
// range, in ascending MinPrice order, whose bounds contain the price wins.
func Resolve(basePrice decimal.Decimal, template *domain.MarkupTemplate) MarkupResult {
	result := MarkupResult{
		BasePrice:    basePrice,
		DisplayPrice: basePrice,
		MarkupAmount: decimal.Zero,
	}
	if template == nil {
		return result
	}

	for _, idx := range sortedRangeIndexes(template.Ranges) {
		candidate := template.Ranges[idx]
		if !rangeContains(candidate, basePrice) {
			continue
		}
		markup := MarkupAmount(candidate, basePrice)
		result.MarkupAmount = markup
		result.DisplayPrice = basePrice.Add(markup)
		result.MatchedRange = &candidate
		return result
	}
	return result
}

// Preview resolves every price against the same template. Both the authoring
// preview and order pricing go through Resolve, so they cannot disagree.
func Preview(template *domain.MarkupTemplate, prices []decimal.Decimal) []MarkupResult {
	results := make([]MarkupResult, 0, len(prices))
	for _, price := range prices {
		results = append(results, Resolve(price, template))
	}
	return results
}

// MarkupAmount returns what a single range adds on top of basePrice.
func MarkupAmount(markupRange domain.MarkupRange, basePrice decimal.Decimal) decimal.Decimal {
	switch markupRange.Mode {
	case domain.MarkupModeFixed:
		return markupRange.Value
	case domain.MarkupModePercentage:
		return RoundCurrency(basePrice.Mul(markupRange.Value).Div(hundred))
	default:
		return decimal.Zero
	}
}

// ValidateRanges checks each range on its own and then every adjacent pair in
// MinPrice order. Overlaps fail validation; gaps are only reported.
func ValidateRanges(ranges []domain.MarkupRange) ([]RangeIssue, error) {
	if len(ranges) == 0 {
		return nil, domain.ErrInvalidRange.Withf("template needs at least one range")
	}
	for i, r := range ranges {
		if err := validateRange(i, r); err != nil {
			return nil, err
		}
	}

	order := sortedRangeIndexes(ranges)
	issues := make([]RangeIssue, 0)
	overlaps := make([]string, 0)
	for pos := 0; pos+1 < len(order); pos++ {
		currentIdx, nextIdx := order[pos], order[pos+1]
		current, next := ranges[currentIdx], ranges[nextIdx]

		if current.MaxPrice == nil {
			detail := fmt.Sprintf("range %d has no upper bound but range %d starts at %s", currentIdx, nextIdx, next.MinPrice)
			issues = append(issues, RangeIssue{Kind: IssueOverlap, First: currentIdx, Second: nextIdx, Detail: detail})
			overlaps = append(overlaps, detail)
			continue
		}

		switch {
		case current.MaxPrice.GreaterThan(next.MinPrice):
			detail := fmt.Sprintf("range %d ends at %s after range %d starts at %s", currentIdx, current.MaxPrice, nextIdx, next.MinPrice)
			issues = append(issues, RangeIssue{Kind: IssueOverlap, First: currentIdx, Second: nextIdx, Detail: detail})
			overlaps = append(overlaps, detail)
		case current.MaxPrice.LessThan(next.MinPrice.Sub(MinorUnit)):
			detail := fmt.Sprintf("prices between %s and %s match no range", current.MaxPrice, next.MinPrice)
			issues = append(issues, RangeIssue{Kind: IssueGap, First: currentIdx, Second: nextIdx, Detail: detail})
		}
	}

	if len(overlaps) > 0 {
		return issues, domain.ErrOverlappingRanges.Withf("%s", strings.Join(overlaps, "; "))
	}
	return issues, nil
}

func validateRange(idx int, r domain.MarkupRange) error {
	if r.MinPrice.IsNegative() {
		return domain.ErrInvalidRange.Withf("range %d: min_price must not be negative", idx)
	}
	if r.MaxPrice != nil && r.MaxPrice.LessThan(r.MinPrice) {
		return domain.ErrInvalidRange.Withf("range %d: max_price %s is below min_price %s", idx, r.MaxPrice, r.MinPrice)
	}
	if r.Value.IsNegative() {
		return domain.ErrInvalidRange.Withf("range %d: value must not be negative", idx)
	}
	if r.Mode != domain.MarkupModeFixed && r.Mode != domain.MarkupModePercentage {
		return domain.ErrInvalidRange.Withf("range %d: unknown mode %q", idx, r.Mode)
	}
	return nil
}

func rangeContains(r domain.MarkupRange, price decimal.Decimal) bool {
	if price.LessThan(r.MinPrice) {
		return false
	}
	return r.MaxPrice == nil || price.LessThanOrEqual(*r.MaxPrice)
}

func sortedRangeIndexes(ranges []domain.MarkupRange) []int {
	order := make([]int, len(ranges))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return ranges[order[i]].MinPrice.LessThan(ranges[order[j]].MinPrice)
	})
	return order
}
