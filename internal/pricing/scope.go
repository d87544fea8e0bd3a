package pricing

import (
	"slices"
	"strings"

	"marketplace/backend/internal/domain"
)

// ScopeMatches reports whether product falls inside scope. An empty kind is
// treated as ScopeAll.
func ScopeMatches(scope domain.Scope, product domain.Product) bool {
	switch scope.Kind {
	case domain.ScopeAll, "":
		return true
	case domain.ScopeCategory:
		return scope.ID != "" && product.CategoryID == scope.ID
	case domain.ScopeBrand:
		return scope.ID != "" && product.BrandID == scope.ID
	case domain.ScopeTag:
		return scope.ID != "" && slices.Contains(product.TagIDs, scope.ID)
	default:
		return false
	}
}

func ValidateScope(scope domain.Scope) error {
	switch scope.Kind {
	case domain.ScopeAll, "":
		if strings.TrimSpace(scope.ID) != "" {
			return domain.ErrInvalidInput.Withf("scope all takes no id")
		}
		return nil
	case domain.ScopeCategory, domain.ScopeBrand, domain.ScopeTag:
		if strings.TrimSpace(scope.ID) == "" {
			return domain.ErrInvalidInput.Withf("scope %s requires an id", scope.Kind)
		}
		return nil
	default:
		return domain.ErrInvalidInput.Withf("unknown scope type %q", scope.Kind)
	}
}
