package checkout

import (
	"fmt"
	"strings"
)

const (
	reasonNotFound          = "product not found"
	reasonInactive          = "product no longer available"
	reasonInsufficientStock = "insufficient stock"
)

type StockIssue struct {
	ProductID int64  `json:"product_id"`
	Name      string `json:"name,omitempty"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
	Reason    string `json:"reason"`
}

func (i StockIssue) String() string {
	if i.Reason == reasonInsufficientStock {
		return fmt.Sprintf("%s for product %d (%s): available %d, requested %d",
			i.Reason, i.ProductID, i.Name, i.Available, i.Requested)
	}
	return fmt.Sprintf("%s: product %d", i.Reason, i.ProductID)
}

// StockUnavailableError aggregates every offending cart line instead of
// failing on the first one, so the caller sees the full picture at once.
type StockUnavailableError struct {
	Issues []StockIssue
}

func (e *StockUnavailableError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		parts = append(parts, issue.String())
	}
	return "stock validation failed: " + strings.Join(parts, "; ")
}
