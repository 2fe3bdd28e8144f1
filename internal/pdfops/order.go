package pdfops

import (
	"strconv"
	"strings"

	"github.com/local/pdftools/internal/apperr"
)

// ParseOrder parses a comma-separated permutation of 0..n-1, e.g. "2,0,1".
func ParseOrder(s string, n int) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, apperr.Validation("order", "order is required")
	}
	parts := strings.Split(s, ",")
	if len(parts) != n {
		return nil, apperr.Validationf("order", "order lists %d positions for %d images", len(parts), n)
	}

	seen := make([]bool, n)
	order := make([]int, 0, n)
	for _, p := range parts {
		idx, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, apperr.Validationf("order", "invalid position %q", strings.TrimSpace(p))
		}
		if idx < 0 || idx >= n {
			return nil, apperr.Validationf("order", "position %d out of range 0..%d", idx, n-1)
		}
		if seen[idx] {
			return nil, apperr.Validationf("order", "position %d repeated", idx)
		}
		seen[idx] = true
		order = append(order, idx)
	}
	return order, nil
}

// Reorder returns items arranged so that result[i] = items[order[i]].
func Reorder[T any](items []T, order []int) []T {
	out := make([]T, len(order))
	for i, idx := range order {
		out[i] = items[idx]
	}
	return out
}
