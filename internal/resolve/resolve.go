// Package resolve maps a textual subject reference onto a concrete lead.
package resolve

import (
	"strings"

	"dealdesk/internal/domain"
)

// Lead finds the lead whose name or company contains fragment,
// case-insensitively. When several match, the first in insertion order
// wins; this is a deliberate deterministic policy, not a ranking. An empty
// fragment matches nothing.
func Lead(fragment string, leads []domain.Lead) (domain.Lead, bool) {
	needle := strings.ToLower(strings.TrimSpace(fragment))
	if needle == "" {
		return domain.Lead{}, false
	}
	for _, l := range leads {
		if strings.Contains(strings.ToLower(l.Name), needle) || strings.Contains(strings.ToLower(l.Company), needle) {
			return l, true
		}
	}
	return domain.Lead{}, false
}
