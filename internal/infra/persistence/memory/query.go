package memory

import (
	"sort"
	"strings"

	"alchemy/pkg/domain"
)

// Execute applies the query to rows given in store base order and returns deep
// copies of the results. The offset skips raw rows before any filter runs; the
// limit caps the number of matches collected. Orderings are applied to the
// collected matches with a stable multi-key sort.
func Execute(query domain.Query, rows []domain.Experiment) ([]domain.Experiment, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}
	start := 0
	if off, ok := query.Offset(); ok {
		start = off
	}
	if start > len(rows) {
		start = len(rows)
	}
	limit, hasLimit := query.Limit()
	filters := query.Filters()

	out := make([]domain.Experiment, 0)
	for _, row := range rows[start:] {
		if hasLimit && len(out) >= limit {
			break
		}
		if !matchesAll(filters, row) {
			continue
		}
		out = append(out, row.Clone())
	}

	if orderings := query.Orderings(); len(orderings) > 0 {
		sort.SliceStable(out, func(i, j int) bool {
			return less(orderings, out[i], out[j])
		})
	}
	return out, nil
}

func matchesAll(filters []domain.Filter, e domain.Experiment) bool {
	for _, f := range filters {
		if !matches(f, e) {
			return false
		}
	}
	return true
}

func matches(f domain.Filter, e domain.Experiment) bool {
	switch f.Field {
	case domain.FilterActive:
		v, ok := f.Value.(bool)
		return ok && e.Active == v
	case domain.FilterName:
		return containsFold(e.Name, f.Value)
	case domain.FilterDescription:
		return containsFold(e.Description, f.Value)
	case domain.FilterIdentityType:
		return containsFold(e.IdentityType, f.Value)
	default:
		return false
	}
}

func containsFold(field string, value any) bool {
	v, ok := value.(string)
	if !ok {
		return false
	}
	return strings.Contains(strings.ToLower(field), strings.ToLower(v))
}

func less(orderings []domain.Ordering, a, b domain.Experiment) bool {
	for _, o := range orderings {
		c := compare(o.Field, a, b)
		if c == 0 {
			continue
		}
		if o.Direction == domain.Descending {
			c = -c
		}
		return c < 0
	}
	return false
}

func compare(field domain.SortField, a, b domain.Experiment) int {
	switch field {
	case domain.SortName:
		return strings.Compare(a.Name, b.Name)
	case domain.SortIdentityType:
		return strings.Compare(a.IdentityType, b.IdentityType)
	case domain.SortCreated:
		return a.Created.Compare(b.Created)
	case domain.SortActive:
		// reversed: ascending lists active experiments first
		return compareBool(b.Active, a.Active)
	default:
		return 0
	}
}

func compareBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	default:
		return 1
	}
}
