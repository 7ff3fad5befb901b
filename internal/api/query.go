package api

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"alchemy/pkg/domain"
)

const (
	paramOffset = "offset"
	paramLimit  = "limit"
	paramSort   = "sort"
)

var filterFields = map[string]domain.FilterField{
	"name":          domain.FilterName,
	"description":   domain.FilterDescription,
	"identity_type": domain.FilterIdentityType,
	"active":        domain.FilterActive,
}

var sortFields = map[string]domain.SortField{
	"name":          domain.SortName,
	"active":        domain.SortActive,
	"identity_type": domain.SortIdentityType,
	"created":       domain.SortCreated,
}

// ParseQuery builds a query from URL parameters. sort is a comma separated
// list of fields, each optionally prefixed with '-' for descending; unknown
// sort fields are skipped. Every other parameter must name a filter field and
// no parameter may repeat.
func ParseQuery(values url.Values) (domain.Query, error) {
	b := domain.NewQuery()
	for key, vals := range values {
		if len(vals) > 1 {
			return domain.Query{}, &domain.QueryError{Field: key, Reason: "may only be specified once"}
		}
		value := vals[0]
		switch key {
		case paramOffset, paramLimit:
			n, err := strconv.Atoi(value)
			if err != nil {
				return domain.Query{}, &domain.QueryError{Field: key, Reason: fmt.Sprintf("not an integer: %q", value)}
			}
			if key == paramOffset {
				b.Offset(n)
			} else {
				b.Limit(n)
			}
		case paramSort:
		default:
			field, ok := filterFields[key]
			if !ok {
				return domain.Query{}, &domain.QueryError{Field: key, Reason: "unknown filter"}
			}
			if field == domain.FilterActive {
				b.Filter(field, strings.EqualFold(value, "true"))
			} else {
				b.Filter(field, value)
			}
		}
	}
	// orderings are precedence ordered, so they come from the one sort value
	// rather than map iteration
	for _, column := range strings.Split(values.Get(paramSort), ",") {
		if column == "" {
			continue
		}
		dir := domain.Ascending
		if name, ok := strings.CutPrefix(column, "-"); ok {
			column, dir = name, domain.Descending
		}
		if field, ok := sortFields[column]; ok {
			b.OrderBy(field, dir)
		}
	}
	return b.Build()
}
