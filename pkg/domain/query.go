package domain

import "fmt"

// FilterField names an experiment attribute that can be filtered on.
type FilterField string

const (
	FilterName         FilterField = "name"
	FilterDescription  FilterField = "description"
	FilterIdentityType FilterField = "identity_type"
	FilterActive       FilterField = "active"
)

// SortField names an experiment attribute results can be ordered by.
type SortField string

const (
	SortName         SortField = "name"
	SortActive       SortField = "active"
	SortIdentityType SortField = "identity_type"
	SortCreated      SortField = "created"
)

// SortDirection is the direction of a single ordering key.
type SortDirection int

const (
	Ascending SortDirection = iota
	Descending
)

func (d SortDirection) String() string {
	if d == Descending {
		return "descending"
	}
	return "ascending"
}

// Filter restricts results to experiments whose Field matches Value. String
// fields match case-insensitively by substring; active matches a bool.
type Filter struct {
	Field FilterField
	Value any
}

// Ordering is one key of a multi-key sort.
type Ordering struct {
	Field     SortField
	Direction SortDirection
}

// Query holds pagination, ordering and filter criteria. The zero Query matches
// every experiment in store order.
type Query struct {
	offset    int
	hasOffset bool
	limit     int
	hasLimit  bool
	orderings []Ordering
	filters   []Filter
}

// AllExperiments is the empty query.
var AllExperiments = Query{}

// Offset returns the number of raw rows to skip, if set.
func (q Query) Offset() (int, bool) { return q.offset, q.hasOffset }

// Limit returns the maximum number of matches to collect, if set.
func (q Query) Limit() (int, bool) { return q.limit, q.hasLimit }

// Orderings returns a copy of the sort keys in precedence order.
func (q Query) Orderings() []Ordering { return append([]Ordering(nil), q.orderings...) }

// Filters returns a copy of the filters.
func (q Query) Filters() []Filter { return append([]Filter(nil), q.filters...) }

// Validate reports malformed criteria. Stores call it before executing.
func (q Query) Validate() error {
	if q.hasOffset && q.offset < 0 {
		return &QueryError{Field: "offset", Reason: fmt.Sprintf("must not be negative, got %d", q.offset)}
	}
	if q.hasLimit && q.limit <= 0 {
		return &QueryError{Field: "limit", Reason: fmt.Sprintf("must be positive, got %d", q.limit)}
	}
	for _, o := range q.orderings {
		switch o.Field {
		case SortName, SortActive, SortIdentityType, SortCreated:
		default:
			return &QueryError{Field: "sort", Reason: fmt.Sprintf("unknown field %q", o.Field)}
		}
		if o.Direction != Ascending && o.Direction != Descending {
			return &QueryError{Field: "sort", Reason: fmt.Sprintf("unknown direction %d", o.Direction)}
		}
	}
	for _, f := range q.filters {
		switch f.Field {
		case FilterName, FilterDescription, FilterIdentityType, FilterActive:
		default:
			return &QueryError{Field: "filter", Reason: fmt.Sprintf("unknown field %q", f.Field)}
		}
	}
	return nil
}

// QueryBuilder accumulates criteria. Errors are deferred to Build.
type QueryBuilder struct {
	q   Query
	err error
}

// NewQuery starts a query.
func NewQuery() *QueryBuilder {
	return &QueryBuilder{}
}

// Offset skips the first n stored experiments, counted before filtering.
func (b *QueryBuilder) Offset(n int) *QueryBuilder {
	if b.q.hasOffset && b.q.offset != n {
		b.fail(&QueryError{Field: "offset", Reason: fmt.Sprintf("conflicting values %d and %d", b.q.offset, n)})
	}
	b.q.offset, b.q.hasOffset = n, true
	return b
}

// Limit stops collection after n matches.
func (b *QueryBuilder) Limit(n int) *QueryBuilder {
	if b.q.hasLimit && b.q.limit != n {
		b.fail(&QueryError{Field: "limit", Reason: fmt.Sprintf("conflicting values %d and %d", b.q.limit, n)})
	}
	b.q.limit, b.q.hasLimit = n, true
	return b
}

// OrderBy appends a sort key.
func (b *QueryBuilder) OrderBy(field SortField, dir SortDirection) *QueryBuilder {
	b.q.orderings = append(b.q.orderings, Ordering{Field: field, Direction: dir})
	return b
}

// Filter adds a filter. The value type must fit the field: bool for active,
// string for everything else.
func (b *QueryBuilder) Filter(field FilterField, value any) *QueryBuilder {
	switch field {
	case FilterActive:
		if _, ok := value.(bool); !ok {
			b.fail(&QueryError{Field: string(field), Reason: fmt.Sprintf("expected bool, got %T", value)})
		}
	case FilterName, FilterDescription, FilterIdentityType:
		if _, ok := value.(string); !ok {
			b.fail(&QueryError{Field: string(field), Reason: fmt.Sprintf("expected string, got %T", value)})
		}
	}
	b.q.filters = append(b.q.filters, Filter{Field: field, Value: value})
	return b
}

// Build returns the immutable query or the first error encountered.
func (b *QueryBuilder) Build() (Query, error) {
	if b.err != nil {
		return Query{}, b.err
	}
	q := b.q
	q.orderings = append([]Ordering(nil), b.q.orderings...)
	q.filters = append([]Filter(nil), b.q.filters...)
	if err := q.Validate(); err != nil {
		return Query{}, err
	}
	return q, nil
}

// MustBuild is Build for statically known criteria; it panics on error.
func (b *QueryBuilder) MustBuild() Query {
	q, err := b.Build()
	if err != nil {
		panic(err)
	}
	return q
}

func (b *QueryBuilder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}
