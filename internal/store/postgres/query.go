package postgres

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/tradegate/internal/domain"
)

// listQuery accumulates WHERE clauses and positional args for the list
// endpoints.
type listQuery struct {
	base    string
	timeCol string
	where   []string
	args    []any
}

func newListQuery(base, timeCol string) *listQuery {
	return &listQuery{base: base, timeCol: timeCol}
}

func (q *listQuery) arg(v any) string {
	q.args = append(q.args, v)
	return fmt.Sprintf("$%d", len(q.args))
}

func (q *listQuery) eq(col string, v any) *listQuery {
	q.where = append(q.where, col+" = "+q.arg(v))
	return q
}

func (q *listQuery) before(t time.Time) *listQuery {
	q.where = append(q.where, q.timeCol+" < "+q.arg(t))
	return q
}

func (q *listQuery) window(opts domain.ListOpts) *listQuery {
	if opts.Since != nil {
		q.where = append(q.where, q.timeCol+" >= "+q.arg(*opts.Since))
	}
	if opts.Until != nil {
		q.where = append(q.where, q.timeCol+" <= "+q.arg(*opts.Until))
	}
	return q
}

// build renders the query with ordering and paging. asc selects oldest-first.
func (q *listQuery) build(limit, offset int, asc bool) (string, []any) {
	var b strings.Builder
	b.WriteString(q.base)
	if len(q.where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(q.where, " AND "))
	}
	b.WriteString(" ORDER BY ")
	b.WriteString(q.timeCol)
	if asc {
		b.WriteString(" ASC")
	} else {
		b.WriteString(" DESC")
	}
	if limit > 0 {
		b.WriteString(" LIMIT " + q.arg(limit))
	}
	if offset > 0 {
		b.WriteString(" OFFSET " + q.arg(offset))
	}
	return b.String(), q.args
}
