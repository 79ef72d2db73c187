package baas

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Query builds one request against the data API. Build it with Client.From,
// chain filters, then call Execute. A Query is not safe for reuse.
type Query struct {
	c      *Client
	table  string
	method string
	params url.Values
	body   any
	prefer []string
	single bool
}

// From starts a query on table.
func (c *Client) From(table string) *Query {
	return &Query{
		c:      c,
		table:  table,
		method: http.MethodGet,
		params: url.Values{},
	}
}

// Select reads columns ("*" for all).
func (q *Query) Select(columns string) *Query {
	q.params.Set("select", columns)
	return q
}

// Insert creates rows (a struct, map or slice of either) and returns the
// stored representation.
func (q *Query) Insert(rows any) *Query {
	q.method = http.MethodPost
	q.body = rows
	q.prefer = append(q.prefer, "return=representation")
	return q
}

// Upsert inserts rows, merging on conflict with the onConflict columns.
func (q *Query) Upsert(rows any, onConflict string) *Query {
	q.Insert(rows)
	q.prefer = append(q.prefer, "resolution=merge-duplicates")
	if onConflict != "" {
		q.params.Set("on_conflict", onConflict)
	}
	return q
}

// Update patches the filtered rows and returns them.
func (q *Query) Update(values any) *Query {
	q.method = http.MethodPatch
	q.body = values
	q.prefer = append(q.prefer, "return=representation")
	return q
}

// Delete removes the filtered rows and returns them.
func (q *Query) Delete() *Query {
	q.method = http.MethodDelete
	q.prefer = append(q.prefer, "return=representation")
	return q
}

func (q *Query) filter(column, op, value string) *Query {
	q.params.Add(column, op+"."+value)
	return q
}

func (q *Query) Eq(column, value string) *Query  { return q.filter(column, "eq", value) }
func (q *Query) Neq(column, value string) *Query { return q.filter(column, "neq", value) }
func (q *Query) Lt(column, value string) *Query  { return q.filter(column, "lt", value) }
func (q *Query) Gte(column, value string) *Query { return q.filter(column, "gte", value) }

// Is matches null, true or false.
func (q *Query) Is(column, value string) *Query { return q.filter(column, "is", value) }

// In matches any of values.
func (q *Query) In(column string, values ...string) *Query {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = strconv.Quote(v)
	}
	return q.filter(column, "in", "("+strings.Join(quoted, ",")+")")
}

// Order appends a sort key. Later calls break ties of earlier ones.
func (q *Query) Order(column string, ascending bool) *Query {
	dir := "desc"
	if ascending {
		dir = "asc"
	}

	key := column + "." + dir
	if prev := q.params.Get("order"); prev != "" {
		key = prev + "," + key
	}
	q.params.Set("order", key)
	return q
}

// Limit caps the number of rows.
func (q *Query) Limit(n int) *Query {
	q.params.Set("limit", strconv.Itoa(n))
	return q
}

// Single expects exactly one row. Zero or several rows fail with CodeNoRows.
func (q *Query) Single() *Query {
	q.single = true
	return q
}

// Execute runs the query as the signed-in user (or anonymously) and decodes
// the result into dest, which may be nil.
func (q *Query) Execute(ctx context.Context, dest any) error {
	if q.table == "" {
		return fmt.Errorf("baas: query without table")
	}

	token, err := q.c.Auth.AccessToken(ctx)
	if err != nil {
		return err
	}

	path := "/rest/v1/" + url.PathEscape(q.table)
	if enc := q.params.Encode(); enc != "" {
		path += "?" + enc
	}

	req, err := q.c.newRequest(ctx, q.method, path, q.body, token)
	if err != nil {
		return err
	}
	if len(q.prefer) > 0 {
		req.Header.Set("Prefer", strings.Join(q.prefer, ","))
	}
	if q.single {
		req.Header.Set("Accept", "application/vnd.pgrst.object+json")
	}

	return q.c.do(req, dest)
}
