package baastest

import (
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aussiebroadwan/workspace/pkg/baas"
	"github.com/aussiebroadwan/workspace/pkg/jwtx"
)

// reserved query parameters that are not column filters.
var reserved = map[string]bool{
	"select":      true,
	"order":       true,
	"limit":       true,
	"offset":      true,
	"on_conflict": true,
	"columns":     true,
}

type condition struct {
	column string
	op     string
	arg    string
}

func (s *Server) registerRest(mux *http.ServeMux) {
	mux.HandleFunc("/rest/v1/{table}", s.handleRest)
}

// Seed inserts rows into table without going through the API. Missing ids
// and timestamps are filled in.
func (s *Server) Seed(table string, rows ...map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range rows {
		s.tables[table] = append(s.tables[table], s.withDefaults(table, row))
	}
}

// Rows returns a copy of every row in table.
func (s *Server) Rows(table string) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]any, 0, len(s.tables[table]))
	for _, row := range s.tables[table] {
		out = append(out, maps.Clone(row))
	}
	return out
}

// Unique declares columns of table that must hold distinct values.
func (s *Server) Unique(table string, columns ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc := s.schemas[table]
	sc.unique = append(sc.unique, columns...)
	s.schemas[table] = sc
}

func restError(w http.ResponseWriter, status int, code, msg, details string) {
	writeJSON(w, status, map[string]any{"code": code, "message": msg, "details": details, "hint": nil})
}

func (s *Server) handleRest(w http.ResponseWriter, r *http.Request) {
	raw := bearer(r)
	if raw == "" || raw == s.APIKey {
		restError(w, http.StatusUnauthorized, baas.CodeInsufficientPrivilege, "permission denied for table "+r.PathValue("table"), "")
		return
	}
	if _, err := jwtx.VerifyHS256(raw, s.JWTSecret); err != nil {
		restError(w, http.StatusUnauthorized, "PGRST301", "JWT invalid", err.Error())
		return
	}

	table := r.PathValue("table")
	query := r.URL.Query()
	conds, err := parseConditions(query)
	if err != nil {
		restError(w, http.StatusBadRequest, "PGRST100", err.Error(), "")
		return
	}
	prefer := r.Header.Get("Prefer")
	single := strings.Contains(r.Header.Get("Accept"), "vnd.pgrst.object")

	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		result []map[string]any
		status = http.StatusOK
	)

	switch r.Method {
	case http.MethodGet:
		result = s.selectRows(table, conds)
		if err := sortRows(result, query.Get("order")); err != nil {
			restError(w, http.StatusBadRequest, "PGRST100", err.Error(), "")
			return
		}
		if l := query.Get("limit"); l != "" {
			n, err := strconv.Atoi(l)
			if err != nil || n < 0 {
				restError(w, http.StatusBadRequest, "PGRST100", "invalid limit", l)
				return
			}
			if n < len(result) {
				result = result[:n]
			}
		}

	case http.MethodPost:
		rows, err := decodeRows(r)
		if err != nil {
			restError(w, http.StatusBadRequest, "PGRST102", err.Error(), "")
			return
		}
		merge := strings.Contains(prefer, "resolution=merge-duplicates")
		result, err = s.insertRows(table, rows, merge, query.Get("on_conflict"))
		if err != nil {
			restError(w, http.StatusConflict, baas.CodeUniqueViolation, "duplicate key value violates unique constraint", err.Error())
			return
		}
		status = http.StatusCreated

	case http.MethodPatch:
		var patch map[string]any
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			restError(w, http.StatusBadRequest, "PGRST102", err.Error(), "")
			return
		}
		result = s.updateRows(table, conds, patch)

	case http.MethodDelete:
		result = s.deleteRows(table, conds)

	default:
		restError(w, http.StatusMethodNotAllowed, "PGRST117", "unsupported HTTP method", r.Method)
		return
	}

	if !strings.Contains(prefer, "return=representation") && r.Method != http.MethodGet {
		if status == http.StatusOK {
			status = http.StatusNoContent
		}
		w.WriteHeader(status)
		return
	}

	if single {
		if len(result) != 1 {
			restError(w, http.StatusNotAcceptable, baas.CodeNoRows,
				"JSON object requested, multiple (or no) rows returned",
				fmt.Sprintf("The result contains %d rows", len(result)))
			return
		}
		writeJSON(w, status, result[0])
		return
	}
	if result == nil {
		result = []map[string]any{}
	}
	writeJSON(w, status, result)
}

func decodeRows(r *http.Request) ([]map[string]any, error) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		return nil, err
	}

	var rows []map[string]any
	if len(raw) > 0 && raw[0] == '[' {
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, err
		}
		return rows, nil
	}

	var row map[string]any
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, err
	}
	return []map[string]any{row}, nil
}

func parseConditions(q url.Values) ([]condition, error) {
	var conds []condition
	for col, vals := range q {
		if reserved[col] {
			continue
		}
		for _, v := range vals {
			op, arg, ok := strings.Cut(v, ".")
			if !ok {
				return nil, fmt.Errorf("malformed filter %s=%s", col, v)
			}
			switch op {
			case "eq", "neq", "lt", "lte", "gt", "gte", "is", "in":
			default:
				return nil, fmt.Errorf("unsupported operator %q", op)
			}
			conds = append(conds, condition{column: col, op: op, arg: arg})
		}
	}
	return conds, nil
}

// caller must hold s.mu.
func (s *Server) withDefaults(table string, row map[string]any) map[string]any {
	out := maps.Clone(row)
	if out == nil {
		out = make(map[string]any)
	}
	if id, ok := out["id"]; !ok || id == nil {
		out["id"] = uuid.NewString()
	}

	stamp := s.stamp()
	cols := s.schemas[table].timestamps
	if len(cols) == 0 {
		cols = []string{"created_at"}
	}
	for _, col := range cols {
		if v, ok := out[col]; !ok || v == nil {
			out[col] = stamp
		}
	}
	return out
}

// caller must hold s.mu.
func (s *Server) selectRows(table string, conds []condition) []map[string]any {
	var out []map[string]any
	for _, row := range s.tables[table] {
		if matchAll(row, conds) {
			out = append(out, maps.Clone(row))
		}
	}
	return out
}

// caller must hold s.mu.
func (s *Server) insertRows(table string, rows []map[string]any, merge bool, onConflict string) ([]map[string]any, error) {
	unique := s.schemas[table].unique
	if onConflict != "" {
		unique = append(slices.Clone(unique), onConflict)
	}
	if !slices.Contains(unique, "id") {
		unique = append(unique, "id")
	}

	var out []map[string]any
	for _, in := range rows {
		if merge && onConflict != "" {
			if i := s.indexOf(table, onConflict, in[onConflict]); i >= 0 {
				existing := s.tables[table][i]
				maps.Copy(existing, in)
				s.touch(table, existing)
				out = append(out, maps.Clone(existing))
				continue
			}
		}

		for _, col := range unique {
			v, ok := in[col]
			if !ok || v == nil {
				continue
			}
			if s.indexOf(table, col, v) >= 0 {
				return nil, fmt.Errorf("Key (%s)=(%v) already exists.", col, v)
			}
		}

		row := s.withDefaults(table, in)
		s.tables[table] = append(s.tables[table], row)
		out = append(out, maps.Clone(row))
	}
	return out, nil
}

// caller must hold s.mu.
func (s *Server) updateRows(table string, conds []condition, patch map[string]any) []map[string]any {
	var out []map[string]any
	for _, row := range s.tables[table] {
		if !matchAll(row, conds) {
			continue
		}
		maps.Copy(row, patch)
		if _, explicit := patch["updated_at"]; !explicit {
			s.touch(table, row)
		}
		out = append(out, maps.Clone(row))
	}
	return out
}

// caller must hold s.mu.
func (s *Server) deleteRows(table string, conds []condition) []map[string]any {
	var removed []map[string]any
	kept := s.tables[table][:0]
	for _, row := range s.tables[table] {
		if matchAll(row, conds) {
			removed = append(removed, row)
			continue
		}
		kept = append(kept, row)
	}
	s.tables[table] = kept
	return removed
}

// touch bumps updated_at on tables that track it. caller must hold s.mu.
func (s *Server) touch(table string, row map[string]any) {
	if slices.Contains(s.schemas[table].timestamps, "updated_at") {
		row["updated_at"] = s.stamp()
	}
}

// caller must hold s.mu.
func (s *Server) indexOf(table, col string, v any) int {
	want := stringify(v)
	for i, row := range s.tables[table] {
		if got, ok := row[col]; ok && got != nil && stringify(got) == want {
			return i
		}
	}
	return -1
}

func matchAll(row map[string]any, conds []condition) bool {
	for _, c := range conds {
		if !match(row[c.column], c.op, c.arg) {
			return false
		}
	}
	return true
}

func match(v any, op, arg string) bool {
	switch op {
	case "is":
		switch arg {
		case "null":
			return v == nil
		case "true", "false":
			return v != nil && stringify(v) == arg
		}
		return false
	case "in":
		if v == nil {
			return false
		}
		return slices.Contains(parseList(arg), stringify(v))
	}

	if v == nil {
		return false
	}
	cmp := compareArg(v, arg)
	switch op {
	case "eq":
		return cmp == 0
	case "neq":
		return cmp != 0
	case "lt":
		return cmp < 0
	case "lte":
		return cmp <= 0
	case "gt":
		return cmp > 0
	case "gte":
		return cmp >= 0
	}
	return false
}

// parseList splits `(a,"b c",d)` into its items.
func parseList(arg string) []string {
	arg = strings.TrimSuffix(strings.TrimPrefix(arg, "("), ")")
	if arg == "" {
		return nil
	}

	var (
		items []string
		cur   strings.Builder
		quote bool
	)
	for i := 0; i < len(arg); i++ {
		ch := arg[i]
		switch {
		case ch == '\\' && quote && i+1 < len(arg):
			i++
			cur.WriteByte(arg[i])
		case ch == '"':
			quote = !quote
		case ch == ',' && !quote:
			items = append(items, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(ch)
		}
	}
	return append(items, cur.String())
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		b, _ := json.Marshal(x)
		return string(b)
	}
}

// compareArg compares a stored value with a filter argument, numerically or
// chronologically when both sides allow it.
func compareArg(v any, arg string) int {
	if f, ok := v.(float64); ok {
		if g, err := strconv.ParseFloat(arg, 64); err == nil {
			return cmpFloat(f, g)
		}
	}
	s := stringify(v)
	if a, err := time.Parse(time.RFC3339Nano, s); err == nil {
		if b, err := time.Parse(time.RFC3339Nano, arg); err == nil {
			return a.Compare(b)
		}
	}
	return strings.Compare(s, arg)
}

func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1 // nulls last
	case b == nil:
		return -1
	}
	if fa, ok := a.(float64); ok {
		if fb, ok := b.(float64); ok {
			return cmpFloat(fa, fb)
		}
	}
	return compareArg(a, stringify(b))
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func sortRows(rows []map[string]any, order string) error {
	if order == "" {
		return nil
	}

	type key struct {
		col  string
		desc bool
	}
	var keys []key
	for _, part := range strings.Split(order, ",") {
		fields := strings.Split(part, ".")
		k := key{col: fields[0]}
		for _, mod := range fields[1:] {
			switch mod {
			case "asc", "nullslast", "nullsfirst":
			case "desc":
				k.desc = true
			default:
				return fmt.Errorf("invalid order modifier %q", mod)
			}
		}
		keys = append(keys, k)
	}

	slices.SortStableFunc(rows, func(a, b map[string]any) int {
		for _, k := range keys {
			c := compareValues(a[k.col], b[k.col])
			if c == 0 {
				continue
			}
			if k.desc && a[k.col] != nil && b[k.col] != nil {
				return -c
			}
			return c
		}
		return 0
	})
	return nil
}
