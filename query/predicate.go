// Package query implements LynxDB's predicate compiler and matcher, the
// MongoDB-style query DSL every read path compiles a filter with. It exposes
// exactly the two pure functions the transactional core consumes,
// Compile(query) and Match(record, compiled).
package query

import (
	"fmt"
	"regexp"
	"strings"

	"lynxdb/record"
)

// Query is a raw, uncompiled MongoDB-style query document.
type Query = record.Record

// Compiled is the predicate tree produced by Compile; opaque to callers.
type Compiled struct {
	expr expr
}

type expr interface {
	eval(rec record.Record) bool
}

// Compile turns a Query document into a Compiled predicate tree. A nil or
// empty query matches every record.
func Compile(q Query) (*Compiled, error) {
	e, err := compileDoc(q)
	if err != nil {
		return nil, err
	}
	return &Compiled{expr: e}, nil
}

// Match evaluates a compiled predicate against rec. A nil Compiled matches
// everything (used by BaseTable/TransactionTable scans with no filter).
func Match(rec record.Record, c *Compiled) bool {
	if c == nil || c.expr == nil {
		return true
	}
	return c.expr.eval(rec)
}

// andExpr/orExpr/notExpr implement the logical operators; fieldExpr implements
// a per-field set of comparison operators.

type andExpr struct{ subs []expr }

func (e *andExpr) eval(rec record.Record) bool {
	for _, s := range e.subs {
		if !s.eval(rec) {
			return false
		}
	}
	return true
}

type orExpr struct{ subs []expr }

func (e *orExpr) eval(rec record.Record) bool {
	for _, s := range e.subs {
		if s.eval(rec) {
			return true
		}
	}
	return false
}

type notExpr struct{ sub expr }

func (e *notExpr) eval(rec record.Record) bool { return !e.sub.eval(rec) }

type fieldExpr struct {
	field string
	ops   []fieldOp
}

type fieldOp struct {
	kind  string
	value interface{}
}

func (e *fieldExpr) eval(rec record.Record) bool {
	fv := rec[e.field]
	for _, op := range e.ops {
		if !evalOp(op.kind, fv, op.value) {
			return false
		}
	}
	return true
}

func compileDoc(q Query) (expr, error) {
	if len(q) == 0 {
		return &andExpr{}, nil
	}
	subs := make([]expr, 0, len(q))
	for key, val := range q {
		switch key {
		case "$and":
			e, err := compileLogicalArray(val)
			if err != nil {
				return nil, err
			}
			subs = append(subs, &andExpr{subs: e})
		case "$or":
			e, err := compileLogicalArray(val)
			if err != nil {
				return nil, err
			}
			subs = append(subs, &orExpr{subs: e})
		case "$not":
			sub, ok := val.(record.Record)
			if !ok {
				if m, ok2 := val.(map[string]interface{}); ok2 {
					sub = record.Record(m)
				} else {
					return nil, fmt.Errorf("query: $not requires a sub-query document, got %T", val)
				}
			}
			se, err := compileDoc(sub)
			if err != nil {
				return nil, err
			}
			subs = append(subs, &notExpr{sub: se})
		default:
			fe, err := compileField(key, val)
			if err != nil {
				return nil, err
			}
			subs = append(subs, fe)
		}
	}
	if len(subs) == 1 {
		return subs[0], nil
	}
	return &andExpr{subs: subs}, nil
}

func compileLogicalArray(val interface{}) ([]expr, error) {
	arr, ok := val.([]interface{})
	if !ok {
		return nil, fmt.Errorf("query: logical operator requires an array, got %T", val)
	}
	out := make([]expr, 0, len(arr))
	for _, item := range arr {
		doc, ok := item.(record.Record)
		if !ok {
			if m, ok2 := item.(map[string]interface{}); ok2 {
				doc = record.Record(m)
			} else {
				return nil, fmt.Errorf("query: logical operator array must contain documents, got %T", item)
			}
		}
		e, err := compileDoc(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func compileField(field string, val interface{}) (*fieldExpr, error) {
	fe := &fieldExpr{field: field}
	condDoc, isOpDoc := asOperatorDoc(val)
	if !isOpDoc {
		fe.ops = []fieldOp{{kind: "$eq", value: val}}
		return fe, nil
	}
	for opName, opVal := range condDoc {
		switch opName {
		case "$eq", "$ne", "$gt", "$gte", "$lt", "$lte", "$in", "$nin", "$like", "$includes":
			fe.ops = append(fe.ops, fieldOp{kind: opName, value: opVal})
		default:
			return nil, fmt.Errorf("query: unknown operator %q", opName)
		}
	}
	return fe, nil
}

// asOperatorDoc reports whether val is a document whose keys are all
// "$"-prefixed comparison operators (as opposed to a bare value, or a nested
// document compared with structural $eq).
func asOperatorDoc(val interface{}) (record.Record, bool) {
	var doc record.Record
	switch t := val.(type) {
	case record.Record:
		doc = t
	case map[string]interface{}:
		doc = record.Record(t)
	default:
		return nil, false
	}
	if len(doc) == 0 {
		return nil, false
	}
	for k := range doc {
		if !strings.HasPrefix(k, "$") {
			return nil, false
		}
	}
	return doc, true
}

func evalOp(kind string, fv, ov interface{}) bool {
	switch kind {
	case "$eq":
		return record.DeepEqual(fv, ov)
	case "$ne":
		return !record.DeepEqual(fv, ov)
	case "$gt":
		c, ok := compareOrdered(fv, ov)
		return ok && c > 0
	case "$gte":
		c, ok := compareOrdered(fv, ov)
		return ok && c >= 0
	case "$lt":
		c, ok := compareOrdered(fv, ov)
		return ok && c < 0
	case "$lte":
		c, ok := compareOrdered(fv, ov)
		return ok && c <= 0
	case "$in":
		return inSet(fv, ov)
	case "$nin":
		return !inSet(fv, ov)
	case "$like":
		pattern, ok := ov.(string)
		if !ok {
			return false
		}
		s, ok := fv.(string)
		if !ok {
			return false
		}
		return likeMatch(s, pattern)
	case "$includes":
		return includesAll(fv, ov)
	default:
		return false
	}
}

// compareOrdered compares two values as numbers if both are numeric, else as
// strings; ok is false when the values aren't order-comparable.
func compareOrdered(a, b interface{}) (int, bool) {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs), true
	}
	return 0, false
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint32:
		return float64(t), true
	case uint64:
		return float64(t), true
	default:
		return 0, false
	}
}

func inSet(fv, ov interface{}) bool {
	arr, ok := ov.([]interface{})
	if !ok {
		return false
	}
	for _, item := range arr {
		if record.DeepEqual(fv, item) {
			return true
		}
	}
	return false
}

func includesAll(fv, ov interface{}) bool {
	needles, ok := ov.([]interface{})
	if !ok {
		return false
	}
	hay, ok := fv.([]interface{})
	if !ok {
		return false
	}
	for _, n := range needles {
		found := false
		for _, h := range hay {
			if record.DeepEqual(n, h) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// likeMatch implements SQL-style $like: % matches any run of characters, _
// matches exactly one, case-insensitive.
func likeMatch(s, pattern string) bool {
	var b strings.Builder
	b.WriteString("(?is)^")
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return false
	}
	return re.MatchString(s)
}
