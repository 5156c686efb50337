package store

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// Op is a predicate operator.
type Op string

const (
	// OpEq matches values equal to the predicate value.
	OpEq Op = "eq"
	// OpContains is a substring test on strings and a membership test on lists.
	OpContains Op = "contains"
	// OpGte matches values greater than or equal to the predicate value.
	OpGte Op = "gte"
	// OpLte matches values less than or equal to the predicate value.
	OpLte Op = "lte"
	// OpIsNull matches absent attributes when the value is true, present ones otherwise.
	OpIsNull Op = "isnull"
)

func (o Op) valid() bool {
	switch o {
	case OpEq, OpContains, OpGte, OpLte, OpIsNull:
		return true
	}
	return false
}

// Predicate is one condition on a field. Predicates in a Query are ANDed.
type Predicate struct {
	Field string
	Op    Op
	Value any
}

// String formats the predicate as "field op value".
func (p Predicate) String() string {
	return fmt.Sprintf("%s %s %v", p.Field, p.Op, p.Value)
}

// Eq returns an equality predicate.
func Eq(field string, value any) Predicate { return Predicate{Field: field, Op: OpEq, Value: value} }

// Contains returns a substring (or list membership) predicate.
func Contains(field string, value any) Predicate {
	return Predicate{Field: field, Op: OpContains, Value: value}
}

// Gte returns a "greater than or equal" predicate.
func Gte(field string, value any) Predicate { return Predicate{Field: field, Op: OpGte, Value: value} }

// Lte returns a "less than or equal" predicate.
func Lte(field string, value any) Predicate { return Predicate{Field: field, Op: OpLte, Value: value} }

// IsNull returns a predicate matching absent (null=true) or present (null=false) values.
func IsNull(field string, null bool) Predicate {
	return Predicate{Field: field, Op: OpIsNull, Value: null}
}

// Query is a conjunction of predicates with optional ordering and limit.
type Query struct {
	Predicates []Predicate

	// OrderBy names the sort field. Empty means store order.
	OrderBy string
	Desc    bool

	// Limit caps the number of records returned. Zero means no limit.
	Limit int
}

// Where returns a query for the given predicates.
func Where(preds ...Predicate) Query {
	return Query{Predicates: preds}
}

// ParseQuery converts boundary parameters such as "title__contains=go" or
// "view_count__gte=3" into a typed Query. The keys "order_by" (prefix "-" for
// descending) and "limit" are reserved.
func ParseQuery(m *Model, params map[string][]string) (Query, error) {
	var q Query
	for _, key := range sortedKeys(params) {
		values := params[key]
		if len(values) == 0 {
			continue
		}
		raw := values[len(values)-1]

		switch key {
		case "order_by":
			field := strings.TrimPrefix(raw, "-")
			if field != PKAttr {
				if _, ok := m.Field(field); !ok {
					return Query{}, invalid(m.Name, field, "unknown order_by field")
				}
			}
			q.OrderBy, q.Desc = field, strings.HasPrefix(raw, "-")
			continue
		case "limit":
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				return Query{}, invalid(m.Name, "", "limit must be a non-negative integer")
			}
			q.Limit = n
			continue
		}

		field, op := key, OpEq
		if i := strings.LastIndex(key, "__"); i >= 0 {
			field, op = key[:i], Op(key[i+2:])
		}
		p, err := typedPredicate(m, field, op, raw)
		if err != nil {
			return Query{}, err
		}
		q.Predicates = append(q.Predicates, p)
	}
	return q, nil
}

func typedPredicate(m *Model, field string, op Op, raw string) (Predicate, error) {
	if !op.valid() {
		return Predicate{}, invalid(m.Name, field, "unsupported lookup %q", op)
	}
	if field == PKAttr {
		return Predicate{Field: field, Op: op, Value: raw}, nil
	}
	f, ok := m.Field(field)
	if !ok {
		return Predicate{}, invalid(m.Name, field, "unknown field")
	}
	if op == OpIsNull {
		b, err := cast.ToBoolE(raw)
		if err != nil {
			return Predicate{}, invalid(m.Name, field, "isnull expects a boolean")
		}
		return IsNull(field, b), nil
	}
	if op == OpContains && f.Type == List {
		return Predicate{Field: field, Op: op, Value: raw}, nil
	}
	if op == OpContains && f.Type != String && f.Type != Reference {
		return Predicate{}, invalid(m.Name, field, "contains needs a string or list field")
	}
	v, err := f.Coerce(raw)
	if err != nil {
		return Predicate{}, withModel(err, m.Name)
	}
	return Predicate{Field: field, Op: op, Value: v}, nil
}

// validate checks that every predicate names a known field and carries a
// value of the field's type. It returns the normalized predicates.
func (q Query) validate(m *Model) ([]Predicate, error) {
	if q.Limit < 0 {
		return nil, invalid(m.Name, "", "limit must not be negative")
	}
	if q.OrderBy != "" && q.OrderBy != PKAttr {
		if _, ok := m.Field(q.OrderBy); !ok {
			return nil, invalid(m.Name, q.OrderBy, "unknown order_by field")
		}
	}
	out := make([]Predicate, 0, len(q.Predicates))
	for _, p := range q.Predicates {
		if !p.Op.valid() {
			return nil, invalid(m.Name, p.Field, "unsupported lookup %q", p.Op)
		}
		if p.Field != PKAttr {
			if _, ok := m.Field(p.Field); !ok {
				return nil, invalid(m.Name, p.Field, "unknown field")
			}
		}
		if p.Op == OpIsNull {
			b, err := cast.ToBoolE(p.Value)
			if err != nil {
				return nil, invalid(m.Name, p.Field, "isnull expects a boolean")
			}
			p.Value = b
			out = append(out, p)
			continue
		}
		if p.Field == PKAttr {
			s, err := cast.ToStringE(p.Value)
			if err != nil {
				return nil, invalid(m.Name, PKAttr, "expected string")
			}
			p.Value = s
			out = append(out, p)
			continue
		}
		f, _ := m.Field(p.Field)
		switch {
		case p.Op == OpContains && f.Type == List:
		case p.Op == OpContains && f.Type != String && f.Type != Reference:
			return nil, invalid(m.Name, p.Field, "contains needs a string or list field")
		default:
			f.Nullable = false
			f.MaxLength = 0
			v, err := f.Coerce(p.Value)
			if err != nil {
				return nil, withModel(err, m.Name)
			}
			p.Value = v
		}
		out = append(out, p)
	}
	return out, nil
}

// Match reports whether rec satisfies every predicate.
func Match(rec Record, preds []Predicate) bool {
	for _, p := range preds {
		if !matchOne(rec, p) {
			return false
		}
	}
	return true
}

func matchOne(rec Record, p Predicate) bool {
	v, present := rec[p.Field]
	if present && v == nil {
		present = false
	}

	switch p.Op {
	case OpIsNull:
		want, _ := p.Value.(bool)
		return want == !present
	case OpEq:
		if !present {
			return false
		}
		c, ok := compare(v, p.Value)
		return ok && c == 0
	case OpGte:
		if !present {
			return false
		}
		c, ok := compare(v, p.Value)
		return ok && c >= 0
	case OpLte:
		if !present {
			return false
		}
		c, ok := compare(v, p.Value)
		return ok && c <= 0
	case OpContains:
		if !present {
			return false
		}
		if s, ok := v.(string); ok {
			needle, err := cast.ToStringE(p.Value)
			return err == nil && strings.Contains(s, needle)
		}
		if list, ok := toSlice(v); ok {
			for _, item := range list {
				if c, ok := compare(item, p.Value); ok && c == 0 {
					return true
				}
			}
		}
		return false
	}
	return false
}

// compare orders two canonical values. ok is false when they aren't comparable.
func compare(a, b any) (int, bool) {
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(x, y), true
	case bool:
		y, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case x == y:
			return 0, true
		case !x:
			return -1, true
		default:
			return 1, true
		}
	case time.Time:
		y, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return x.Compare(y), true
	case int64, float64, int, float32, int32:
		xf, err1 := cast.ToFloat64E(x)
		yf, err2 := toNumber(b)
		if err1 != nil || err2 != nil {
			return 0, false
		}
		switch {
		case xf < yf:
			return -1, true
		case xf > yf:
			return 1, true
		}
		return 0, true
	}
	if reflect.DeepEqual(a, b) {
		return 0, true
	}
	return 0, false
}

func toNumber(v any) (float64, error) {
	switch v.(type) {
	case int64, float64, int, float32, int32:
		return cast.ToFloat64E(v)
	}
	return 0, fmt.Errorf("not a number: %T", v)
}

// sortRecords orders records by field; absent values sort first.
func sortRecords(recs []Record, field string, desc bool) {
	sort.SliceStable(recs, func(i, j int) bool {
		a, aok := recs[i][field]
		b, bok := recs[j][field]
		if a == nil {
			aok = false
		}
		if b == nil {
			bok = false
		}
		var less bool
		switch {
		case !aok && !bok:
			return false
		case !aok:
			less = true
		case !bok:
			less = false
		default:
			c, ok := compare(a, b)
			if !ok || c == 0 {
				return false
			}
			less = c < 0
		}
		if desc {
			return !less
		}
		return less
	})
}
