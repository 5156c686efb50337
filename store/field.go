package store

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/spf13/cast"
)

// TimeLayout is the wire format for timestamps: UTC, fixed microsecond precision.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// FieldType is the declared type of a model field.
type FieldType int

// Field types. JSON holds an object or a list; List holds a list of scalars
// or nested values; Reference holds another model's primary key.
const (
	String FieldType = iota + 1
	Integer
	Float
	Boolean
	Timestamp
	JSON
	List
	Reference
)

var fieldTypeNames = map[FieldType]string{
	String:    "string",
	Integer:   "integer",
	Float:     "float",
	Boolean:   "boolean",
	Timestamp: "timestamp",
	JSON:      "json",
	List:      "list",
	Reference: "reference",
}

// String returns the lowercase type name.
func (t FieldType) String() string {
	if s, ok := fieldTypeNames[t]; ok {
		return s
	}
	return "FieldType(" + strconv.Itoa(int(t)) + ")"
}

// Indexable reports whether fields of this type may carry a secondary index.
func (t FieldType) Indexable() bool {
	switch t {
	case String, Integer, Float, Boolean, Timestamp, Reference:
		return true
	}
	return false
}

// KeyType is the DynamoDB key attribute type used when the field is indexed.
func (t FieldType) KeyType() types.ScalarAttributeType {
	switch t {
	case Integer, Float:
		return types.ScalarAttributeTypeN
	default:
		return types.ScalarAttributeTypeS
	}
}

// OnDelete is the action taken on referencing records when their target is deleted.
type OnDelete int

const (
	// DoNothing leaves referencing records in place.
	DoNothing OnDelete = iota
	// Cascade deletes referencing records together with their target.
	Cascade
)

// Field declares one attribute of a model.
type Field struct {
	Name string
	Type FieldType

	// Nullable fields may be absent. Absence is stored by omitting the attribute.
	Nullable bool

	// Indexed fields get a global secondary index named "<field>-index".
	Indexed bool

	// Searchable fields are copied into search documents.
	Searchable bool

	// MaxLength limits String fields, counted in runes. Zero means unlimited.
	MaxLength int

	// Default is applied on create when the value is absent. DefaultFunc wins over Default.
	Default     any
	DefaultFunc func() any

	// AutoNowAdd sets a Timestamp on create; AutoNow refreshes it on every write.
	AutoNowAdd bool
	AutoNow    bool

	// Ref names the target model of a Reference field.
	Ref string

	// RequireParent makes inserts fail with ErrParentNotFound unless the target exists.
	RequireParent bool

	// OnDelete controls what happens to this record when its target is deleted.
	OnDelete OnDelete
}

// Encode converts v to its stored form. It returns a nil AttributeValue and no
// error when v is absent and the field is nullable.
func (f Field) Encode(v any) (types.AttributeValue, error) {
	v, err := f.Coerce(v)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}

	switch f.Type {
	case String, Reference:
		return &types.AttributeValueMemberS{Value: v.(string)}, nil
	case Integer:
		return &types.AttributeValueMemberN{Value: strconv.FormatInt(v.(int64), 10)}, nil
	case Float:
		return &types.AttributeValueMemberN{Value: strconv.FormatFloat(v.(float64), 'f', -1, 64)}, nil
	case Boolean:
		// Key attributes can't be BOOL, and a field may gain an index later.
		return &types.AttributeValueMemberS{Value: strconv.FormatBool(v.(bool))}, nil
	case Timestamp:
		return &types.AttributeValueMemberS{Value: v.(time.Time).Format(TimeLayout)}, nil
	case JSON, List:
		av, err := encodeValue(v)
		if err != nil {
			return nil, invalid("", f.Name, "%v", err)
		}
		return av, nil
	}
	return nil, invalid("", f.Name, "unsupported field type %s", f.Type)
}

// Coerce converts v to the canonical Go type for the field:
// string, int64, float64, bool, time.Time (UTC, microseconds), any (JSON) or []any (List).
func (f Field) Coerce(v any) (any, error) {
	if isNil(v) {
		if f.Nullable {
			return nil, nil
		}
		return nil, invalid("", f.Name, "value is required")
	}

	switch f.Type {
	case String, Reference:
		s, err := cast.ToStringE(v)
		if err != nil {
			return nil, invalid("", f.Name, "expected string, got %T", v)
		}
		if f.Type == Reference && s == "" {
			return nil, invalid("", f.Name, "reference must not be empty")
		}
		if f.MaxLength > 0 && utf8.RuneCountInString(s) > f.MaxLength {
			return nil, invalid("", f.Name, "longer than %d characters", f.MaxLength)
		}
		return s, nil

	case Integer:
		switch n := v.(type) {
		case float64:
			return f.wholeFloat(n)
		case float32:
			return f.wholeFloat(float64(n))
		case uint, uint64:
			if cast.ToUint64(n) > math.MaxInt64 {
				return nil, invalid("", f.Name, "integer %v out of range", n)
			}
		case json.Number:
			v = n.String()
		}
		i, err := cast.ToInt64E(v)
		if err != nil {
			if fl, ferr := cast.ToFloat64E(v); ferr == nil {
				return f.wholeFloat(fl)
			}
			return nil, invalid("", f.Name, "expected integer, got %v", v)
		}
		return i, nil

	case Float:
		if n, ok := v.(json.Number); ok {
			v = n.String()
		}
		fl, err := cast.ToFloat64E(v)
		if err != nil || math.IsNaN(fl) || math.IsInf(fl, 0) {
			return nil, invalid("", f.Name, "expected finite number, got %v", v)
		}
		return fl, nil

	case Boolean:
		b, err := cast.ToBoolE(v)
		if err != nil {
			return nil, invalid("", f.Name, "expected boolean, got %v", v)
		}
		return b, nil

	case Timestamp:
		t, err := toTime(v)
		if err != nil {
			return nil, invalid("", f.Name, "expected timestamp, got %v", v)
		}
		return t.UTC().Truncate(time.Microsecond), nil

	case JSON:
		if !isContainer(v) {
			return nil, invalid("", f.Name, "expected object or list, got %T", v)
		}
		if _, err := encodeValue(v); err != nil {
			return nil, invalid("", f.Name, "%v", err)
		}
		return v, nil

	case List:
		list, ok := toSlice(v)
		if !ok {
			return nil, invalid("", f.Name, "expected list, got %T", v)
		}
		if _, err := encodeValue(list); err != nil {
			return nil, invalid("", f.Name, "%v", err)
		}
		return list, nil
	}
	return nil, invalid("", f.Name, "unsupported field type %s", f.Type)
}

// Decode converts a stored attribute back to the field's Go type. Values
// written under an older declared type are coerced when possible; when they
// can't be, the raw value is returned together with the error.
func (f Field) Decode(av types.AttributeValue) (any, error) {
	if av == nil {
		return nil, nil
	}
	if _, ok := av.(*types.AttributeValueMemberNULL); ok {
		return nil, nil
	}

	switch f.Type {
	case JSON:
		// JSON is always written as M or L. An S holding an encoded object or
		// list predates that and is parsed; any other S is returned as stored.
		if s, ok := av.(*types.AttributeValueMemberS); ok {
			var out any
			if strings.HasPrefix(s.Value, "{") || strings.HasPrefix(s.Value, "[") {
				if err := json.Unmarshal([]byte(s.Value), &out); err == nil {
					return out, nil
				}
			}
			return s.Value, nil
		}
		return decodeValue(av)
	case List:
		raw, err := decodeValue(av)
		if err != nil {
			return nil, err
		}
		if list, ok := toSlice(raw); ok {
			return list, nil
		}
		return raw, invalid("", f.Name, "stored value is not a list")
	}

	raw, err := decodeValue(av)
	if err != nil {
		return nil, err
	}
	if n, ok := av.(*types.AttributeValueMemberN); ok {
		raw = n.Value
	}
	if f.Type == Timestamp {
		if s, ok := raw.(string); ok {
			if t, err := time.Parse(TimeLayout, s); err == nil {
				return t, nil
			}
			if _, isNum := av.(*types.AttributeValueMemberN); isNum {
				sec, err := strconv.ParseFloat(s, 64)
				if err == nil {
					return time.UnixMicro(int64(sec * 1e6)).UTC(), nil
				}
			}
		}
	}

	nullable := f
	nullable.Nullable = true
	nullable.MaxLength = 0
	v, err := nullable.Coerce(raw)
	if err != nil {
		return raw, err
	}
	return v, nil
}

// wholeFloat converts n to int64, rejecting fractions and values outside the int64 range.
func (f Field) wholeFloat(n float64) (any, error) {
	if n != math.Trunc(n) || math.IsInf(n, 0) || math.IsNaN(n) {
		return nil, invalid("", f.Name, "expected integer, got %v", n)
	}
	if n < math.MinInt64 || n >= math.MaxInt64 {
		return nil, invalid("", f.Name, "integer %v out of range", n)
	}
	return int64(n), nil
}

func toTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case *time.Time:
		return *t, nil
	case string:
		for _, layout := range []string{TimeLayout, time.RFC3339Nano} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, nil
			}
		}
	}
	return cast.ToTimeE(v)
}

// encodeValue converts a nested JSON-compatible value. Nested nulls are kept as NULL.
func encodeValue(v any) (types.AttributeValue, error) {
	switch t := v.(type) {
	case nil:
		return &types.AttributeValueMemberNULL{Value: true}, nil
	case string:
		return &types.AttributeValueMemberS{Value: t}, nil
	case bool:
		return &types.AttributeValueMemberBOOL{Value: t}, nil
	case json.Number:
		return &types.AttributeValueMemberN{Value: t.String()}, nil
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil, fmt.Errorf("non-finite number %v", t)
		}
		return &types.AttributeValueMemberN{Value: strconv.FormatFloat(t, 'f', -1, 64)}, nil
	case float32:
		return encodeValue(float64(t))
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return &types.AttributeValueMemberN{Value: fmt.Sprint(t)}, nil
	case time.Time:
		return &types.AttributeValueMemberS{Value: t.UTC().Format(TimeLayout)}, nil
	case map[string]any:
		m := make(map[string]types.AttributeValue, len(t))
		for k, item := range t {
			av, err := encodeValue(item)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			m[k] = av
		}
		return &types.AttributeValueMemberM{Value: m}, nil
	case []any:
		l := make([]types.AttributeValue, 0, len(t))
		for i, item := range t {
			av, err := encodeValue(item)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			l = append(l, av)
		}
		return &types.AttributeValueMemberL{Value: l}, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		list, _ := toSlice(v)
		return encodeValue(list)
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("map keys must be strings, got %s", rv.Type().Key())
		}
		m := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = iter.Value().Interface()
		}
		return encodeValue(m)
	case reflect.Pointer:
		if rv.IsNil() {
			return encodeValue(nil)
		}
		return encodeValue(rv.Elem().Interface())
	}
	return nil, fmt.Errorf("unsupported value type %T", v)
}

// decodeValue converts an attribute into plain Go values. Numbers decode as float64.
func decodeValue(av types.AttributeValue) (any, error) {
	switch t := av.(type) {
	case *types.AttributeValueMemberNULL:
		return nil, nil
	case *types.AttributeValueMemberS:
		return t.Value, nil
	case *types.AttributeValueMemberBOOL:
		return t.Value, nil
	case *types.AttributeValueMemberN:
		return strconv.ParseFloat(t.Value, 64)
	case *types.AttributeValueMemberM:
		m := make(map[string]any, len(t.Value))
		for k, item := range t.Value {
			v, err := decodeValue(item)
			if err != nil {
				return nil, err
			}
			m[k] = v
		}
		return m, nil
	case *types.AttributeValueMemberL:
		l := make([]any, 0, len(t.Value))
		for _, item := range t.Value {
			v, err := decodeValue(item)
			if err != nil {
				return nil, err
			}
			l = append(l, v)
		}
		return l, nil
	case *types.AttributeValueMemberSS:
		l := make([]any, len(t.Value))
		for i, s := range t.Value {
			l[i] = s
		}
		return l, nil
	case *types.AttributeValueMemberNS:
		l := make([]any, len(t.Value))
		for i, s := range t.Value {
			n, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, err
			}
			l[i] = n
		}
		return l, nil
	case *types.AttributeValueMemberB:
		return t.Value, nil
	}
	return nil, fmt.Errorf("unsupported attribute type %T", av)
}

func toSlice(v any) ([]any, bool) {
	if l, ok := v.([]any); ok {
		return l, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// isContainer reports whether v is an object or a list.
func isContainer(v any) bool {
	switch reflect.ValueOf(v).Kind() {
	case reflect.Map:
		return true
	case reflect.Slice, reflect.Array:
		_, ok := toSlice(v)
		return ok
	case reflect.Pointer:
		rv := reflect.ValueOf(v)
		return !rv.IsNil() && isContainer(rv.Elem().Interface())
	}
	return false
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// sortedKeys returns map keys in lexical order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
