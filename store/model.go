package store

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// PKAttr is the primary key attribute of every table.
const PKAttr = "pk"

// Record is a decoded row: field name to canonical Go value, plus PKAttr.
type Record map[string]any

// ID returns the record's primary key, or "" if it has none.
func (r Record) ID() string {
	s, _ := r[PKAttr].(string)
	return s
}

// Clone returns a shallow copy of r.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// SearchOptions opts a model into search sync.
type SearchOptions struct {
	Enabled bool

	// Index overrides the derived index name.
	Index string
}

// Model describes one entity type and its table.
type Model struct {
	// Name is the logical model name, e.g. "Post".
	Name string

	// Table is the logical table name without prefix.
	// Default: the lowercased model name.
	Table string

	Fields []Field
	Search SearchOptions

	fields map[string]int
}

// Field returns the declared field called name.
func (m *Model) Field(name string) (Field, bool) {
	i, ok := m.fields[name]
	if !ok {
		return Field{}, false
	}
	return m.Fields[i], true
}

// IndexedFields returns the indexed fields in declaration order.
func (m *Model) IndexedFields() []Field {
	var out []Field
	for _, f := range m.Fields {
		if f.Indexed {
			out = append(out, f)
		}
	}
	return out
}

// SearchableFields returns the fields copied into search documents.
func (m *Model) SearchableFields() []Field {
	var out []Field
	for _, f := range m.Fields {
		if f.Searchable {
			out = append(out, f)
		}
	}
	return out
}

// EncodeItem converts a full record into a DynamoDB item.
// Absent nullable values are omitted.
func (m *Model) EncodeItem(rec Record) (map[string]types.AttributeValue, error) {
	id := rec.ID()
	if id == "" {
		return nil, invalid(m.Name, PKAttr, "primary key is required")
	}
	item := map[string]types.AttributeValue{
		PKAttr: &types.AttributeValueMemberS{Value: id},
	}
	for k := range rec {
		if k == PKAttr {
			continue
		}
		if _, ok := m.fields[k]; !ok {
			return nil, invalid(m.Name, k, "unknown field")
		}
	}
	for _, f := range m.Fields {
		av, err := f.Encode(rec[f.Name])
		if err != nil {
			return nil, withModel(err, m.Name)
		}
		if av != nil {
			item[f.Name] = av
		}
	}
	return item, nil
}

// DecodeItem converts a DynamoDB item into a record. Undeclared attributes are
// ignored and values that can't be coerced are kept as stored.
func (m *Model) DecodeItem(item map[string]types.AttributeValue) Record {
	rec := Record{}
	if pk, ok := item[PKAttr].(*types.AttributeValueMemberS); ok {
		rec[PKAttr] = pk.Value
	}
	for _, f := range m.Fields {
		av, ok := item[f.Name]
		if !ok {
			continue
		}
		v, _ := f.Decode(av)
		if v != nil {
			rec[f.Name] = v
		}
	}
	return rec
}

// KeyOf returns the primary key attribute map for id.
func KeyOf(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		PKAttr: &types.AttributeValueMemberS{Value: id},
	}
}

func (m *Model) init() error {
	if m.Name == "" {
		return invalid("", "", "model name is required")
	}
	if m.Table == "" {
		m.Table = strings.ToLower(m.Name)
	}
	m.fields = make(map[string]int, len(m.Fields))
	for i, f := range m.Fields {
		switch {
		case f.Name == "":
			return invalid(m.Name, "", "field %d has no name", i)
		case f.Name == PKAttr:
			return invalid(m.Name, f.Name, "%q is reserved for the primary key", PKAttr)
		case strings.Contains(f.Name, "__"):
			return invalid(m.Name, f.Name, "field names must not contain \"__\"")
		case fieldTypeNames[f.Type] == "":
			return invalid(m.Name, f.Name, "unknown field type %d", int(f.Type))
		case f.Indexed && !f.Type.Indexable():
			return invalid(m.Name, f.Name, "%s fields can't be indexed", f.Type)
		case f.Type == Reference && f.Ref == "":
			return invalid(m.Name, f.Name, "reference fields need a target model")
		case f.Type != Reference && (f.Ref != "" || f.RequireParent || f.OnDelete != DoNothing):
			return invalid(m.Name, f.Name, "only reference fields may declare a target")
		case (f.AutoNow || f.AutoNowAdd) && f.Type != Timestamp:
			return invalid(m.Name, f.Name, "auto timestamps need a timestamp field")
		case f.MaxLength != 0 && f.Type != String:
			return invalid(m.Name, f.Name, "max length applies to string fields only")
		}
		if _, dup := m.fields[f.Name]; dup {
			return invalid(m.Name, f.Name, "duplicate field")
		}
		if f.Default != nil {
			if _, err := f.Coerce(f.Default); err != nil {
				return withModel(err, m.Name)
			}
		}
		m.fields[f.Name] = i
	}
	return nil
}

func withModel(err error, model string) error {
	if ve, ok := err.(*ValidationError); ok && ve.Model == "" {
		ve.Model = model
	}
	return err
}

// String returns the model name with its logical table.
func (m *Model) String() string {
	return fmt.Sprintf("%s(%s)", m.Name, m.Table)
}
