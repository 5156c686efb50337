package migrate

import (
	"sort"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// TableState is the migrated layout of one logical table.
type TableState struct {
	// Indexes maps indexed field to key type.
	Indexes map[string]types.ScalarAttributeType

	// Version counts operations applied to the table.
	Version int
}

// State is the layout produced by a sequence of migrations, keyed by logical table.
type State map[string]*TableState

func (s State) table(name string) *TableState {
	ts, ok := s[name]
	if !ok {
		ts = &TableState{Indexes: map[string]types.ScalarAttributeType{}}
		s[name] = ts
	}
	return ts
}

// Tables returns the table names in lexical order.
func (s State) Tables() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Replay returns the state after applying migs in order.
func Replay(migs []Migration) (State, error) {
	s := State{}
	for _, m := range migs {
		for i, op := range m.Ops {
			if err := op.Mutate(s); err != nil {
				return nil, &StepError{Migration: m.ID(), Index: i, Op: op, LastApplied: i - 1, Err: err}
			}
		}
	}
	return s, nil
}
