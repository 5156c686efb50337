package store

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ExistsCondition returns the condition that the item's primary key exists.
// Use with PKNames().
func ExistsCondition() string {
	return "attribute_exists(#pk)"
}

// NotExistsCondition returns the condition that no item with the primary key exists.
// Use with PKNames().
func NotExistsCondition() string {
	return "attribute_not_exists(#pk)"
}

// PKNames returns expression attribute names for the primary key conditions.
func PKNames() map[string]string {
	return map[string]string{"#pk": PKAttr}
}

// KeyEquals returns a key condition "#k = :k" with its names and values.
func KeyEquals(attr string, value types.AttributeValue) (string, map[string]string, map[string]types.AttributeValue) {
	return "#k = :k",
		map[string]string{"#k": attr},
		map[string]types.AttributeValue{":k": value}
}

// updateExpr builds "SET #a0 = :v0, ... REMOVE #r0, ..." from set and remove attributes.
type updateExpr struct {
	set    []string
	remove []string
	names  map[string]string
	values map[string]types.AttributeValue
}

func newUpdateExpr() *updateExpr {
	return &updateExpr{
		names:  map[string]string{},
		values: map[string]types.AttributeValue{},
	}
}

func (u *updateExpr) Set(attr string, v types.AttributeValue) {
	i := len(u.set)
	name, value := fmt.Sprintf("#a%d", i), fmt.Sprintf(":v%d", i)
	u.names[name] = attr
	u.values[value] = v
	u.set = append(u.set, name+" = "+value)
}

func (u *updateExpr) Remove(attr string) {
	name := fmt.Sprintf("#r%d", len(u.remove))
	u.names[name] = attr
	u.remove = append(u.remove, name)
}

func (u *updateExpr) Empty() bool {
	return len(u.set) == 0 && len(u.remove) == 0
}

func (u *updateExpr) String() string {
	var parts []string
	if len(u.set) > 0 {
		parts = append(parts, "SET "+strings.Join(u.set, ", "))
	}
	if len(u.remove) > 0 {
		parts = append(parts, "REMOVE "+strings.Join(u.remove, ", "))
	}
	return strings.Join(parts, " ")
}

// mergeExprNames merges multiple expression attribute name maps.
func mergeExprNames(maps ...map[string]string) map[string]string {
	result := make(map[string]string)
	for _, m := range maps {
		for k, v := range m {
			result[k] = v
		}
	}
	return result
}
