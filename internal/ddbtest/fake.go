// Package ddbtest provides an in-memory DynamoDB double for tests. It
// understands the expression shapes lattice generates, not the full
// expression language.
package ddbtest

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

// DefaultPageSize is the page size used when a request sets no Limit.
const DefaultPageSize = 25

type item = map[string]types.AttributeValue

type table struct {
	name     string
	hashKey  string
	attrs    map[string]types.ScalarAttributeType
	indexes  map[string]string // index name -> key attribute
	items    map[string]item
	status   types.TableStatus
	pending  int // describes left before the table turns active
	idxState map[string]types.IndexStatus
}

// Fake is an in-memory DynamoDB. The zero value is not usable; call New.
type Fake struct {
	mu     sync.Mutex
	tables map[string]*table

	// ActivateAfter is the number of DescribeTable calls a new table or index
	// stays in CREATING before turning ACTIVE.
	ActivateAfter int

	// NeverActivate keeps new tables in CREATING forever.
	NeverActivate bool

	// BatchGetLimit caps the keys served per BatchGetItem call; the rest are
	// returned as UnprocessedKeys. Zero serves every key.
	BatchGetLimit int

	failures map[string][]error
	calls    map[string]int
}

// New creates an empty Fake.
func New() *Fake {
	return &Fake{
		tables:   make(map[string]*table),
		failures: make(map[string][]error),
		calls:    make(map[string]int),
	}
}

// FailNext makes the next len(errs) calls of op return errs in order.
func (f *Fake) FailNext(op string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = append(f.failures[op], errs...)
}

// Calls returns how many times op was invoked.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Items returns a copy of every item in table, ordered by primary key.
func (f *Fake) Items(tableName string) []map[string]types.AttributeValue {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tables[tableName]
	if !ok {
		return nil
	}
	var out []map[string]types.AttributeValue
	for _, k := range t.sortedKeys() {
		out = append(out, copyItem(t.items[k]))
	}
	return out
}

// PutRaw stores an item directly, bypassing conditions.
func (f *Fake) PutRaw(tableName string, it map[string]types.AttributeValue) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.tables[tableName]
	t.items[keyString(it[t.hashKey])] = copyItem(it)
}

// TableNames lists the tables that exist.
func (f *Fake) TableNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for name := range f.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (f *Fake) begin(op string) error {
	f.calls[op]++
	if errs := f.failures[op]; len(errs) > 0 {
		f.failures[op] = errs[1:]
		return errs[0]
	}
	return nil
}

func (f *Fake) table(name *string) (*table, error) {
	t, ok := f.tables[aws.ToString(name)]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("Requested resource not found: " + aws.ToString(name))}
	}
	return t, nil
}

// GetItem returns a copy of the item, if any.
func (f *Fake) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("GetItem"); err != nil {
		return nil, err
	}
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	it, ok := t.items[keyString(in.Key[t.hashKey])]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: copyItem(it)}, nil
}

// PutItem stores an item, honouring ConditionExpression.
func (f *Fake) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("PutItem"); err != nil {
		return nil, err
	}
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	key := keyString(in.Item[t.hashKey])
	if !condition(aws.ToString(in.ConditionExpression), in.ExpressionAttributeNames, t.items[key]) {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
	}
	t.items[key] = copyItem(in.Item)
	return &dynamodb.PutItemOutput{}, nil
}

// UpdateItem applies SET and REMOVE clauses, honouring ConditionExpression.
func (f *Fake) UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("UpdateItem"); err != nil {
		return nil, err
	}
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	key := keyString(in.Key[t.hashKey])
	if !condition(aws.ToString(in.ConditionExpression), in.ExpressionAttributeNames, t.items[key]) {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
	}
	updated, err := applyUpdate(t.items[key], in.Key, aws.ToString(in.UpdateExpression), in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	t.items[key] = updated
	out := &dynamodb.UpdateItemOutput{}
	if in.ReturnValues == types.ReturnValueAllNew {
		out.Attributes = copyItem(updated)
	}
	return out, nil
}

// DeleteItem removes an item, honouring ConditionExpression.
func (f *Fake) DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("DeleteItem"); err != nil {
		return nil, err
	}
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	key := keyString(in.Key[t.hashKey])
	old, existed := t.items[key]
	if !condition(aws.ToString(in.ConditionExpression), in.ExpressionAttributeNames, old) {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
	}
	delete(t.items, key)
	out := &dynamodb.DeleteItemOutput{}
	if existed && in.ReturnValues == types.ReturnValueAllOld {
		out.Attributes = old
	}
	return out, nil
}

// BatchGetItem serves up to BatchGetLimit keys per call.
func (f *Fake) BatchGetItem(ctx context.Context, in *dynamodb.BatchGetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("BatchGetItem"); err != nil {
		return nil, err
	}
	out := &dynamodb.BatchGetItemOutput{Responses: map[string][]map[string]types.AttributeValue{}}
	served := 0
	for _, name := range sortedNames(in.RequestItems) {
		ka := in.RequestItems[name]
		t, err := f.table(aws.String(name))
		if err != nil {
			return nil, err
		}
		for i, k := range ka.Keys {
			if f.BatchGetLimit > 0 && served == f.BatchGetLimit {
				if out.UnprocessedKeys == nil {
					out.UnprocessedKeys = map[string]types.KeysAndAttributes{}
				}
				rest := ka
				rest.Keys = ka.Keys[i:]
				out.UnprocessedKeys[name] = rest
				break
			}
			served++
			if it, ok := t.items[keyString(k[t.hashKey])]; ok {
				out.Responses[name] = append(out.Responses[name], copyItem(it))
			}
		}
	}
	return out, nil
}

// TransactWriteItems applies every write or none, reporting per-item cancellation reasons.
func (f *Fake) TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("TransactWriteItems"); err != nil {
		return nil, err
	}

	reasons := make([]types.CancellationReason, len(in.TransactItems))
	failed := false
	type write struct {
		t   *table
		key string
		it  item // nil deletes
	}
	var writes []write

	for i, ti := range in.TransactItems {
		reasons[i] = types.CancellationReason{Code: aws.String("None")}
		var (
			tableName *string
			key       item
			cond      *string
			names     map[string]string
		)
		switch {
		case ti.ConditionCheck != nil:
			c := ti.ConditionCheck
			tableName, key, cond, names = c.TableName, c.Key, c.ConditionExpression, c.ExpressionAttributeNames
		case ti.Put != nil:
			p := ti.Put
			tableName, cond, names = p.TableName, p.ConditionExpression, p.ExpressionAttributeNames
		case ti.Update != nil:
			u := ti.Update
			tableName, key, cond, names = u.TableName, u.Key, u.ConditionExpression, u.ExpressionAttributeNames
		case ti.Delete != nil:
			d := ti.Delete
			tableName, key, cond, names = d.TableName, d.Key, d.ConditionExpression, d.ExpressionAttributeNames
		}
		t, err := f.table(tableName)
		if err != nil {
			return nil, err
		}
		if ti.Put != nil {
			key = ti.Put.Item
		}
		k := keyString(key[t.hashKey])
		if !condition(aws.ToString(cond), names, t.items[k]) {
			reasons[i] = types.CancellationReason{Code: aws.String("ConditionalCheckFailed")}
			failed = true
			continue
		}
		switch {
		case ti.Put != nil:
			writes = append(writes, write{t, k, copyItem(ti.Put.Item)})
		case ti.Update != nil:
			u := ti.Update
			updated, err := applyUpdate(t.items[k], u.Key, aws.ToString(u.UpdateExpression), u.ExpressionAttributeNames, u.ExpressionAttributeValues)
			if err != nil {
				return nil, err
			}
			writes = append(writes, write{t, k, updated})
		case ti.Delete != nil:
			writes = append(writes, write{t, k, nil})
		}
	}
	if failed {
		return nil, &types.TransactionCanceledException{
			Message:             aws.String("Transaction cancelled"),
			CancellationReasons: reasons,
		}
	}
	for _, w := range writes {
		if w.it == nil {
			delete(w.t.items, w.key)
			continue
		}
		w.t.items[w.key] = w.it
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

var keyCondRe = regexp.MustCompile(`^\s*(#?\w+)\s*=\s*(:\w+)\s*$`)

// Query serves single-attribute equality on the hash key or an index.
func (f *Fake) Query(ctx context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("Query"); err != nil {
		return nil, err
	}
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	m := keyCondRe.FindStringSubmatch(aws.ToString(in.KeyConditionExpression))
	if m == nil {
		return nil, validationError("unsupported key condition " + aws.ToString(in.KeyConditionExpression))
	}
	attr := resolveName(m[1], in.ExpressionAttributeNames)
	want := in.ExpressionAttributeValues[m[2]]

	if in.IndexName != nil {
		indexAttr, ok := t.indexes[aws.ToString(in.IndexName)]
		if !ok {
			return nil, validationError("The table does not have the specified index: " + aws.ToString(in.IndexName))
		}
		if indexAttr != attr {
			return nil, validationError("Query condition missed key schema element: " + indexAttr)
		}
	} else if attr != t.hashKey {
		return nil, validationError("Query condition missed key schema element: " + t.hashKey)
	}

	var keys []string
	for _, k := range t.sortedKeys() {
		if v, ok := t.items[k][attr]; ok && reflect.DeepEqual(v, want) {
			keys = append(keys, k)
		}
	}
	page, last := paginate(t, keys, in.ExclusiveStartKey, in.Limit)
	out := &dynamodb.QueryOutput{Items: page, Count: int32(len(page))}
	if last != nil {
		last[attr] = want
		out.LastEvaluatedKey = last
	}
	return out, nil
}

// Scan pages through items in key order. Select COUNT omits the items.
func (f *Fake) Scan(ctx context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("Scan"); err != nil {
		return nil, err
	}
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	page, last := paginate(t, t.sortedKeys(), in.ExclusiveStartKey, in.Limit)
	out := &dynamodb.ScanOutput{Items: page, Count: int32(len(page)), LastEvaluatedKey: last}
	if in.Select == types.SelectCount {
		out.Items = nil
	}
	return out, nil
}

// CreateTable adds a table, ACTIVE at once unless ActivateAfter or NeverActivate is set.
func (f *Fake) CreateTable(ctx context.Context, in *dynamodb.CreateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("CreateTable"); err != nil {
		return nil, err
	}
	name := aws.ToString(in.TableName)
	if _, exists := f.tables[name]; exists {
		return nil, &types.ResourceInUseException{Message: aws.String("Table already exists: " + name)}
	}
	t := &table{
		name:     name,
		attrs:    map[string]types.ScalarAttributeType{},
		indexes:  map[string]string{},
		items:    map[string]item{},
		idxState: map[string]types.IndexStatus{},
		status:   types.TableStatusActive,
	}
	for _, ks := range in.KeySchema {
		if ks.KeyType == types.KeyTypeHash {
			t.hashKey = aws.ToString(ks.AttributeName)
		}
	}
	for _, def := range in.AttributeDefinitions {
		t.attrs[aws.ToString(def.AttributeName)] = def.AttributeType
	}
	for _, gsi := range in.GlobalSecondaryIndexes {
		t.indexes[aws.ToString(gsi.IndexName)] = aws.ToString(gsi.KeySchema[0].AttributeName)
		t.idxState[aws.ToString(gsi.IndexName)] = types.IndexStatusActive
	}
	if f.NeverActivate || f.ActivateAfter > 0 {
		t.status = types.TableStatusCreating
		t.pending = f.ActivateAfter
	}
	f.tables[name] = t
	return &dynamodb.CreateTableOutput{TableDescription: f.describe(t)}, nil
}

// DeleteTable removes a table immediately.
func (f *Fake) DeleteTable(ctx context.Context, in *dynamodb.DeleteTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("DeleteTable"); err != nil {
		return nil, err
	}
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	delete(f.tables, t.name)
	return &dynamodb.DeleteTableOutput{TableDescription: f.describe(t)}, nil
}

// DescribeTable reports the table, advancing CREATING tables and indexes toward ACTIVE.
func (f *Fake) DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("DescribeTable"); err != nil {
		return nil, err
	}
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	if !f.NeverActivate && t.pending <= 0 {
		t.status = types.TableStatusActive
		for name := range t.idxState {
			t.idxState[name] = types.IndexStatusActive
		}
	}
	t.pending--
	return &dynamodb.DescribeTableOutput{Table: f.describe(t)}, nil
}

// UpdateTable creates or deletes global secondary indexes.
func (f *Fake) UpdateTable(ctx context.Context, in *dynamodb.UpdateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("UpdateTable"); err != nil {
		return nil, err
	}
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	for _, def := range in.AttributeDefinitions {
		t.attrs[aws.ToString(def.AttributeName)] = def.AttributeType
	}
	for _, u := range in.GlobalSecondaryIndexUpdates {
		switch {
		case u.Create != nil:
			name := aws.ToString(u.Create.IndexName)
			if _, exists := t.indexes[name]; exists {
				return nil, validationError("Attempting to create an index which already exists")
			}
			t.indexes[name] = aws.ToString(u.Create.KeySchema[0].AttributeName)
			t.idxState[name] = types.IndexStatusActive
			if f.NeverActivate || f.ActivateAfter > 0 {
				t.idxState[name] = types.IndexStatusCreating
				t.pending = f.ActivateAfter
			}
		case u.Delete != nil:
			name := aws.ToString(u.Delete.IndexName)
			if _, exists := t.indexes[name]; !exists {
				return nil, &types.ResourceNotFoundException{Message: aws.String("Requested resource not found")}
			}
			delete(t.indexes, name)
			delete(t.idxState, name)
		}
	}
	return &dynamodb.UpdateTableOutput{TableDescription: f.describe(t)}, nil
}

func (f *Fake) describe(t *table) *types.TableDescription {
	// DynamoDB refreshes ItemCount a few times a day; the fake never does.
	desc := &types.TableDescription{
		TableName:   aws.String(t.name),
		TableStatus: t.status,
		ItemCount:   aws.Int64(0),
		KeySchema:   []types.KeySchemaElement{{AttributeName: aws.String(t.hashKey), KeyType: types.KeyTypeHash}},
	}
	for _, name := range sortedNames(t.attrs) {
		desc.AttributeDefinitions = append(desc.AttributeDefinitions, types.AttributeDefinition{
			AttributeName: aws.String(name),
			AttributeType: t.attrs[name],
		})
	}
	for _, name := range sortedNames(t.indexes) {
		desc.GlobalSecondaryIndexes = append(desc.GlobalSecondaryIndexes, types.GlobalSecondaryIndexDescription{
			IndexName:   aws.String(name),
			IndexStatus: t.idxState[name],
			KeySchema:   []types.KeySchemaElement{{AttributeName: aws.String(t.indexes[name]), KeyType: types.KeyTypeHash}},
		})
	}
	return desc
}

func (t *table) sortedKeys() []string {
	return sortedNames(t.items)
}

func paginate(t *table, keys []string, start item, limit *int32) ([]map[string]types.AttributeValue, map[string]types.AttributeValue) {
	if start != nil {
		after := keyString(start[t.hashKey])
		i := sort.SearchStrings(keys, after)
		if i < len(keys) && keys[i] == after {
			i++
		}
		keys = keys[i:]
	}
	size := DefaultPageSize
	if limit != nil && *limit > 0 {
		size = int(*limit)
	}
	var last map[string]types.AttributeValue
	if len(keys) > size {
		keys = keys[:size]
		last = map[string]types.AttributeValue{t.hashKey: t.items[keys[size-1]][t.hashKey]}
	}
	page := make([]map[string]types.AttributeValue, 0, len(keys))
	for _, k := range keys {
		page = append(page, copyItem(t.items[k]))
	}
	return page, last
}

var condRe = regexp.MustCompile(`^attribute_(not_)?exists\((#?\w+)\)$`)

// condition evaluates "attribute_exists(x)" / "attribute_not_exists(x)" against current.
func condition(expr string, names map[string]string, current item) bool {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return true
	}
	m := condRe.FindStringSubmatch(expr)
	if m == nil {
		panic(fmt.Sprintf("ddbtest: unsupported condition %q", expr))
	}
	_, exists := current[resolveName(m[2], names)]
	if m[1] != "" {
		return !exists
	}
	return exists
}

// applyUpdate evaluates "SET #a = :v, ... REMOVE #r, ...".
func applyUpdate(current, key item, expr string, names map[string]string, values map[string]types.AttributeValue) (item, error) {
	out := copyItem(current)
	if out == nil {
		out = copyItem(key)
	}
	setPart, removePart := expr, ""
	if i := strings.Index(expr, "REMOVE "); i >= 0 {
		setPart, removePart = expr[:i], expr[i+len("REMOVE "):]
	}
	setPart = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(setPart), "SET "))
	if setPart != "" {
		for _, clause := range strings.Split(setPart, ",") {
			lhs, rhs, ok := strings.Cut(clause, "=")
			if !ok {
				return nil, validationError("unsupported update clause " + clause)
			}
			v, ok := values[strings.TrimSpace(rhs)]
			if !ok {
				return nil, validationError("missing value " + rhs)
			}
			out[resolveName(strings.TrimSpace(lhs), names)] = v
		}
	}
	if removePart = strings.TrimSpace(removePart); removePart != "" {
		for _, name := range strings.Split(removePart, ",") {
			delete(out, resolveName(strings.TrimSpace(name), names))
		}
	}
	return out, nil
}

func resolveName(token string, names map[string]string) string {
	if strings.HasPrefix(token, "#") {
		return names[token]
	}
	return token
}

func keyString(av types.AttributeValue) string {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value
	case *types.AttributeValueMemberN:
		return v.Value
	}
	return ""
}

func copyItem(it item) item {
	if it == nil {
		return nil
	}
	out := make(item, len(it))
	for k, v := range it {
		out[k] = v
	}
	return out
}

func sortedNames[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func validationError(msg string) error {
	return &smithy.GenericAPIError{Code: "ValidationException", Message: msg}
}
