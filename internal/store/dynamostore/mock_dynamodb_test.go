package dynamostore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// mockDynamo is an in-memory DynamoDB that understands the handful of
// expression shapes the store issues: equality and attribute_not_exists
// conditions joined with AND, SET updates with "+" increments, and
// equality/begins_with key conditions.
type mockDynamo struct {
	mu     sync.Mutex
	keys   map[string][]string // table -> key attribute names
	tables map[string]map[string]map[string]types.AttributeValue

	transactCalls int
	failNext      error
}

func newMockDynamo(tables Tables) *mockDynamo {
	return &mockDynamo{
		keys: map[string][]string{
			tables.Products: {"id"},
			tables.Carts:    {"user_id", "product_id"},
			tables.Orders:   {"id"},
			tables.Returns:  {"id"},
			tables.Ledger:   {"pk", "sk"},
		},
		tables: map[string]map[string]map[string]types.AttributeValue{},
	}
}

func attrString(av types.AttributeValue) string {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return "S:" + v.Value
	case *types.AttributeValueMemberN:
		return "N:" + v.Value
	case nil:
		return ""
	}
	return fmt.Sprintf("%T", av)
}

func (m *mockDynamo) keyOf(table string, item map[string]types.AttributeValue) (string, error) {
	names, ok := m.keys[table]
	if !ok {
		return "", fmt.Errorf("unknown table %s", table)
	}
	parts := make([]string, 0, len(names))
	for _, n := range names {
		v, ok := item[n]
		if !ok {
			return "", fmt.Errorf("missing key attribute %s", n)
		}
		parts = append(parts, attrString(v))
	}
	return strings.Join(parts, "|"), nil
}

func (m *mockDynamo) get(table string, key map[string]types.AttributeValue) (map[string]types.AttributeValue, string, error) {
	k, err := m.keyOf(table, key)
	if err != nil {
		return nil, "", err
	}
	if m.tables[table] == nil {
		m.tables[table] = map[string]map[string]types.AttributeValue{}
	}
	return m.tables[table][k], k, nil
}

func resolve(name string, names map[string]string) string {
	if strings.HasPrefix(name, "#") {
		return names[name]
	}
	return name
}

func evalCondition(expr *string, item map[string]types.AttributeValue, names map[string]string, values map[string]types.AttributeValue) bool {
	if expr == nil {
		return true
	}
	for _, clause := range strings.Split(*expr, " AND ") {
		clause = strings.TrimSpace(clause)
		if strings.HasPrefix(clause, "attribute_not_exists(") {
			attr := strings.TrimSuffix(strings.TrimPrefix(clause, "attribute_not_exists("), ")")
			if item != nil {
				if _, ok := item[resolve(attr, names)]; ok {
					return false
				}
			}
			continue
		}
		parts := strings.SplitN(clause, " = ", 2)
		if len(parts) != 2 || item == nil {
			return false
		}
		if attrString(item[resolve(parts[0], names)]) != attrString(values[parts[1]]) {
			return false
		}
	}
	return true
}

func applyUpdate(item map[string]types.AttributeValue, expr string, names map[string]string, values map[string]types.AttributeValue) error {
	for _, assign := range strings.Split(strings.TrimPrefix(expr, "SET "), ", ") {
		parts := strings.SplitN(assign, " = ", 2)
		if len(parts) != 2 {
			return fmt.Errorf("bad update clause %q", assign)
		}
		lhs := resolve(parts[0], names)
		if sum := strings.SplitN(parts[1], " + ", 2); len(sum) == 2 {
			cur, _ := item[resolve(sum[0], names)].(*types.AttributeValueMemberN)
			inc, _ := values[sum[1]].(*types.AttributeValueMemberN)
			if cur == nil || inc == nil {
				return fmt.Errorf("bad increment %q", assign)
			}
			a, _ := strconv.ParseInt(cur.Value, 10, 64)
			b, _ := strconv.ParseInt(inc.Value, 10, 64)
			item[lhs] = &types.AttributeValueMemberN{Value: strconv.FormatInt(a+b, 10)}
			continue
		}
		item[lhs] = values[parts[1]]
	}
	return nil
}

func cloneItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	c := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		c[k] = v
	}
	return c
}

func (m *mockDynamo) PutItem(ctx context.Context, in *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, k, err := m.get(*in.TableName, in.Item)
	if err != nil {
		return nil, err
	}
	if !evalCondition(in.ConditionExpression, cur, in.ExpressionAttributeNames, in.ExpressionAttributeValues) {
		return nil, &types.ConditionalCheckFailedException{}
	}
	m.tables[*in.TableName][k] = cloneItem(in.Item)
	return &dyn.PutItemOutput{}, nil
}

func (m *mockDynamo) GetItem(ctx context.Context, in *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, _, err := m.get(*in.TableName, in.Key)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: cloneItem(cur)}, nil
}

func (m *mockDynamo) UpdateItem(ctx context.Context, in *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, k, err := m.get(*in.TableName, in.Key)
	if err != nil {
		return nil, err
	}
	if !evalCondition(in.ConditionExpression, cur, in.ExpressionAttributeNames, in.ExpressionAttributeValues) {
		return nil, &types.ConditionalCheckFailedException{}
	}
	next := cloneItem(in.Key)
	for a, v := range cur {
		next[a] = v
	}
	if err := applyUpdate(next, *in.UpdateExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues); err != nil {
		return nil, err
	}
	m.tables[*in.TableName][k] = next
	return &dyn.UpdateItemOutput{Attributes: cloneItem(next)}, nil
}

func (m *mockDynamo) DeleteItem(ctx context.Context, in *dyn.DeleteItemInput, optFns ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, k, err := m.get(*in.TableName, in.Key)
	if err != nil {
		return nil, err
	}
	if !evalCondition(in.ConditionExpression, cur, in.ExpressionAttributeNames, in.ExpressionAttributeValues) {
		return nil, &types.ConditionalCheckFailedException{}
	}
	delete(m.tables[*in.TableName], k)
	return &dyn.DeleteItemOutput{}, nil
}

func (m *mockDynamo) Query(ctx context.Context, in *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []map[string]types.AttributeValue
	for _, item := range m.sorted(*in.TableName) {
		if matchesKey(*in.KeyConditionExpression, item, in.ExpressionAttributeValues) {
			out = append(out, cloneItem(item))
		}
	}
	return &dyn.QueryOutput{Items: out, Count: int32(len(out))}, nil
}

func matchesKey(expr string, item map[string]types.AttributeValue, values map[string]types.AttributeValue) bool {
	for _, clause := range strings.Split(expr, " AND ") {
		if strings.HasPrefix(clause, "begins_with(") {
			args := strings.Split(strings.TrimSuffix(strings.TrimPrefix(clause, "begins_with("), ")"), ", ")
			v, _ := item[args[0]].(*types.AttributeValueMemberS)
			p, _ := values[args[1]].(*types.AttributeValueMemberS)
			if v == nil || p == nil || !strings.HasPrefix(v.Value, p.Value) {
				return false
			}
			continue
		}
		parts := strings.SplitN(clause, " = ", 2)
		if len(parts) != 2 || attrString(item[parts[0]]) != attrString(values[parts[1]]) {
			return false
		}
	}
	return true
}

func (m *mockDynamo) Scan(ctx context.Context, in *dyn.ScanInput, optFns ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []map[string]types.AttributeValue
	for _, item := range m.sorted(*in.TableName) {
		out = append(out, cloneItem(item))
	}
	return &dyn.ScanOutput{Items: out, Count: int32(len(out))}, nil
}

func (m *mockDynamo) sorted(table string) []map[string]types.AttributeValue {
	keys := make([]string, 0, len(m.tables[table]))
	for k := range m.tables[table] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]map[string]types.AttributeValue, 0, len(keys))
	for _, k := range keys {
		out = append(out, m.tables[table][k])
	}
	return out
}

func (m *mockDynamo) TransactWriteItems(ctx context.Context, in *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactCalls++
	if m.failNext != nil {
		err := m.failNext
		m.failNext = nil
		return nil, err
	}

	type write struct {
		table, key string
		item       map[string]types.AttributeValue // nil deletes
	}
	var (
		writes  []write
		reasons = make([]types.CancellationReason, len(in.TransactItems))
		failed  bool
		seen    = map[string]bool{}
	)
	none := "None"
	ccf := "ConditionalCheckFailed"
	for i, ti := range in.TransactItems {
		var (
			table  string
			key    map[string]types.AttributeValue
			cond   *string
			names  map[string]string
			values map[string]types.AttributeValue
		)
		switch {
		case ti.ConditionCheck != nil:
			c := ti.ConditionCheck
			table, key, cond, names, values = *c.TableName, c.Key, c.ConditionExpression, c.ExpressionAttributeNames, c.ExpressionAttributeValues
		case ti.Put != nil:
			p := ti.Put
			table, key, cond, names, values = *p.TableName, p.Item, p.ConditionExpression, p.ExpressionAttributeNames, p.ExpressionAttributeValues
		case ti.Update != nil:
			u := ti.Update
			table, key, cond, names, values = *u.TableName, u.Key, u.ConditionExpression, u.ExpressionAttributeNames, u.ExpressionAttributeValues
		case ti.Delete != nil:
			d := ti.Delete
			table, key, cond, names, values = *d.TableName, d.Key, d.ConditionExpression, d.ExpressionAttributeNames, d.ExpressionAttributeValues
		default:
			return nil, errors.New("empty transact item")
		}
		cur, k, err := m.get(table, key)
		if err != nil {
			return nil, err
		}
		if seen[table+"/"+k] {
			return nil, errors.New("ValidationException: multiple operations on one item")
		}
		seen[table+"/"+k] = true

		reasons[i].Code = &none
		if !evalCondition(cond, cur, names, values) {
			reasons[i].Code = &ccf
			failed = true
			continue
		}
		switch {
		case ti.Put != nil:
			writes = append(writes, write{table, k, cloneItem(ti.Put.Item)})
		case ti.Update != nil:
			next := cloneItem(ti.Update.Key)
			for a, v := range cur {
				next[a] = v
			}
			if err := applyUpdate(next, *ti.Update.UpdateExpression, names, values); err != nil {
				return nil, err
			}
			writes = append(writes, write{table, k, next})
		case ti.Delete != nil:
			writes = append(writes, write{table, k, nil})
		}
	}
	if failed {
		return nil, &types.TransactionCanceledException{CancellationReasons: reasons}
	}
	for _, w := range writes {
		if w.item == nil {
			delete(m.tables[w.table], w.key)
			continue
		}
		m.tables[w.table][w.key] = w.item
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}
