package checkout

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// mockDynamo is an in-memory DynamoDB good enough for checkout tests: it
// honors the exact conditional expressions the stores issue, under a
// mutex, so concurrency properties are observable. Items live per table
// in a nested map: table -> pkValue -> item map.
type mockDynamo struct {
	mu     sync.Mutex
	tables map[string]map[string]map[string]types.AttributeValue

	putCalls      int
	getCalls      int
	updateCalls   int
	batchGetCalls int
	transactCalls int
	queryCalls    int

	// transactErr, when set, is returned by every TransactWriteItems call
	// (used to simulate deployments without transaction support).
	transactErr error

	// failRestoreFor simulates an outage on the compensation write for
	// specific products.
	failRestoreFor map[string]bool
}

func newMockDynamo() *mockDynamo {
	return &mockDynamo{
		tables:         map[string]map[string]map[string]types.AttributeValue{},
		failRestoreFor: map[string]bool{},
	}
}

func (m *mockDynamo) ensureTable(tbl string) map[string]map[string]types.AttributeValue {
	if _, ok := m.tables[tbl]; !ok {
		m.tables[tbl] = map[string]map[string]types.AttributeValue{}
	}
	return m.tables[tbl]
}

// pkOf finds the primary key value in a key/item map. idempotency_key is
// probed before order_id because idempotency records also carry an
// order_id attribute.
func pkOf(attrs map[string]types.AttributeValue) (string, error) {
	for _, name := range []string{"idempotency_key", "product_id", "order_id"} {
		if v, ok := attrs[name]; ok {
			return v.(*types.AttributeValueMemberS).Value, nil
		}
	}
	return "", errors.New("no known primary key attribute")
}

func numVal(av types.AttributeValue) int64 {
	n, _ := strconv.ParseInt(av.(*types.AttributeValueMemberN).Value, 10, 64)
	return n
}

func itemNum(item map[string]types.AttributeValue, name string) int64 {
	v, ok := item[name]
	if !ok {
		return 0
	}
	return numVal(v)
}

func setItemNum(item map[string]types.AttributeValue, name string, n int64) {
	item[name] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", n)}
}

func copyItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

func (m *mockDynamo) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putCalls++

	table := m.ensureTable(*params.TableName)
	pk, err := pkOf(params.Item)
	if err != nil {
		return nil, err
	}
	if params.ConditionExpression != nil {
		// only attribute_not_exists conditions are issued on puts
		if _, exists := table[pk]; exists {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	table[pk] = params.Item
	return &dyn.PutItemOutput{}, nil
}

func (m *mockDynamo) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++

	table := m.ensureTable(*params.TableName)
	pk, err := pkOf(params.Key)
	if err != nil {
		return nil, err
	}
	item, ok := table[pk]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: item}, nil
}

func (m *mockDynamo) BatchGetItem(ctx context.Context, params *dyn.BatchGetItemInput, optFns ...func(*dyn.Options)) (*dyn.BatchGetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batchGetCalls++

	out := &dyn.BatchGetItemOutput{Responses: map[string][]map[string]types.AttributeValue{}}
	for tbl, ka := range params.RequestItems {
		table := m.ensureTable(tbl)
		for _, key := range ka.Keys {
			pk, err := pkOf(key)
			if err != nil {
				return nil, err
			}
			if item, ok := table[pk]; ok {
				out.Responses[tbl] = append(out.Responses[tbl], copyItem(item))
			}
		}
	}
	return out, nil
}

func (m *mockDynamo) Query(ctx context.Context, params *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queryCalls++

	table := m.ensureTable(*params.TableName)
	want := params.ExpressionAttributeValues[":u"].(*types.AttributeValueMemberS).Value
	out := &dyn.QueryOutput{}
	for _, item := range table {
		if v, ok := item["user_id"].(*types.AttributeValueMemberS); ok && v.Value == want {
			out.Items = append(out.Items, copyItem(item))
		}
	}
	return out, nil
}

func (m *mockDynamo) Scan(ctx context.Context, params *dyn.ScanInput, optFns ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	table := m.ensureTable(*params.TableName)
	out := &dyn.ScanOutput{}
	for _, item := range table {
		out.Items = append(out.Items, copyItem(item))
	}
	return out, nil
}

// applyUpdate implements the three update shapes the stores issue:
// stock decrement, stock restore, and "set status/fields" updates.
// Caller holds the mutex.
func (m *mockDynamo) applyUpdate(tableName string, key, values map[string]types.AttributeValue, updateExpr, condExpr string) error {
	table := m.ensureTable(tableName)
	pk, err := pkOf(key)
	if err != nil {
		return err
	}
	item, exists := table[pk]

	switch updateExpr {
	case "SET stock = stock - :q, updated_at = :ua":
		if !exists {
			return &types.ConditionalCheckFailedException{}
		}
		q := numVal(values[":q"])
		p := numVal(values[":p"])
		if itemNum(item, "stock") < q || itemNum(item, "price_cents") != p {
			return &types.ConditionalCheckFailedException{Item: copyItem(item)}
		}
		setItemNum(item, "stock", itemNum(item, "stock")-q)
		return nil

	case "SET stock = stock + :q, updated_at = :ua":
		if m.failRestoreFor[pk] {
			return errors.New("simulated restore outage")
		}
		if !exists {
			return &types.ConditionalCheckFailedException{}
		}
		setItemNum(item, "stock", itemNum(item, "stock")+numVal(values[":q"]))
		return nil
	}

	// generic SET updates (status transitions, idempotency mark done/failed)
	if !exists {
		return &types.ConditionalCheckFailedException{}
	}
	if condExpr == "#s = :expected" {
		curr, ok := item["status"].(*types.AttributeValueMemberS)
		expected := values[":expected"].(*types.AttributeValueMemberS).Value
		if !ok || curr.Value != expected {
			return &types.ConditionalCheckFailedException{}
		}
	}
	for name, value := range map[string]string{":new": "status", ":done": "status", ":failed": "status", ":rb": "response_body", ":rs": "response_status", ":n": "note", ":ua": "updated_at"} {
		if v, ok := values[name]; ok {
			item[value] = v
		}
	}
	return nil
}

func (m *mockDynamo) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCalls++

	var cond string
	if params.ConditionExpression != nil {
		cond = *params.ConditionExpression
	}
	if err := m.applyUpdate(*params.TableName, params.Key, params.ExpressionAttributeValues, *params.UpdateExpression, cond); err != nil {
		return nil, err
	}
	return &dyn.UpdateItemOutput{}, nil
}

func (m *mockDynamo) TransactWriteItems(ctx context.Context, params *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactCalls++

	if m.transactErr != nil {
		return nil, m.transactErr
	}

	// First pass: verify every condition; a single failure cancels the
	// whole transaction with positional cancellation reasons.
	reasons := make([]types.CancellationReason, len(params.TransactItems))
	failed := false
	for i, it := range params.TransactItems {
		reasons[i] = types.CancellationReason{Code: strPtr("None")}
		switch {
		case it.Update != nil:
			u := it.Update
			table := m.ensureTable(*u.TableName)
			pk, err := pkOf(u.Key)
			if err != nil {
				return nil, err
			}
			item, exists := table[pk]
			if !exists {
				reasons[i] = types.CancellationReason{Code: strPtr("ConditionalCheckFailed")}
				failed = true
				continue
			}
			q := numVal(u.ExpressionAttributeValues[":q"])
			p := numVal(u.ExpressionAttributeValues[":p"])
			if itemNum(item, "stock") < q || itemNum(item, "price_cents") != p {
				reasons[i] = types.CancellationReason{
					Code: strPtr("ConditionalCheckFailed"),
					Item: copyItem(item),
				}
				failed = true
			}
		case it.Put != nil:
			p := it.Put
			table := m.ensureTable(*p.TableName)
			pk, err := pkOf(p.Item)
			if err != nil {
				return nil, err
			}
			if p.ConditionExpression != nil {
				if _, exists := table[pk]; exists {
					reasons[i] = types.CancellationReason{Code: strPtr("ConditionalCheckFailed")}
					failed = true
				}
			}
		}
	}
	if failed {
		return nil, &types.TransactionCanceledException{CancellationReasons: reasons}
	}

	// Second pass: apply everything.
	for _, it := range params.TransactItems {
		switch {
		case it.Update != nil:
			u := it.Update
			table := m.tables[*u.TableName]
			pk, _ := pkOf(u.Key)
			item := table[pk]
			setItemNum(item, "stock", itemNum(item, "stock")-numVal(u.ExpressionAttributeValues[":q"]))
		case it.Put != nil:
			p := it.Put
			table := m.tables[*p.TableName]
			pk, _ := pkOf(p.Item)
			table[pk] = p.Item
		}
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

func strPtr(s string) *string { return &s }

func (m *mockDynamo) itemCount(tbl string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tables[tbl])
}

func (m *mockDynamo) callCounts() (put, update, batchGet, transact int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putCalls, m.updateCalls, m.batchGetCalls, m.transactCalls
}

func (m *mockDynamo) setTransactErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactErr = err
}
