package handlers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// mockDynamo is an in-memory DynamoDB for handler tests. It honors the
// conditional expressions the stores issue so end-to-end checkout
// behavior (decrements, guarded puts, status transitions) is observable
// through the HTTP surface.
type mockDynamo struct {
	mu     sync.Mutex
	tables map[string]map[string]map[string]types.AttributeValue
}

func newMockDynamo() *mockDynamo {
	return &mockDynamo{tables: map[string]map[string]map[string]types.AttributeValue{}}
}

func (m *mockDynamo) ensureTable(tbl string) map[string]map[string]types.AttributeValue {
	if _, ok := m.tables[tbl]; !ok {
		m.tables[tbl] = map[string]map[string]types.AttributeValue{}
	}
	return m.tables[tbl]
}

func mockPK(attrs map[string]types.AttributeValue) (string, error) {
	for _, name := range []string{"idempotency_key", "product_id", "order_id"} {
		if v, ok := attrs[name]; ok {
			return v.(*types.AttributeValueMemberS).Value, nil
		}
	}
	return "", errors.New("no known primary key attribute")
}

func mockNum(item map[string]types.AttributeValue, name string) int64 {
	v, ok := item[name].(*types.AttributeValueMemberN)
	if !ok {
		return 0
	}
	n, _ := strconv.ParseInt(v.Value, 10, 64)
	return n
}

func mockSetNum(item map[string]types.AttributeValue, name string, n int64) {
	item[name] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", n)}
}

func mockNumVal(av types.AttributeValue) int64 {
	v, ok := av.(*types.AttributeValueMemberN)
	if !ok {
		return 0
	}
	n, _ := strconv.ParseInt(v.Value, 10, 64)
	return n
}

func (m *mockDynamo) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	table := m.ensureTable(*params.TableName)
	pk, err := mockPK(params.Item)
	if err != nil {
		return nil, err
	}
	if params.ConditionExpression != nil {
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

	table := m.ensureTable(*params.TableName)
	pk, err := mockPK(params.Key)
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

	out := &dyn.BatchGetItemOutput{Responses: map[string][]map[string]types.AttributeValue{}}
	for tbl, ka := range params.RequestItems {
		table := m.ensureTable(tbl)
		for _, key := range ka.Keys {
			pk, err := mockPK(key)
			if err != nil {
				return nil, err
			}
			if item, ok := table[pk]; ok {
				out.Responses[tbl] = append(out.Responses[tbl], item)
			}
		}
	}
	return out, nil
}

func (m *mockDynamo) Query(ctx context.Context, params *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	table := m.ensureTable(*params.TableName)
	want := params.ExpressionAttributeValues[":u"].(*types.AttributeValueMemberS).Value
	out := &dyn.QueryOutput{}
	for _, item := range table {
		if v, ok := item["user_id"].(*types.AttributeValueMemberS); ok && v.Value == want {
			out.Items = append(out.Items, item)
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
		out.Items = append(out.Items, item)
	}
	return out, nil
}

func (m *mockDynamo) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	table := m.ensureTable(*params.TableName)
	pk, err := mockPK(params.Key)
	if err != nil {
		return nil, err
	}
	item, exists := table[pk]
	if !exists {
		return nil, &types.ConditionalCheckFailedException{}
	}

	values := params.ExpressionAttributeValues
	switch *params.UpdateExpression {
	case "SET stock = stock - :q, updated_at = :ua":
		q := mockNumVal(values[":q"])
		p := mockNumVal(values[":p"])
		if mockNum(item, "stock") < q || mockNum(item, "price_cents") != p {
			return nil, &types.ConditionalCheckFailedException{Item: item}
		}
		mockSetNum(item, "stock", mockNum(item, "stock")-q)
		return &dyn.UpdateItemOutput{}, nil
	case "SET stock = stock + :q, updated_at = :ua":
		mockSetNum(item, "stock", mockNum(item, "stock")+mockNumVal(values[":q"]))
		return &dyn.UpdateItemOutput{}, nil
	}

	if params.ConditionExpression != nil && *params.ConditionExpression == "#s = :expected" {
		curr, _ := item["status"].(*types.AttributeValueMemberS)
		expected := values[":expected"].(*types.AttributeValueMemberS).Value
		if curr == nil || curr.Value != expected {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	for placeholder, attr := range map[string]string{":new": "status", ":done": "status", ":failed": "status", ":rb": "response_body", ":rs": "response_status", ":n": "note", ":ua": "updated_at"} {
		if v, ok := values[placeholder]; ok {
			item[attr] = v
		}
	}
	return &dyn.UpdateItemOutput{}, nil
}

func (m *mockDynamo) TransactWriteItems(ctx context.Context, params *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	reasons := make([]types.CancellationReason, len(params.TransactItems))
	failed := false
	for i, it := range params.TransactItems {
		code := "None"
		reasons[i] = types.CancellationReason{Code: &code}
		switch {
		case it.Update != nil:
			u := it.Update
			table := m.ensureTable(*u.TableName)
			pk, err := mockPK(u.Key)
			if err != nil {
				return nil, err
			}
			item, exists := table[pk]
			if !exists {
				ccf := "ConditionalCheckFailed"
				reasons[i] = types.CancellationReason{Code: &ccf}
				failed = true
				continue
			}
			q := mockNumVal(u.ExpressionAttributeValues[":q"])
			p := mockNumVal(u.ExpressionAttributeValues[":p"])
			if mockNum(item, "stock") < q || mockNum(item, "price_cents") != p {
				ccf := "ConditionalCheckFailed"
				reasons[i] = types.CancellationReason{Code: &ccf, Item: item}
				failed = true
			}
		case it.Put != nil:
			p := it.Put
			table := m.ensureTable(*p.TableName)
			pk, err := mockPK(p.Item)
			if err != nil {
				return nil, err
			}
			if p.ConditionExpression != nil {
				if _, exists := table[pk]; exists {
					ccf := "ConditionalCheckFailed"
					reasons[i] = types.CancellationReason{Code: &ccf}
					failed = true
				}
			}
		}
	}
	if failed {
		return nil, &types.TransactionCanceledException{CancellationReasons: reasons}
	}

	for _, it := range params.TransactItems {
		switch {
		case it.Update != nil:
			u := it.Update
			table := m.tables[*u.TableName]
			pk, _ := mockPK(u.Key)
			item := table[pk]
			mockSetNum(item, "stock", mockNum(item, "stock")-mockNumVal(u.ExpressionAttributeValues[":q"]))
		case it.Put != nil:
			p := it.Put
			table := m.tables[*p.TableName]
			pk, _ := mockPK(p.Item)
			table[pk] = p.Item
		}
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

// fakeSQS captures sent messages; err, when set, fails every send.
type fakeSQS struct {
	mu   sync.Mutex
	sent []*sqs.SendMessageInput
	err  error
}

func (f *fakeSQS) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, params)
	return &sqs.SendMessageOutput{}, nil
}

func (f *fakeSQS) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}
