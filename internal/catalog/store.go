package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/shopcraft/storefront/internal/awsx"
)

const (
	decrementUpdateExpr    = "SET stock = stock - :q, updated_at = :ua"
	decrementConditionExpr = "attribute_exists(product_id) AND stock >= :q AND price_cents = :p"
	restoreUpdateExpr      = "SET stock = stock + :q, updated_at = :ua"
	restoreConditionExpr   = "attribute_exists(product_id)"
)

// CheckFailedError reports a lost conditional decrement. Product carries
// the pre-write item when the store returned it (nil means the product
// no longer exists).
type CheckFailedError struct {
	ProductID string
	Product   *Product
}

func (e *CheckFailedError) Error() string {
	if e.Product == nil {
		return fmt.Sprintf("conditional check failed: product %s not found", e.ProductID)
	}
	return fmt.Sprintf("conditional check failed for product %s (stock=%d)", e.ProductID, e.Product.Stock)
}

// Store encapsulates operations on the products table (the Product Ledger).
type Store struct {
	client    awsx.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore creates a new products Store.
func NewStore(client awsx.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// ResolveForCheckout fetches every product referenced by a cart in one
// batched read over the deduplicated id set. Ids absent from the table are
// simply missing from the returned map; callers decide what that means.
func (s *Store) ResolveForCheckout(ctx context.Context, ids []string) (map[string]Product, error) {
	out := make(map[string]Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	seen := make(map[string]struct{}, len(ids))
	keys := make([]map[string]types.AttributeValue, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		keys = append(keys, map[string]types.AttributeValue{
			"product_id": &types.AttributeValueMemberS{Value: id},
		})
	}

	// BatchGetItem may return unprocessed keys under throttling; retry the
	// remainder a bounded number of times.
	for attempt := 0; attempt < 3 && len(keys) > 0; attempt++ {
		resp, err := s.client.BatchGetItem(ctx, &dyn.BatchGetItemInput{
			RequestItems: map[string]types.KeysAndAttributes{
				s.tableName: {Keys: keys},
			},
		})
		if err != nil {
			return nil, fmt.Errorf("batch get products: %w", err)
		}
		for _, item := range resp.Responses[s.tableName] {
			var p Product
			if err := attributevalue.UnmarshalMap(item, &p); err != nil {
				return nil, fmt.Errorf("unmarshal product: %w", err)
			}
			out[p.ProductID] = p
		}
		keys = nil
		if rem, ok := resp.UnprocessedKeys[s.tableName]; ok {
			keys = rem.Keys
		}
	}
	if len(keys) > 0 {
		return nil, fmt.Errorf("batch get products: %d keys unprocessed after retries", len(keys))
	}
	return out, nil
}

// DecrementStock reserves qty units of a product with a single conditional
// write: the decrement lands only if the live stock still covers qty AND
// the price is still the one the caller read (so the recorded line price
// and the committed decrement come from the same snapshot). A lost
// condition surfaces as *CheckFailedError.
func (s *Store) DecrementStock(ctx context.Context, productID string, qty int, priceCents int64) error {
	now := s.nowFunc()
	input := &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"product_id": &types.AttributeValueMemberS{Value: productID},
		},
		UpdateExpression:    awsString(decrementUpdateExpr),
		ConditionExpression: awsString(decrementConditionExpr),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":q":  &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", qty)},
			":p":  &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", priceCents)},
			":ua": &types.AttributeValueMemberS{Value: now.UTC().Format(time.RFC3339)},
		},
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	}

	_, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return &CheckFailedError{ProductID: productID, Product: unmarshalOld(ccf.Item)}
		}
		return fmt.Errorf("decrement stock %s: %w", productID, err)
	}
	return nil
}

// RestoreStock adds qty units back. Used only to compensate decrements the
// degraded (non-transactional) checkout path could not carry to completion.
func (s *Store) RestoreStock(ctx context.Context, productID string, qty int) error {
	now := s.nowFunc()
	input := &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"product_id": &types.AttributeValueMemberS{Value: productID},
		},
		UpdateExpression:    awsString(restoreUpdateExpr),
		ConditionExpression: awsString(restoreConditionExpr),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":q":  &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", qty)},
			":ua": &types.AttributeValueMemberS{Value: now.UTC().Format(time.RFC3339)},
		},
	}
	if _, err := s.client.UpdateItem(ctx, input); err != nil {
		return fmt.Errorf("restore stock %s: %w", productID, err)
	}
	return nil
}

// TransactDecrement builds the transact-write element for a stock
// reservation, with the same condition DecrementStock uses. The checkout
// coordinator composes these into a single TransactWriteItems call.
func (s *Store) TransactDecrement(productID string, qty int, priceCents int64) types.TransactWriteItem {
	now := s.nowFunc()
	return types.TransactWriteItem{
		Update: &types.Update{
			TableName: &s.tableName,
			Key: map[string]types.AttributeValue{
				"product_id": &types.AttributeValueMemberS{Value: productID},
			},
			UpdateExpression:    awsString(decrementUpdateExpr),
			ConditionExpression: awsString(decrementConditionExpr),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":q":  &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", qty)},
				":p":  &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", priceCents)},
				":ua": &types.AttributeValueMemberS{Value: now.UTC().Format(time.RFC3339)},
			},
			ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
		},
	}
}

// Get fetches a product by id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, productID string) (*Product, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"product_id": &types.AttributeValueMemberS{Value: productID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var p Product
	if err := attributevalue.UnmarshalMap(out.Item, &p); err != nil {
		return nil, fmt.Errorf("unmarshal product: %w", err)
	}
	return &p, nil
}

// List scans the catalog. The storefront catalog is small; pagination is
// left to the admin tooling.
func (s *Store) List(ctx context.Context) ([]Product, error) {
	out, err := s.client.Scan(ctx, &dyn.ScanInput{TableName: &s.tableName})
	if err != nil {
		return nil, fmt.Errorf("scan products: %w", err)
	}
	products := make([]Product, 0, len(out.Items))
	for _, item := range out.Items {
		var p Product
		if err := attributevalue.UnmarshalMap(item, &p); err != nil {
			return nil, fmt.Errorf("unmarshal product: %w", err)
		}
		products = append(products, p)
	}
	return products, nil
}

// Put upserts a product (admin path). Assigns an id on first write.
func (s *Store) Put(ctx context.Context, p *Product) error {
	now := s.nowFunc()
	if p.ProductID == "" {
		p.ProductID = uuid.NewString()
		p.CreatedAt = now
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	item, err := attributevalue.MarshalMap(p)
	if err != nil {
		return fmt.Errorf("marshal product: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	}); err != nil {
		return fmt.Errorf("put product: %w", err)
	}
	return nil
}

func unmarshalOld(item map[string]types.AttributeValue) *Product {
	if len(item) == 0 {
		return nil
	}
	var p Product
	if err := attributevalue.UnmarshalMap(item, &p); err != nil {
		return nil
	}
	return &p
}

func awsString(s string) *string { return &s }
