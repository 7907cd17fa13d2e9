package dynamostore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/orderflow/internal/domain"
	"github.com/imrishuroy/orderflow/internal/store"
)

func (s *Store) getItem(ctx context.Context, table string, key map[string]types.AttributeValue, out interface{}) (bool, error) {
	res, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &table,
		Key:            key,
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return false, fmt.Errorf("get item from %s: %w", table, err)
	}
	if len(res.Item) == 0 {
		return false, nil
	}
	if err := attributevalue.UnmarshalMap(res.Item, out); err != nil {
		return false, fmt.Errorf("unmarshal %s item: %w", table, err)
	}
	return true, nil
}

// query pages through a Query and unmarshals every item into out.
func (s *Store) query(ctx context.Context, in *dyn.QueryInput, out interface{}) error {
	var items []map[string]types.AttributeValue
	for {
		res, err := s.client.Query(ctx, in)
		if err != nil {
			return fmt.Errorf("query %s: %w", *in.TableName, err)
		}
		items = append(items, res.Items...)
		if len(res.LastEvaluatedKey) == 0 {
			break
		}
		in.ExclusiveStartKey = res.LastEvaluatedKey
	}
	if err := attributevalue.UnmarshalListOfMaps(items, out); err != nil {
		return fmt.Errorf("unmarshal %s items: %w", *in.TableName, err)
	}
	return nil
}

func (s *Store) scan(ctx context.Context, table string, out interface{}) error {
	in := &dyn.ScanInput{TableName: &table}
	var items []map[string]types.AttributeValue
	for {
		res, err := s.client.Scan(ctx, in)
		if err != nil {
			return fmt.Errorf("scan %s: %w", table, err)
		}
		items = append(items, res.Items...)
		if len(res.LastEvaluatedKey) == 0 {
			break
		}
		in.ExclusiveStartKey = res.LastEvaluatedKey
	}
	if err := attributevalue.UnmarshalListOfMaps(items, out); err != nil {
		return fmt.Errorf("unmarshal %s items: %w", table, err)
	}
	return nil
}

func (s *Store) queryByUser(ctx context.Context, table, userID string, out interface{}) error {
	return s.query(ctx, &dyn.QueryInput{
		TableName:                 &table,
		IndexName:                 awsString(UserIndex),
		KeyConditionExpression:    awsString("user_id = :u"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":u": strAttr(userID)},
	}, out)
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	var rec productRecord
	found, err := s.getItem(ctx, s.tables.Products, map[string]types.AttributeValue{"id": strAttr(id)}, &rec)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: product %s", domain.ErrNotFound, id)
	}
	p, err := rec.domain()
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	var recs []productRecord
	if err := s.scan(ctx, s.tables.Products, &recs); err != nil {
		return nil, err
	}
	out := make([]domain.Product, 0, len(recs))
	for _, r := range recs {
		p, err := r.domain()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	sortNewestFirst(out, func(p domain.Product) time.Time { return p.CreatedAt })
	return out, nil
}

func (s *Store) CreateProduct(ctx context.Context, p *domain.Product) error {
	item, err := attributevalue.MarshalMap(productRecord{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Price:       p.Price.String(),
		Stock:       p.Stock,
		Status:      string(p.Status),
		Version:     p.Version,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal product: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tables.Products,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(id)"),
	})
	if err != nil {
		if isConditionFailure(err) {
			return fmt.Errorf("%w: product %s exists", store.ErrConflict, p.ID)
		}
		return fmt.Errorf("put product: %w", err)
	}
	return nil
}

func (s *Store) cartRecords(ctx context.Context, userID string) ([]cartRecord, error) {
	var recs []cartRecord
	err := s.query(ctx, &dyn.QueryInput{
		TableName:                 &s.tables.Carts,
		KeyConditionExpression:    awsString("user_id = :u"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":u": strAttr(userID)},
		ConsistentRead:            awsBool(true),
	}, &recs)
	return recs, err
}

func (s *Store) ListCartItems(ctx context.Context, userID string) ([]domain.CartItem, error) {
	recs, err := s.cartRecords(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.CartItem, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.domain())
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ListCartItemsByProduct scans every cart; the carts table has no index on
// product_id.
func (s *Store) ListCartItemsByProduct(ctx context.Context, productID string) ([]domain.CartItem, error) {
	var recs []cartRecord
	if err := s.scan(ctx, s.tables.Carts, &recs); err != nil {
		return nil, err
	}
	var out []domain.CartItem
	for _, r := range recs {
		if r.ProductID == productID {
			out = append(out, r.domain())
		}
	}
	return out, nil
}

func (s *Store) GetCartItem(ctx context.Context, userID, itemID string) (*domain.CartItem, error) {
	recs, err := s.cartRecords(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, r := range recs {
		if r.ID == itemID {
			it := r.domain()
			return &it, nil
		}
	}
	return nil, fmt.Errorf("%w: cart item %s", domain.ErrNotFound, itemID)
}

func (s *Store) DeleteCartItem(ctx context.Context, userID, itemID string) error {
	it, err := s.GetCartItem(ctx, userID, itemID)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteItem(ctx, &dyn.DeleteItemInput{
		TableName:                 &s.tables.Carts,
		Key:                       cartKey(userID, it.ProductID),
		ConditionExpression:       awsString("id = :id"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":id": strAttr(itemID)},
	})
	if err != nil {
		if isConditionFailure(err) {
			return fmt.Errorf("%w: cart item %s", domain.ErrNotFound, itemID)
		}
		return fmt.Errorf("delete cart item: %w", err)
	}
	return nil
}

func (s *Store) ClearCart(ctx context.Context, userID string) error {
	recs, err := s.cartRecords(ctx, userID)
	if err != nil {
		return err
	}
	for _, r := range recs {
		_, err := s.client.DeleteItem(ctx, &dyn.DeleteItemInput{
			TableName: &s.tables.Carts,
			Key:       cartKey(userID, r.ProductID),
		})
		if err != nil {
			return fmt.Errorf("clear cart: %w", err)
		}
	}
	return nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	var rec orderRecord
	found, err := s.getItem(ctx, s.tables.Orders, map[string]types.AttributeValue{"id": strAttr(id)}, &rec)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: order %s", domain.ErrNotFound, id)
	}
	o, err := rec.domain()
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *Store) ListOrders(ctx context.Context, f store.OrderFilter) ([]domain.Order, error) {
	var (
		recs []orderRecord
		err  error
	)
	if f.UserID != "" {
		err = s.queryByUser(ctx, s.tables.Orders, f.UserID, &recs)
	} else {
		err = s.scan(ctx, s.tables.Orders, &recs)
	}
	if err != nil {
		return nil, err
	}
	out := make([]domain.Order, 0, len(recs))
	for _, r := range recs {
		if f.ProductID != "" && !r.hasLine(f.ProductID) {
			continue
		}
		o, err := r.domain()
		if err != nil {
			return nil, err
		}
		o.Items = nil
		out = append(out, o)
	}
	sortNewestFirst(out, func(o domain.Order) time.Time { return o.CreatedAt })
	return out, nil
}

func (s *Store) ListMovements(ctx context.Context, orderID string) ([]domain.StockMovement, error) {
	var recs []ledgerRecord
	err := s.query(ctx, &dyn.QueryInput{
		TableName:              &s.tables.Ledger,
		KeyConditionExpression: awsString("pk = :pk AND begins_with(sk, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     strAttr(orderPK(orderID)),
			":prefix": strAttr(movementPrefix),
		},
		ConsistentRead: awsBool(true),
	}, &recs)
	if err != nil {
		return nil, err
	}
	out := make([]domain.StockMovement, 0, len(recs))
	for _, r := range recs {
		out = append(out, domain.StockMovement{
			OrderID:   r.OrderID,
			ProductID: r.ProductID,
			Kind:      domain.MovementKind(r.Kind),
			Quantity:  r.Quantity,
			CreatedAt: r.CreatedAt,
		})
	}
	return out, nil
}

func (s *Store) GetReturn(ctx context.Context, id string) (*domain.ReturnRequest, error) {
	var rec returnRecord
	found, err := s.getItem(ctx, s.tables.Returns, map[string]types.AttributeValue{"id": strAttr(id)}, &rec)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: return %s", domain.ErrNotFound, id)
	}
	r := rec.domain()
	return &r, nil
}

func (s *Store) GetReturnByOrder(ctx context.Context, orderID string) (*domain.ReturnRequest, error) {
	var guard ledgerRecord
	found, err := s.getItem(ctx, s.tables.Ledger, ledgerKey(orderPK(orderID), returnGuardSK), &guard)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: return for order %s", domain.ErrNotFound, orderID)
	}
	return s.GetReturn(ctx, guard.ReturnID)
}

func (s *Store) ListReturns(ctx context.Context, f store.ReturnFilter) ([]domain.ReturnRequest, error) {
	var (
		recs []returnRecord
		err  error
	)
	if f.UserID != "" {
		err = s.queryByUser(ctx, s.tables.Returns, f.UserID, &recs)
	} else {
		err = s.scan(ctx, s.tables.Returns, &recs)
	}
	if err != nil {
		return nil, err
	}
	out := make([]domain.ReturnRequest, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.domain())
	}
	sortNewestFirst(out, func(r domain.ReturnRequest) time.Time { return r.CreatedAt })
	return out, nil
}

func cartKey(userID, productID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"user_id": strAttr(userID), "product_id": strAttr(productID)}
}

func ledgerKey(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"pk": strAttr(pk), "sk": strAttr(sk)}
}
