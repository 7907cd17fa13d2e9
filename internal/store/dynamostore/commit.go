package dynamostore

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/orderflow/internal/domain"
	"github.com/imrishuroy/orderflow/internal/store"
)

// MaxTransactItems is the DynamoDB limit on actions in one transaction.
const MaxTransactItems = 100

// Commit writes m with one TransactWriteItems call. Any failed condition
// cancels the whole transaction and is reported as store.ErrConflict.
func (s *Store) Commit(ctx context.Context, m *store.Mutation) error {
	if m.Empty() {
		return nil
	}
	items, err := s.transactItems(m)
	if err != nil {
		return err
	}
	if len(items) > MaxTransactItems {
		return fmt.Errorf("%w: mutation needs %d transaction items, limit is %d", domain.ErrInvalidInput, len(items), MaxTransactItems)
	}

	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		if isConditionFailure(err) {
			return fmt.Errorf("%w: %v", store.ErrConflict, err)
		}
		return fmt.Errorf("transact write: %w", err)
	}
	return nil
}

func (s *Store) transactItems(m *store.Mutation) ([]types.TransactWriteItem, error) {
	var items []types.TransactWriteItem
	one := numAttr(1)

	for _, c := range m.ProductChecks {
		items = append(items, types.TransactWriteItem{ConditionCheck: &types.ConditionCheck{
			TableName:                 &s.tables.Products,
			Key:                       map[string]types.AttributeValue{"id": strAttr(c.ID)},
			ConditionExpression:       awsString("version = :v"),
			ExpressionAttributeValues: map[string]types.AttributeValue{":v": numAttr(c.Version)},
		}})
	}
	for _, w := range m.StockWrites {
		items = append(items, types.TransactWriteItem{Update: &types.Update{
			TableName:                &s.tables.Products,
			Key:                      map[string]types.AttributeValue{"id": strAttr(w.ProductID)},
			UpdateExpression:         awsString("SET stock = :stock, #st = :status, version = version + :one, updated_at = :ua"),
			ConditionExpression:      awsString("version = :v"),
			ExpressionAttributeNames: map[string]string{"#st": "status"},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":stock":  numAttr(int64(w.Stock)),
				":status": strAttr(string(w.Status)),
				":one":    one,
				":ua":     timeAttr(w.UpdatedAt),
				":v":      numAttr(w.Version),
			},
		}})
	}
	if e := m.ProductEdit; e != nil {
		items = append(items, types.TransactWriteItem{Update: &types.Update{
			TableName:                &s.tables.Products,
			Key:                      map[string]types.AttributeValue{"id": strAttr(e.ID)},
			UpdateExpression:         awsString("SET #n = :name, description = :desc, price = :price, version = version + :one, updated_at = :ua"),
			ConditionExpression:      awsString("version = :v"),
			ExpressionAttributeNames: map[string]string{"#n": "name"},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":name":  strAttr(e.Name),
				":desc":  strAttr(e.Description),
				":price": strAttr(e.Price.String()),
				":one":   one,
				":ua":    timeAttr(e.UpdatedAt),
				":v":     numAttr(e.Version),
			},
		}})
	}
	if d := m.ProductDelete; d != nil {
		items = append(items, types.TransactWriteItem{Delete: &types.Delete{
			TableName:                 &s.tables.Products,
			Key:                       map[string]types.AttributeValue{"id": strAttr(d.ID)},
			ConditionExpression:       awsString("version = :v"),
			ExpressionAttributeValues: map[string]types.AttributeValue{":v": numAttr(d.Version)},
		}})
	}
	for _, mv := range m.Movements {
		item, err := attributevalue.MarshalMap(ledgerRecord{
			PK:        orderPK(mv.OrderID),
			SK:        movementSK(mv.ProductID, mv.Kind),
			OrderID:   mv.OrderID,
			ProductID: mv.ProductID,
			Kind:      string(mv.Kind),
			Quantity:  mv.Quantity,
			CreatedAt: mv.CreatedAt,
		})
		if err != nil {
			return nil, fmt.Errorf("marshal movement: %w", err)
		}
		items = append(items, putIfAbsent(s.tables.Ledger, item, "pk"))
	}

	if w := m.CartPut; w != nil {
		it := w.Item
		if w.Version == 0 {
			item, err := attributevalue.MarshalMap(cartRecord{
				UserID:    it.UserID,
				ProductID: it.ProductID,
				ID:        it.ID,
				Quantity:  it.Quantity,
				Version:   1,
				CreatedAt: it.CreatedAt,
				UpdatedAt: it.UpdatedAt,
			})
			if err != nil {
				return nil, fmt.Errorf("marshal cart item: %w", err)
			}
			items = append(items, putIfAbsent(s.tables.Carts, item, "product_id"))
		} else {
			items = append(items, types.TransactWriteItem{Update: &types.Update{
				TableName:           &s.tables.Carts,
				Key:                 cartKey(it.UserID, it.ProductID),
				UpdateExpression:    awsString("SET quantity = :q, version = version + :one, updated_at = :ua"),
				ConditionExpression: awsString("version = :v AND id = :id"),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":q":   numAttr(int64(it.Quantity)),
					":one": one,
					":ua":  timeAttr(it.UpdatedAt),
					":v":   numAttr(w.Version),
					":id":  strAttr(it.ID),
				},
			}})
		}
	}
	for _, ref := range m.CartDeletes {
		items = append(items, types.TransactWriteItem{Delete: &types.Delete{
			TableName:           &s.tables.Carts,
			Key:                 cartKey(ref.UserID, ref.ProductID),
			ConditionExpression: awsString("version = :v AND id = :id"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":v":  numAttr(ref.Version),
				":id": strAttr(ref.ID),
			},
		}})
	}

	if o := m.NewOrder; o != nil {
		item, err := attributevalue.MarshalMap(newOrderRecord(o))
		if err != nil {
			return nil, fmt.Errorf("marshal order: %w", err)
		}
		items = append(items, putIfAbsent(s.tables.Orders, item, "id"))
	}
	if u := m.OrderUpdate; u != nil {
		expr := "SET #st = :status, version = version + :one, updated_at = :ua"
		values := map[string]types.AttributeValue{
			":status": strAttr(string(u.Status)),
			":one":    one,
			":ua":     timeAttr(u.UpdatedAt),
			":v":      numAttr(u.Version),
		}
		if u.DeliveryDate != nil {
			expr += ", delivery_date = :dd"
			values[":dd"] = timeAttr(*u.DeliveryDate)
		}
		if u.ReturnDate != nil {
			expr += ", return_date = :rd"
			values[":rd"] = timeAttr(*u.ReturnDate)
		}
		items = append(items, types.TransactWriteItem{Update: &types.Update{
			TableName:                 &s.tables.Orders,
			Key:                       map[string]types.AttributeValue{"id": strAttr(u.ID)},
			UpdateExpression:          awsString(expr),
			ConditionExpression:       awsString("version = :v"),
			ExpressionAttributeNames:  map[string]string{"#st": "status"},
			ExpressionAttributeValues: values,
		}})
	}

	if r := m.NewReturn; r != nil {
		item, err := attributevalue.MarshalMap(returnRecord{
			ID:        r.ID,
			OrderID:   r.OrderID,
			UserID:    r.UserID,
			Reason:    r.Reason,
			Status:    string(r.Status),
			Version:   r.Version,
			CreatedAt: r.CreatedAt,
			UpdatedAt: r.UpdatedAt,
		})
		if err != nil {
			return nil, fmt.Errorf("marshal return: %w", err)
		}
		guard, err := attributevalue.MarshalMap(ledgerRecord{
			PK:        orderPK(r.OrderID),
			SK:        returnGuardSK,
			OrderID:   r.OrderID,
			ReturnID:  r.ID,
			CreatedAt: r.CreatedAt,
		})
		if err != nil {
			return nil, fmt.Errorf("marshal return guard: %w", err)
		}
		items = append(items, putIfAbsent(s.tables.Returns, item, "id"), putIfAbsent(s.tables.Ledger, guard, "pk"))
	}
	if u := m.ReturnUpdate; u != nil {
		items = append(items, types.TransactWriteItem{Update: &types.Update{
			TableName:                &s.tables.Returns,
			Key:                      map[string]types.AttributeValue{"id": strAttr(u.ID)},
			UpdateExpression:         awsString("SET #st = :status, version = version + :one, updated_at = :ua"),
			ConditionExpression:      awsString("version = :v"),
			ExpressionAttributeNames: map[string]string{"#st": "status"},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":status": strAttr(string(u.Status)),
				":one":    one,
				":ua":     timeAttr(u.UpdatedAt),
				":v":      numAttr(u.Version),
			},
		}})
	}
	return items, nil
}

func putIfAbsent(table string, item map[string]types.AttributeValue, keyAttr string) types.TransactWriteItem {
	return types.TransactWriteItem{Put: &types.Put{
		TableName:           awsString(table),
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(" + keyAttr + ")"),
	}}
}

