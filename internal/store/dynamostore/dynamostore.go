// Package dynamostore implements store.Store on DynamoDB. Commit is a single
// TransactWriteItems call whose condition expressions carry the version and
// uniqueness preconditions of the mutation.
package dynamostore

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/shopspring/decimal"

	"github.com/imrishuroy/orderflow/internal/aws"
	"github.com/imrishuroy/orderflow/internal/domain"
	"github.com/imrishuroy/orderflow/internal/store"
)

// UserIndex is the global secondary index on user_id of the orders and
// returns tables.
const UserIndex = "user_id-index"

// Tables names the tables the store uses.
//
//	products  pk id
//	carts     pk user_id, sk product_id
//	orders    pk id, GSI user_id-index
//	returns   pk id, GSI user_id-index
//	ledger    pk pk ("order#<id>"), sk sk ("movement#<product>#<kind>" | "return")
type Tables struct {
	Products string
	Carts    string
	Orders   string
	Returns  string
	Ledger   string
}

// Store is a DynamoDB backed store.Store.
type Store struct {
	client aws.DynamoDBAPI
	tables Tables
}

var _ store.Store = (*Store)(nil)

func NewStore(client aws.DynamoDBAPI, tables Tables) *Store {
	return &Store{client: client, tables: tables}
}

func (s *Store) Close() error { return nil }

type productRecord struct {
	ID          string    `dynamodbav:"id"`
	Name        string    `dynamodbav:"name"`
	Description string    `dynamodbav:"description,omitempty"`
	Price       string    `dynamodbav:"price"`
	Stock       int       `dynamodbav:"stock"`
	Status      string    `dynamodbav:"status"`
	Version     int64     `dynamodbav:"version"`
	CreatedAt   time.Time `dynamodbav:"created_at"`
	UpdatedAt   time.Time `dynamodbav:"updated_at"`
}

type cartRecord struct {
	UserID    string    `dynamodbav:"user_id"`
	ProductID string    `dynamodbav:"product_id"`
	ID        string    `dynamodbav:"id"`
	Quantity  int       `dynamodbav:"quantity"`
	Version   int64     `dynamodbav:"version"`
	CreatedAt time.Time `dynamodbav:"created_at"`
	UpdatedAt time.Time `dynamodbav:"updated_at"`
}

type orderItemRecord struct {
	ProductID string `dynamodbav:"product_id"`
	Quantity  int    `dynamodbav:"quantity"`
	Price     string `dynamodbav:"price"`
}

type orderRecord struct {
	ID           string            `dynamodbav:"id"`
	UserID       string            `dynamodbav:"user_id"`
	TotalPrice   string            `dynamodbav:"total_price"`
	Status       string            `dynamodbav:"status"`
	Version      int64             `dynamodbav:"version"`
	CreatedAt    time.Time         `dynamodbav:"created_at"`
	UpdatedAt    time.Time         `dynamodbav:"updated_at"`
	DeliveryDate *time.Time        `dynamodbav:"delivery_date,omitempty"`
	ReturnDate   *time.Time        `dynamodbav:"return_date,omitempty"`
	Items        []orderItemRecord `dynamodbav:"items"`
}

type returnRecord struct {
	ID        string    `dynamodbav:"id"`
	OrderID   string    `dynamodbav:"order_id"`
	UserID    string    `dynamodbav:"user_id"`
	Reason    string    `dynamodbav:"reason"`
	Status    string    `dynamodbav:"status"`
	Version   int64     `dynamodbav:"version"`
	CreatedAt time.Time `dynamodbav:"created_at"`
	UpdatedAt time.Time `dynamodbav:"updated_at"`
}

// ledgerRecord is either a stock movement or the one-return-per-order guard.
type ledgerRecord struct {
	PK        string    `dynamodbav:"pk"`
	SK        string    `dynamodbav:"sk"`
	OrderID   string    `dynamodbav:"order_id"`
	ProductID string    `dynamodbav:"product_id,omitempty"`
	Kind      string    `dynamodbav:"kind,omitempty"`
	Quantity  int       `dynamodbav:"quantity,omitempty"`
	ReturnID  string    `dynamodbav:"return_id,omitempty"`
	CreatedAt time.Time `dynamodbav:"created_at"`
}

func orderPK(orderID string) string { return "order#" + orderID }

const (
	movementPrefix = "movement#"
	returnGuardSK  = "return"
)

func movementSK(productID string, kind domain.MovementKind) string {
	return movementPrefix + productID + "#" + string(kind)
}

func (r productRecord) domain() (domain.Product, error) {
	price, err := decimal.NewFromString(r.Price)
	if err != nil {
		return domain.Product{}, fmt.Errorf("product %s price: %w", r.ID, err)
	}
	return domain.Product{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Price:       price,
		Stock:       r.Stock,
		Status:      domain.ProductStatus(r.Status),
		Version:     r.Version,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}, nil
}

func (r cartRecord) domain() domain.CartItem {
	return domain.CartItem{
		ID:        r.ID,
		UserID:    r.UserID,
		ProductID: r.ProductID,
		Quantity:  r.Quantity,
		Version:   r.Version,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func newOrderRecord(o *domain.Order) orderRecord {
	rec := orderRecord{
		ID:           o.ID,
		UserID:       o.UserID,
		TotalPrice:   o.TotalPrice.String(),
		Status:       string(o.Status),
		Version:      o.Version,
		CreatedAt:    o.CreatedAt,
		UpdatedAt:    o.UpdatedAt,
		DeliveryDate: o.DeliveryDate,
		ReturnDate:   o.ReturnDate,
	}
	for _, it := range o.Items {
		rec.Items = append(rec.Items, orderItemRecord{ProductID: it.ProductID, Quantity: it.Quantity, Price: it.Price.String()})
	}
	return rec
}

func (r orderRecord) domain() (domain.Order, error) {
	total, err := decimal.NewFromString(r.TotalPrice)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order %s total: %w", r.ID, err)
	}
	o := domain.Order{
		ID:           r.ID,
		UserID:       r.UserID,
		TotalPrice:   total,
		Status:       domain.OrderStatus(r.Status),
		Version:      r.Version,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
		DeliveryDate: r.DeliveryDate,
		ReturnDate:   r.ReturnDate,
	}
	for _, it := range r.Items {
		price, err := decimal.NewFromString(it.Price)
		if err != nil {
			return domain.Order{}, fmt.Errorf("order %s item price: %w", r.ID, err)
		}
		o.Items = append(o.Items, domain.OrderItem{OrderID: r.ID, ProductID: it.ProductID, Quantity: it.Quantity, Price: price})
	}
	return o, nil
}

func (r orderRecord) hasLine(productID string) bool {
	for _, it := range r.Items {
		if it.ProductID == productID {
			return true
		}
	}
	return false
}

func (r returnRecord) domain() domain.ReturnRequest {
	return domain.ReturnRequest{
		ID:        r.ID,
		OrderID:   r.OrderID,
		UserID:    r.UserID,
		Reason:    r.Reason,
		Status:    domain.ReturnStatus(r.Status),
		Version:   r.Version,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// isConditionFailure reports whether err is a failed condition expression or
// a transaction cancelled by one.
func isConditionFailure(err error) bool {
	var tce *types.TransactionCanceledException
	if errors.As(err, &tce) {
		if len(tce.CancellationReasons) == 0 {
			return true
		}
		for _, r := range tce.CancellationReasons {
			if r.Code == nil {
				continue
			}
			switch *r.Code {
			case "ConditionalCheckFailed", "TransactionConflict":
				return true
			}
		}
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ConditionalCheckFailedException", "TransactionConflictException":
			return true
		}
	}
	return false
}

func sortNewestFirst[T any](items []T, createdAt func(T) time.Time) {
	sort.SliceStable(items, func(i, j int) bool { return createdAt(items[i]).After(createdAt(items[j])) })
}

func strAttr(v string) types.AttributeValue { return &types.AttributeValueMemberS{Value: v} }

func numAttr(v int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", v)}
}

// timeAttr encodes t the same way attributevalue encodes record fields.
func timeAttr(t time.Time) types.AttributeValue {
	av, err := attributevalue.Marshal(t)
	if err != nil {
		return strAttr(t.Format(time.RFC3339Nano))
	}
	return av
}

func awsString(s string) *string { return &s }
func awsBool(b bool) *bool       { return &b }

