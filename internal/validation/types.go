package validation

// Stock and quantity bounds match domain.MaxStock.

// CreateProductRequest is the payload for POST /products
type CreateProductRequest struct {
	Name        string `json:"name" validate:"required,max=200"`
	Description string `json:"description" validate:"max=2000"`
	Price       string `json:"price" validate:"required,money"` // decimal string, e.g. "10.00"
	Stock       int    `json:"stock" validate:"min=0,max=2147483647"`
}

// UpdateProductRequest is the payload for PUT /products/:id. Omitted fields
// keep their value.
type UpdateProductRequest struct {
	Name        *string `json:"name" validate:"omitempty,max=200"`
	Description *string `json:"description" validate:"omitempty,max=2000"`
	Price       *string `json:"price" validate:"omitempty,money"`
	Stock       *int    `json:"stock" validate:"omitempty,min=0,max=2147483647"`
}

// StockDeltaRequest is the payload for POST /products/:id/stock
type StockDeltaRequest struct {
	Delta int `json:"delta" validate:"required,min=-2147483647,max=2147483647"` // non-zero; negative removes stock
}

// AddCartItemRequest is the payload for POST /cart
type AddCartItemRequest struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,min=1,max=2147483647"`
}

// UpdateCartItemRequest is the payload for PUT /cart/:itemId
type UpdateCartItemRequest struct {
	Quantity int `json:"quantity" validate:"required,min=1,max=2147483647"`
}

// UpdateStatusRequest is the payload for PUT /orders/:id/status and PUT /returns/:id
type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

// CreateReturnRequest is the payload for POST /returns
type CreateReturnRequest struct {
	OrderID string `json:"order_id" validate:"required"`
	Reason  string `json:"reason" validate:"required,max=1000"`
}
