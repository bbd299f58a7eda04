package orders

import "time"

// PaymentMethod is a tag only; actual payment processing lives elsewhere.
type PaymentMethod string

const (
	PaymentCOD  PaymentMethod = "cod"
	PaymentCard PaymentMethod = "card"
)

// ValidPaymentMethod reports whether m is a known tag.
func ValidPaymentMethod(m PaymentMethod) bool {
	return m == PaymentCOD || m == PaymentCard
}

// OrderLine is a historical copy of what was bought: name and unit price
// are frozen at placement time from the ledger, so later catalog edits
// never retroactively alter past orders.
type OrderLine struct {
	ProductID      string `dynamodbav:"product_id" json:"product_id"`
	Name           string `dynamodbav:"name" json:"name"`
	UnitPriceCents int64  `dynamodbav:"unit_price_cents" json:"unit_price_cents"`
	Quantity       int    `dynamodbav:"quantity" json:"quantity"`
	Image          string `dynamodbav:"image,omitempty" json:"image,omitempty"`
}

// DeliveryAddress is snapshotted onto the order at placement time.
type DeliveryAddress struct {
	FullName     string `dynamodbav:"full_name,omitempty" json:"full_name,omitempty"`
	Phone        string `dynamodbav:"phone,omitempty" json:"phone,omitempty"`
	AddressLine1 string `dynamodbav:"address_line1,omitempty" json:"address_line1,omitempty"`
	AddressLine2 string `dynamodbav:"address_line2,omitempty" json:"address_line2,omitempty"`
	City         string `dynamodbav:"city,omitempty" json:"city,omitempty"`
	State        string `dynamodbav:"state,omitempty" json:"state,omitempty"`
	PostalCode   string `dynamodbav:"postal_code,omitempty" json:"postal_code,omitempty"`
}

// Order represents the item stored in the orders DynamoDB table.
// Immutable once created, except for the monotonic status transition.
type Order struct {
	OrderID         string          `dynamodbav:"order_id" json:"order_id"` // PK
	UserID          string          `dynamodbav:"user_id" json:"user_id"`   // GSI user_id-index
	Lines           []OrderLine     `dynamodbav:"lines" json:"lines"`
	TotalCents      int64           `dynamodbav:"total_cents" json:"total_cents"`
	DeliveryAddress DeliveryAddress `dynamodbav:"delivery_address" json:"delivery_address"`
	PaymentMethod   PaymentMethod   `dynamodbav:"payment_method" json:"payment_method"`
	Status          Status          `dynamodbav:"status" json:"status"`
	CreatedAt       time.Time       `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `dynamodbav:"updated_at" json:"updated_at"`
}
