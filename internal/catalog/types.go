package catalog

import "time"

// Product is the item stored in the products DynamoDB table. Stock is
// mutated only through conditional decrements issued by the checkout
// engine (and through admin upserts); it is never blindly overwritten
// by order reads.
type Product struct {
	ProductID   string    `dynamodbav:"product_id" json:"product_id"` // PK, UUID
	Name        string    `dynamodbav:"name" json:"name"`
	Description string    `dynamodbav:"description,omitempty" json:"description,omitempty"`
	PriceCents  int64     `dynamodbav:"price_cents" json:"price_cents"`
	Stock       int       `dynamodbav:"stock" json:"stock"`
	Image       string    `dynamodbav:"image,omitempty" json:"image,omitempty"`
	Category    string    `dynamodbav:"category,omitempty" json:"category,omitempty"`
	CreatedAt   time.Time `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt   time.Time `dynamodbav:"updated_at" json:"updated_at"`
}
