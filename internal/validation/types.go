package validation

// CartLineRequest is one line of the client's cart snapshot. Name, price
// and image are display echoes copied from catalog data on the client;
// they are accepted for wire compatibility and then discarded — the
// engine re-derives both from the ledger. Quantity deliberately carries
// no minimum: non-positive values are clamped to 1 by policy, not
// rejected.
type CartLineRequest struct {
	ProductID  string `json:"product_id"`
	Quantity   int    `json:"quantity"`
	Name       string `json:"name,omitempty"`
	PriceCents int64  `json:"price_cents,omitempty"`
	Image      string `json:"image,omitempty"`
}

// DeliveryAddressRequest mirrors the address snapshot stored on orders.
type DeliveryAddressRequest struct {
	FullName     string `json:"full_name" validate:"required"`
	Phone        string `json:"phone,omitempty"`
	AddressLine1 string `json:"address_line1" validate:"required"`
	AddressLine2 string `json:"address_line2,omitempty"`
	City         string `json:"city" validate:"required"`
	State        string `json:"state,omitempty"`
	PostalCode   string `json:"postal_code,omitempty"`
}

// CheckoutRequest is the payload for POST /orders. An empty items list is
// allowed through binding so the engine can answer it with its own
// distinct failure mode.
type CheckoutRequest struct {
	Items           []CartLineRequest      `json:"items"`
	DeliveryAddress DeliveryAddressRequest `json:"delivery_address" validate:"required"`
	PaymentMethod   string                 `json:"payment_method" validate:"omitempty,oneof=cod card"`
}

// ProductUpsertRequest is the admin payload for creating or replacing a
// catalog product.
type ProductUpsertRequest struct {
	ProductID   string `json:"product_id,omitempty" validate:"omitempty,uuid4"`
	Name        string `json:"name" validate:"required"`
	Description string `json:"description,omitempty"`
	PriceCents  int64  `json:"price_cents" validate:"gte=0"`
	Stock       int    `json:"stock" validate:"gte=0"`
	Image       string `json:"image,omitempty"`
	Category    string `json:"category,omitempty"`
}

// StatusUpdateRequest is the admin payload for PATCH /orders/:id/status.
type StatusUpdateRequest struct {
	Status string `json:"status" validate:"required"`
}
