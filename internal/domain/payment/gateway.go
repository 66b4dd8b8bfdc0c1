package payment

import (
	"context"

	"github.com/ehr/carehub/internal/platform/gateway"
)

// Gateway is the payment provider boundary. *gateway.Client implements it.
type Gateway interface {
	CreateTransaction(ctx context.Context, req *gateway.TransactionRequest) (*gateway.TransactionResponse, error)
	QueryStatus(ctx context.Context, orderID string) (*gateway.StatusFields, error)
	VerifyNotification(ctx context.Context, raw []byte) (*gateway.StatusFields, error)
}

// TransactionRequest converts the intent into the provider request.
func (p *PaymentIntent) TransactionRequest() *gateway.TransactionRequest {
	items := make([]gateway.ItemDetail, len(p.LineItems))
	for i, li := range p.LineItems {
		items[i] = gateway.ItemDetail{ID: li.ID, Name: li.Name, Price: li.Price, Quantity: li.Quantity}
	}
	return &gateway.TransactionRequest{
		OrderID:     p.OrderID,
		GrossAmount: p.GrossAmount,
		Items:       items,
		Customer: gateway.CustomerDetails{
			FirstName: p.Customer.FirstName,
			Email:     p.Customer.Email,
			Phone:     p.Customer.Phone,
		},
		RelatedEntityID:   p.EntityID.String(),
		RelatedEntityKind: string(p.EntityType),
	}
}
