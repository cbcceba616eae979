package service

import (
	"context"

	"github.com/mmeshcher/marketplace-ledger/internal/gateway"
)

//go:generate mockgen -source=gateway.go -destination=mocks/gateway.mock.go -package=mocks Gateway

// Gateway описывает операции платёжного шлюза, нужные сервису.
type Gateway interface {
	Initiate(ctx context.Context, req gateway.InitiateRequest) (gateway.InitiateResult, error)
	Verify(ctx context.Context, txRef string) (gateway.Verification, error)
}
