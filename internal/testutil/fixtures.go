package testutil

import (
	"time"

	"github.com/cassiomorais/disbursements/internal/domain/disbursement"
	"github.com/google/uuid"
)

const (
	TestAddress = "lq1qq2xvpcvfup5j8zscjq05u2wxxjcyewk7979f3mmz5l7uw5pqmx6xf5xy50hsn6vhkm5euwt72x878eq6zxx2z58hd7zrsg9qn"
	TestAssetID = "ce091c998b83c78bb71a632313ba3760f1763d9cfcffae02258ffa9865a37bd2"
)

func NewTestUnit(orderID, lineItemID string, quantity int64) *disbursement.PayableUnit {
	now := time.Now()
	return &disbursement.PayableUnit{
		ID:                 uuid.New(),
		OrderID:            orderID,
		LineItemID:         lineItemID,
		SKU:                "SKU-" + lineItemID,
		DestinationAddress: TestAddress,
		AssetID:            TestAssetID,
		Quantity:           quantity,
		SendStatus:         disbursement.StatusUnset,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

func NewSentUnit(orderID, lineItemID, txID string) *disbursement.PayableUnit {
	u := NewTestUnit(orderID, lineItemID, 1)
	_ = u.MarkSent(txID)
	return u
}

func NewFailedUnit(orderID, lineItemID, detail string) *disbursement.PayableUnit {
	u := NewTestUnit(orderID, lineItemID, 1)
	_ = u.MarkFailed(detail)
	return u
}

func NodeRPCConfig(host string) disbursement.BackendConfig {
	return disbursement.BackendConfig{
		Mode:        disbursement.ModeNodeRPC,
		RPCHost:     host,
		RPCUser:     "rpcuser",
		RPCPass:     "rpcpass",
		AdminEmails: []string{"admin@shop.tld"},
	}
}

func HostedAPIConfig() disbursement.BackendConfig {
	return disbursement.BackendConfig{
		Mode:        disbursement.ModeHostedAPI,
		APIKey:      "token",
		AdminEmails: []string{"admin@shop.tld"},
	}
}

func StringPtr(s string) *string {
	return &s
}
