package disbursement

import "encoding/json"

// TransferRequest is what a backend needs to move an asset. Quantity is in base units.
type TransferRequest struct {
	DestinationAddress string
	AssetID            string
	Quantity           int64
}

// TransferReceipt is produced by a backend on a confirmed send.
type TransferReceipt struct {
	TxID string
	Raw  json.RawMessage
}

// Confirmed reports whether the receipt proves the transfer happened.
func (r *TransferReceipt) Confirmed() bool {
	return r != nil && r.TxID != ""
}
