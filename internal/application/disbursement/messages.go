package disbursement

import (
	"errors"
	"fmt"

	"github.com/cassiomorais/disbursements/internal/domain/disbursement"
	domainErrors "github.com/cassiomorais/disbursements/internal/domain/errors"
)

const notePrefix = "Liquid asset: "

// Fixed order notes. Their wording is relied upon by shop staff searching order histories.
const (
	MsgAlreadySent      = notePrefix + "asset already sent, not sending again."
	MsgPreviouslyFailed = notePrefix + "asset sending failed before, not trying again. Please check manually."
	MsgTrying           = notePrefix + "trying to send the asset to user."
)

func backendLabel(name string) string {
	switch disbursement.Mode(name) {
	case disbursement.ModeNodeRPC:
		return "node RPC"
	case disbursement.ModeHostedAPI:
		return "hosted API"
	default:
		return name
	}
}

func withOrderID(msg, orderID string) string {
	return msg + " Order ID: " + orderID
}

func msgConfiguration(err error) string {
	var ce *domainErrors.ConfigurationError
	if errors.As(err, &ce) {
		return fmt.Sprintf("%scould not process, %s.", notePrefix, ce.Error())
	}
	return fmt.Sprintf("%scould not process, %v.", notePrefix, err)
}

func msgSettingsUnavailable(err error) string {
	return fmt.Sprintf("%scould not load disbursement settings: %v", notePrefix, err)
}

func msgUnitsUnavailable(err error) string {
	return fmt.Sprintf("%scould not load the order's payable units: %v", notePrefix, err)
}

func msgMissingAssetID(sku string) string {
	return fmt.Sprintf("%sasset ID not configured on product SKU %s, aborting.", notePrefix, sku)
}

func msgSent(backend, txID string) string {
	return fmt.Sprintf("%sSuccessfully sent Liquid asset via %s. TXID: %s", notePrefix, backendLabel(backend), txID)
}

func msgSendFailed(backend, detail string) string {
	return fmt.Sprintf("%sERROR sending via %s: %s. Please check logs and send manually if needed.", notePrefix, backendLabel(backend), detail)
}

func msgBackendUnavailable(backend string) string {
	return fmt.Sprintf("%s%s is unavailable after repeated failures, asset not sent. Re-trigger this order once the backend is back.", notePrefix, backendLabel(backend))
}

func msgReconciliation(unit *disbursement.PayableUnit, txID string, err error) string {
	return fmt.Sprintf("%sasset sent (TXID: %s) for line item %s but its status could not be recorded: %v. This requires manual reconciliation before the order is triggered again.",
		notePrefix, txID, unit.LineItemID, err)
}

func msgAddressCheckFailed(address string, err error) string {
	return fmt.Sprintf("%sCould not validate address %s because of node RPC error: %v", notePrefix, disbursement.ShortAddress(address), err)
}

func msgAddressCheckUnavailable(address string, err error) string {
	return fmt.Sprintf("%sCould not validate address %s, rejecting it: %v", notePrefix, disbursement.ShortAddress(address), err)
}
