package applewebhook

import (
	"encoding/json"

	"github.com/foundermark/friended-backend/internal/purchases"
)

// Notification types Apple's status URL posts for auto-renewable
// subscriptions.
const (
	NotificationCancel             = "CANCEL"
	NotificationRenewal            = "RENEWAL"
	NotificationInteractiveRenewal = "INTERACTIVE_RENEWAL"
)

// StatusNotification is the body Apple posts to the subscription status
// URL. Depending on the notification type the transaction detail arrives
// under latest_receipt_info or latest_expired_receipt_info, and either
// field may hold one object or a list.
type StatusNotification struct {
	NotificationType         string          `json:"notification_type"`
	Environment              string          `json:"environment,omitempty"`
	AutoRenewProductID       string          `json:"auto_renew_product_id,omitempty"`
	LatestReceipt            string          `json:"latest_receipt,omitempty"`
	LatestReceiptInfo        receiptInfoList `json:"latest_receipt_info,omitempty"`
	LatestExpiredReceiptInfo receiptInfoList `json:"latest_expired_receipt_info,omitempty"`
}

// ReceiptInfo returns the transaction detail the notification carries,
// preferring the live receipt over the expired one.
func (n *StatusNotification) ReceiptInfo() *purchases.ReceiptInfo {
	if info := purchases.LatestOf(n.LatestReceiptInfo); info != nil {
		return info
	}
	if len(n.LatestReceiptInfo) > 0 {
		return &n.LatestReceiptInfo[0]
	}
	if info := purchases.LatestOf(n.LatestExpiredReceiptInfo); info != nil {
		return info
	}
	if len(n.LatestExpiredReceiptInfo) > 0 {
		return &n.LatestExpiredReceiptInfo[0]
	}
	return nil
}

// ProductID returns the product the notification concerns.
func (n *StatusNotification) ProductID() string {
	if n.AutoRenewProductID != "" {
		return n.AutoRenewProductID
	}
	if info := n.ReceiptInfo(); info != nil {
		return info.ProductID
	}
	return ""
}

type receiptInfoList []purchases.ReceiptInfo

// UnmarshalJSON accepts both the single-object and the list form Apple
// uses across notification versions.
func (l *receiptInfoList) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '[' {
		var list []purchases.ReceiptInfo
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*l = list
		return nil
	}
	var single purchases.ReceiptInfo
	if err := json.Unmarshal(data, &single); err != nil {
		return err
	}
	*l = receiptInfoList{single}
	return nil
}
