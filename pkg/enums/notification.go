package enums

// NotificationType maps to the notification_type enum in Postgres.
type NotificationType string

const (
	NotificationTypePayment NotificationType = "payment"
	NotificationTypePayout  NotificationType = "payout"
	NotificationTypeRefund  NotificationType = "refund"
)

var validNotificationTypes = []NotificationType{
	NotificationTypePayment,
	NotificationTypePayout,
	NotificationTypeRefund,
}

// IsValid checks whether the given type matches the canonical enum.
func (n NotificationType) IsValid() bool {
	for _, candidate := range validNotificationTypes {
		if candidate == n {
			return true
		}
	}
	return false
}
