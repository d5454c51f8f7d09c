package model

import "time"

type NotificationKind string

const (
	NotificationMissionStarted NotificationKind = "mission_started"
	NotificationMissionDone    NotificationKind = "mission_done"
)

// Notification is one outbound phone call request queued for dispatch.
type Notification struct {
	ID        string           `json:"id"`
	Kind      NotificationKind `json:"kind"`
	Phone     string           `json:"phone"`
	UnderTest bool             `json:"under_test"`
	CarID     int              `json:"car_id"`
	OrderID   int              `json:"order_id"`
	CreatedAt time.Time        `json:"created_at"`
}
