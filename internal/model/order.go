package model

// Order statuses as reported by the fleet backend.
const (
	OrderStatusToAccept   = "to_accept"
	OrderStatusAccepted   = "accepted"
	OrderStatusInProgress = "in_progress"
	OrderStatusDone       = "done"
	OrderStatusCanceled   = "canceled"
)

type MobilePhone struct {
	Phone string `json:"phone"`
}

type OrderState struct {
	ID        int    `json:"id,omitempty"`
	OrderID   int    `json:"orderId"`
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp,omitempty"`
	CarID     int    `json:"carId,omitempty"`
}

type Order struct {
	ID                int          `json:"id"`
	CarID             int          `json:"carId"`
	TargetStopID      int          `json:"targetStopId"`
	StopRouteID       int          `json:"stopRouteId"`
	NotificationPhone *MobilePhone `json:"notificationPhone,omitempty"`
	LastState         *OrderState  `json:"lastState,omitempty"`
}

// Status returns the last known status, or "" if the backend sent none.
func (o Order) Status() string {
	if o.LastState == nil {
		return ""
	}
	return o.LastState.Status
}

func (o Order) Timestamp() int64 {
	if o.LastState == nil {
		return 0
	}
	return o.LastState.Timestamp
}

func (o Order) NotificationNumber() string {
	if o.NotificationPhone == nil {
		return ""
	}
	return o.NotificationPhone.Phone
}

// IsOrderFinished reports whether the order reached a terminal status.
func IsOrderFinished(o Order) bool {
	s := o.Status()
	return s == OrderStatusDone || s == OrderStatusCanceled
}

// LedgerOrder is the persisted projection of a tracked order.
type LedgerOrder struct {
	OrderID   int   `json:"order_id"`
	CarID     int   `json:"car_id"`
	Timestamp int64 `json:"timestamp"`
}
