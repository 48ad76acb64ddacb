package domain

import "time"

type ShipmentStatus string

const (
	ShipmentCreated   ShipmentStatus = "CREATED"
	ShipmentDelivered ShipmentStatus = "DELIVERED"
)

type Shipment struct {
	ID           int64
	OrderID      int64
	TrackingCode string
	Status       ShipmentStatus
	CreatedAt    time.Time
	DeliveredAt  time.Time
}
