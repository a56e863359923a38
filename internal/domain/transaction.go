package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RawItem is one untyped transaction object as returned by the upstream reporting API.
type RawItem map[string]json.RawMessage

// RawTransaction is a single pump event parsed from the upstream payload.
// It lives only for the duration of one import run.
type RawTransaction struct {
	VehiclePlate   string
	DeviceID       string
	Quantity       decimal.Decimal
	ProductName    string
	TimestampUTC   time.Time
	SourceRecordID string
	TotalPrice     decimal.Decimal
	UnitPrice      decimal.Decimal
}

// ConsolidatedEvent is one logical refueling event built from one or more pump events
// of the same vehicle and device.
type ConsolidatedEvent struct {
	// GeneratedID is assigned when the event is persisted.
	GeneratedID   uuid.UUID       `json:"transaction_id"`
	VehiclePlate  string          `json:"license_plate"`
	DeviceID      string          `json:"viu_id"`
	ProductName   string          `json:"fuel_type"`
	TimestampUTC  time.Time       `json:"transaction_date"`
	TotalQuantity decimal.Decimal `json:"fuel_amount"`
	TotalPrice    decimal.Decimal `json:"total_price"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	// SourceRecordIDs are the member ids in chronological order.
	SourceRecordIDs []string `json:"station_transaction_ids"`
}
