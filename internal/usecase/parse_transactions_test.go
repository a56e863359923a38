package usecase

import (
	"errors"
	"testing"
	"time"

	"github.com/V4T54L/fuel-importer/internal/domain"
	"github.com/shopspring/decimal"
)

func mustDecode(t *testing.T, payload string) []domain.RawItem {
	t.Helper()
	items, err := DecodePayload([]byte(payload))
	if err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	return items
}

func TestDecodePayload_EmptySentinels(t *testing.T) {
	for _, payload := range []string{"", "   ", "[]", "null", "[ ]"} {
		_, err := DecodePayload([]byte(payload))
		if !errors.Is(err, domain.ErrEmptyPayload) {
			t.Errorf("payload %q: expected ErrEmptyPayload, got %v", payload, err)
		}
	}
}

func TestDecodePayload_InvalidJSON(t *testing.T) {
	_, err := DecodePayload([]byte(`[{"PLATE": "x"`))
	if err == nil {
		t.Fatal("expected an error, got nil")
	}
	if errors.Is(err, domain.ErrEmptyPayload) {
		t.Fatal("invalid JSON must not be reported as empty payload")
	}
}

func TestParseTransactions(t *testing.T) {
	payload := `[
		{"PLATE": " 34ABC123 ", "QUANTITY": 10.5, "PRODUCT_NAME": "DIESEL", "PUMP_TRNX_TIME": "2024-05-01T10:00:00", "STATION_TRNX_ID": " a1 ", "VIU_ID": "V1", "AMOUNT": 420.75, "UNIT_PRICE": 40.07},
		{"PLATE": "34ABC123", "QUANTITY": "15", "PRODUCT_NAME": "DIESEL", "PUMP_TRNX_TIME": "2024-05-01T13:02:00+03:00", "STATION_TRNX_ID": "a2"},
		{"PLATE": "06XYZ99", "QUANTITY": 7, "PRODUCT_NAME": "BENZIN", "PUMP_TRNX_TIME": "2024-05-01 11:00:00", "STATION_TRNX_ID": "   "}
	]`

	res := ParseTransactions(mustDecode(t, payload))

	if len(res.Rejected) != 0 {
		t.Fatalf("expected no rejected items, got %v", res.Rejected)
	}
	if res.Dropped != 1 {
		t.Errorf("expected 1 dropped item, got %d", res.Dropped)
	}
	if len(res.Transactions) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(res.Transactions))
	}

	first := res.Transactions[0]
	if first.VehiclePlate != "34ABC123" {
		t.Errorf("expected trimmed plate, got %q", first.VehiclePlate)
	}
	if first.SourceRecordID != "a1" {
		t.Errorf("expected trimmed station id, got %q", first.SourceRecordID)
	}
	if !first.Quantity.Equal(decimal.RequireFromString("10.5")) {
		t.Errorf("unexpected quantity %s", first.Quantity)
	}
	if !first.TotalPrice.Equal(decimal.RequireFromString("420.75")) {
		t.Errorf("unexpected total price %s", first.TotalPrice)
	}
	if !first.UnitPrice.Equal(decimal.RequireFromString("40.07")) {
		t.Errorf("unexpected unit price %s", first.UnitPrice)
	}
	if first.DeviceID != "V1" {
		t.Errorf("unexpected device id %q", first.DeviceID)
	}
	wantTime := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	if !first.TimestampUTC.Equal(wantTime) || first.TimestampUTC.Location() != time.UTC {
		t.Errorf("expected %v in UTC, got %v", wantTime, first.TimestampUTC)
	}

	second := res.Transactions[1]
	if second.DeviceID != "" {
		t.Errorf("expected empty device id when VIU_ID is absent, got %q", second.DeviceID)
	}
	if !second.TotalPrice.IsZero() || !second.UnitPrice.IsZero() {
		t.Errorf("expected zero prices when absent, got %s / %s", second.TotalPrice, second.UnitPrice)
	}
	if !second.TimestampUTC.Equal(wantTime.Add(2 * time.Minute)) {
		t.Errorf("expected zoned time converted to UTC, got %v", second.TimestampUTC)
	}
}

func TestParseTransactions_SkipsMalformedItems(t *testing.T) {
	payload := `[
		{"PLATE": "A", "QUANTITY": 1, "PRODUCT_NAME": "D", "PUMP_TRNX_TIME": "2024-05-01T10:00:00Z", "STATION_TRNX_ID": "ok-1"},
		{"QUANTITY": 1, "PRODUCT_NAME": "D", "PUMP_TRNX_TIME": "2024-05-01T10:00:00Z", "STATION_TRNX_ID": "no-plate"},
		{"PLATE": "A", "QUANTITY": "ten", "PRODUCT_NAME": "D", "PUMP_TRNX_TIME": "2024-05-01T10:00:00Z", "STATION_TRNX_ID": "bad-qty"},
		{"PLATE": "A", "QUANTITY": 1, "PRODUCT_NAME": "D", "PUMP_TRNX_TIME": "yesterday", "STATION_TRNX_ID": "bad-time"},
		{"PLATE": "A", "QUANTITY": 1, "PRODUCT_NAME": "D", "PUMP_TRNX_TIME": "2024-05-01T10:00:00Z"},
		42,
		{"PLATE": "A", "QUANTITY": 2, "PRODUCT_NAME": "D", "PUMP_TRNX_TIME": "2024-05-01T10:01:00Z", "STATION_TRNX_ID": "ok-2"}
	]`

	res := ParseTransactions(mustDecode(t, payload))

	if len(res.Transactions) != 2 {
		t.Fatalf("expected 2 valid transactions, got %d", len(res.Transactions))
	}
	if res.Transactions[0].SourceRecordID != "ok-1" || res.Transactions[1].SourceRecordID != "ok-2" {
		t.Errorf("expected input order to be preserved, got %q, %q", res.Transactions[0].SourceRecordID, res.Transactions[1].SourceRecordID)
	}
	if len(res.Rejected) != 5 {
		t.Fatalf("expected 5 rejected items, got %d: %v", len(res.Rejected), res.Rejected)
	}
	for _, err := range res.Rejected {
		if !errors.Is(err, domain.ErrMalformedRecord) {
			t.Errorf("expected ErrMalformedRecord, got %v", err)
		}
	}
	var recErr *domain.RecordError
	if !errors.As(res.Rejected[0], &recErr) || recErr.Index != 1 || recErr.Field != fieldPlate {
		t.Errorf("unexpected first rejection: %v", res.Rejected[0])
	}
}

func TestParseTransactions_Amount(t *testing.T) {
	tests := []struct {
		name   string
		amount string
		want   string
	}{
		{name: "JSON number", amount: `1234.56`, want: "1234.56"},
		{name: "Invariant string", amount: `"1234.56"`, want: "1234.56"},
		{name: "Invariant with thousands", amount: `"1,234.56"`, want: "1234.56"},
		{name: "Comma decimal", amount: `"1.234,56"`, want: "1234.56"},
		{name: "Comma decimal without groups", amount: `"12,5"`, want: "12.5"},
		{name: "Unparsable string", amount: `"n/a"`, want: "0"},
		{name: "Boolean", amount: `true`, want: "0"},
		{name: "Null", amount: `null`, want: "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := `[{"PLATE": "A", "QUANTITY": 1, "PRODUCT_NAME": "D", "PUMP_TRNX_TIME": "2024-05-01T10:00:00Z", "STATION_TRNX_ID": "x", "AMOUNT": ` + tt.amount + `}]`
			res := ParseTransactions(mustDecode(t, payload))
			if len(res.Transactions) != 1 {
				t.Fatalf("expected 1 transaction, got %d (rejected: %v)", len(res.Transactions), res.Rejected)
			}
			if got := res.Transactions[0].TotalPrice; !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("expected total price %s, got %s", tt.want, got)
			}
		})
	}
}

func TestParseTransactions_UnitPriceOnlyAcceptsNumbers(t *testing.T) {
	payload := `[{"PLATE": "A", "QUANTITY": 1, "PRODUCT_NAME": "D", "PUMP_TRNX_TIME": "2024-05-01T10:00:00Z", "STATION_TRNX_ID": "x", "UNIT_PRICE": "40.5"}]`
	res := ParseTransactions(mustDecode(t, payload))
	if len(res.Transactions) != 1 {
		t.Fatalf("expected 1 transaction, got %d", len(res.Transactions))
	}
	if !res.Transactions[0].UnitPrice.IsZero() {
		t.Errorf("expected string UNIT_PRICE to default to 0, got %s", res.Transactions[0].UnitPrice)
	}
}

func TestParseInvariantDecimal_RejectsCommaDecimal(t *testing.T) {
	if _, err := ParseInvariantDecimal("1.234,56"); err == nil {
		t.Error("expected comma-decimal text to fail invariant parsing")
	}
	if _, err := ParseInvariantDecimal(""); err == nil {
		t.Error("expected empty text to fail")
	}
	d, err := ParseCommaDecimal("1.234,56")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Equal(decimal.RequireFromString("1234.56")) {
		t.Errorf("expected 1234.56, got %s", d)
	}
}
