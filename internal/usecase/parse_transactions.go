package usecase

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/V4T54L/fuel-importer/internal/domain"
	"github.com/shopspring/decimal"
)

// Upstream field names.
const (
	fieldPlate       = "PLATE"
	fieldQuantity    = "QUANTITY"
	fieldProductName = "PRODUCT_NAME"
	fieldPumpTime    = "PUMP_TRNX_TIME"
	fieldStationTxID = "STATION_TRNX_ID"
	fieldDeviceID    = "VIU_ID"
	fieldAmount      = "AMOUNT"
	fieldUnitPrice   = "UNIT_PRICE"
)

var (
	// 1234.5, 1,234.5, -0.25
	invariantNumber = regexp.MustCompile(`^[+-]?(\d{1,3}(,\d{3})+|\d+)?(\.\d+)?$`)
	// 1234,5, 1.234,5
	commaDecimalNumber = regexp.MustCompile(`^[+-]?(\d{1,3}(\.\d{3})+|\d+)?(,\d+)?$`)

	timestampLayouts = []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02 15:04:05",
	}
)

// ParseResult holds the transactions parsed from one payload and the items that were rejected.
type ParseResult struct {
	Transactions []domain.RawTransaction
	// Rejected holds one *domain.RecordError per malformed item.
	Rejected []error
	// Dropped counts items whose STATION_TRNX_ID was blank.
	Dropped int
}

// DecodePayload decodes the upstream transaction array. Blank input, "[]" and an
// empty array return domain.ErrEmptyPayload. Array elements that are not JSON
// objects decode to a nil RawItem and are rejected by ParseTransactions.
func DecodePayload(payload []byte) ([]domain.RawItem, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("[]")) || bytes.Equal(trimmed, []byte("null")) {
		return nil, domain.ErrEmptyPayload
	}

	var elements []json.RawMessage
	if err := json.Unmarshal(trimmed, &elements); err != nil {
		return nil, fmt.Errorf("decode transaction array: %w", err)
	}
	if len(elements) == 0 {
		return nil, domain.ErrEmptyPayload
	}

	items := make([]domain.RawItem, len(elements))
	for i, el := range elements {
		var item domain.RawItem
		if err := json.Unmarshal(el, &item); err != nil {
			continue
		}
		items[i] = item
	}
	return items, nil
}

// ParseTransactions converts raw upstream items into RawTransactions, preserving input order.
// Malformed items are collected in Rejected and the rest of the batch is still parsed.
// Items with a blank STATION_TRNX_ID are dropped without an error.
func ParseTransactions(items []domain.RawItem) ParseResult {
	result := ParseResult{Transactions: make([]domain.RawTransaction, 0, len(items))}
	for i, item := range items {
		tx, keep, err := parseItem(i, item)
		if err != nil {
			result.Rejected = append(result.Rejected, err)
			continue
		}
		if !keep {
			result.Dropped++
			continue
		}
		result.Transactions = append(result.Transactions, tx)
	}
	return result
}

func parseItem(index int, item domain.RawItem) (domain.RawTransaction, bool, error) {
	if item == nil {
		return domain.RawTransaction{}, false, &domain.RecordError{Index: index, Reason: "not a JSON object"}
	}
	malformed := func(field, reason string) error {
		return &domain.RecordError{Index: index, Field: field, Reason: reason}
	}

	for _, field := range []string{fieldPlate, fieldQuantity, fieldProductName, fieldPumpTime, fieldStationTxID} {
		if _, ok := item[field]; !ok {
			return domain.RawTransaction{}, false, malformed(field, "is missing")
		}
	}

	sourceID, err := textValue(item[fieldStationTxID])
	if err != nil {
		return domain.RawTransaction{}, false, malformed(fieldStationTxID, err.Error())
	}
	sourceID = strings.TrimSpace(sourceID)
	if sourceID == "" {
		return domain.RawTransaction{}, false, nil
	}

	plate, err := stringValue(item[fieldPlate])
	if err != nil {
		return domain.RawTransaction{}, false, malformed(fieldPlate, err.Error())
	}
	plate = strings.TrimSpace(plate)
	if plate == "" {
		return domain.RawTransaction{}, false, malformed(fieldPlate, "is blank")
	}

	product, err := stringValue(item[fieldProductName])
	if err != nil {
		return domain.RawTransaction{}, false, malformed(fieldProductName, err.Error())
	}

	quantity, err := quantityValue(item[fieldQuantity])
	if err != nil {
		return domain.RawTransaction{}, false, malformed(fieldQuantity, err.Error())
	}

	rawTime, err := stringValue(item[fieldPumpTime])
	if err != nil {
		return domain.RawTransaction{}, false, malformed(fieldPumpTime, err.Error())
	}
	ts, err := ParseTimestamp(rawTime)
	if err != nil {
		return domain.RawTransaction{}, false, malformed(fieldPumpTime, err.Error())
	}

	return domain.RawTransaction{
		VehiclePlate:   plate,
		DeviceID:       optionalText(item[fieldDeviceID]),
		Quantity:       quantity,
		ProductName:    product,
		TimestampUTC:   ts,
		SourceRecordID: sourceID,
		TotalPrice:     amountValue(item[fieldAmount]),
		UnitPrice:      numberOnlyValue(item[fieldUnitPrice]),
	}, true, nil
}

// ParseTimestamp parses an upstream timestamp and normalizes it to UTC.
// Timestamps without a zone are taken as UTC.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", value)
}

// ParseInvariantDecimal parses s with "." as decimal separator and optional "," thousands groups.
func ParseInvariantDecimal(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if !hasDigit(s) || !invariantNumber.MatchString(s) {
		return decimal.Zero, fmt.Errorf("invalid invariant decimal %q", s)
	}
	return decimal.NewFromString(strings.ReplaceAll(s, ",", ""))
}

// ParseCommaDecimal parses s with "," as decimal separator and optional "." thousands groups.
func ParseCommaDecimal(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if !hasDigit(s) || !commaDecimalNumber.MatchString(s) {
		return decimal.Zero, fmt.Errorf("invalid comma decimal %q", s)
	}
	s = strings.ReplaceAll(s, ".", "")
	return decimal.NewFromString(strings.Replace(s, ",", ".", 1))
}

func hasDigit(s string) bool {
	return strings.ContainsAny(s, "0123456789")
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func isString(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '"'
}

func isNumber(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return false
	}
	c := trimmed[0]
	return c == '-' || (c >= '0' && c <= '9')
}

func stringValue(raw json.RawMessage) (string, error) {
	if !isString(raw) {
		return "", fmt.Errorf("is not a string")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", err
	}
	return s, nil
}

// textValue accepts a JSON string or number. null reads as "".
func textValue(raw json.RawMessage) (string, error) {
	switch {
	case isNull(raw):
		return "", nil
	case isNumber(raw):
		return string(bytes.TrimSpace(raw)), nil
	default:
		return stringValue(raw)
	}
}

func optionalText(raw json.RawMessage) string {
	s, err := textValue(raw)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func quantityValue(raw json.RawMessage) (decimal.Decimal, error) {
	switch {
	case isNumber(raw):
		return decimal.NewFromString(string(bytes.TrimSpace(raw)))
	case isString(raw):
		s, err := stringValue(raw)
		if err != nil {
			return decimal.Zero, err
		}
		return ParseInvariantDecimal(s)
	default:
		return decimal.Zero, fmt.Errorf("is not numeric")
	}
}

// amountValue reads AMOUNT: a JSON number, or a string in invariant or comma-decimal
// format. Anything else is zero.
func amountValue(raw json.RawMessage) decimal.Decimal {
	switch {
	case isNumber(raw):
		return numberOnlyValue(raw)
	case isString(raw):
		s, err := stringValue(raw)
		if err != nil {
			return decimal.Zero
		}
		if d, err := ParseInvariantDecimal(s); err == nil {
			return d
		}
		if d, err := ParseCommaDecimal(s); err == nil {
			return d
		}
	}
	return decimal.Zero
}

func numberOnlyValue(raw json.RawMessage) decimal.Decimal {
	if !isNumber(raw) {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(string(bytes.TrimSpace(raw)))
	if err != nil {
		return decimal.Zero
	}
	return d
}
