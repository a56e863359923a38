package usecase

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/V4T54L/fuel-importer/internal/domain"
)

// DefaultConsolidationWindow is the maximum span of one consolidated event.
const DefaultConsolidationWindow = 10 * time.Minute

// ConsolidationPolicy selects how pump events are grouped into refueling events.
type ConsolidationPolicy string

const (
	// PolicyAnchor merges records within the window of the group's first record.
	PolicyAnchor ConsolidationPolicy = "anchor"
	// PolicyBucket merges records falling in the same window-aligned time bucket.
	PolicyBucket ConsolidationPolicy = "bucket"
)

// ParseConsolidationPolicy validates a policy name. An empty name selects PolicyAnchor.
func ParseConsolidationPolicy(name string) (ConsolidationPolicy, error) {
	switch p := ConsolidationPolicy(strings.ToLower(strings.TrimSpace(name))); p {
	case "":
		return PolicyAnchor, nil
	case PolicyAnchor, PolicyBucket:
		return p, nil
	default:
		return "", fmt.Errorf("unknown consolidation policy %q", name)
	}
}

// Consolidator groups records per (vehicle plate, device id) using the configured policy.
type Consolidator struct {
	Policy ConsolidationPolicy
	Window time.Duration
}

// NewConsolidator returns a Consolidator. A zero window falls back to DefaultConsolidationWindow.
func NewConsolidator(policy ConsolidationPolicy, window time.Duration) Consolidator {
	if policy == "" {
		policy = PolicyAnchor
	}
	if window <= 0 {
		window = DefaultConsolidationWindow
	}
	return Consolidator{Policy: policy, Window: window}
}

// Consolidate applies the consolidator's policy.
func (c Consolidator) Consolidate(records []domain.RawTransaction) []domain.ConsolidatedEvent {
	if c.Policy == PolicyBucket {
		return ConsolidateBuckets(records, c.Window)
	}
	return Consolidate(records, c.Window)
}

type partitionKey struct {
	plate  string
	device string
}

// partition groups records by (plate, device) in first-seen order and sorts each
// group chronologically. Equal timestamps keep their input order.
func partition(records []domain.RawTransaction) [][]domain.RawTransaction {
	index := make(map[partitionKey]int)
	var groups [][]domain.RawTransaction
	for _, rec := range records {
		key := partitionKey{plate: rec.VehiclePlate, device: rec.DeviceID}
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], rec)
	}
	for _, g := range groups {
		slices.SortStableFunc(g, func(a, b domain.RawTransaction) int {
			return a.TimestampUTC.Compare(b.TimestampUTC)
		})
	}
	return groups
}

// Consolidate merges chronologically adjacent records of the same plate and device
// when they fall within window of the open group's anchor (its first record).
// The event timestamp is the anchor's timestamp.
func Consolidate(records []domain.RawTransaction, window time.Duration) []domain.ConsolidatedEvent {
	var events []domain.ConsolidatedEvent
	for _, group := range partition(records) {
		var current *domain.ConsolidatedEvent
		for _, rec := range group {
			if current != nil && rec.TimestampUTC.Sub(current.TimestampUTC) <= window {
				mergeInto(current, rec)
				continue
			}
			if current != nil {
				events = append(events, *current)
			}
			ev := openEvent(rec)
			current = &ev
		}
		if current != nil {
			events = append(events, *current)
		}
	}
	return events
}

// ConsolidateBuckets merges records of the same plate and device whose timestamps
// fall into the same window-aligned bucket. The event timestamp is the earliest member's.
func ConsolidateBuckets(records []domain.RawTransaction, window time.Duration) []domain.ConsolidatedEvent {
	var events []domain.ConsolidatedEvent
	for _, group := range partition(records) {
		var current *domain.ConsolidatedEvent
		var bucket time.Time
		for _, rec := range group {
			b := rec.TimestampUTC.Truncate(window)
			if current != nil && b.Equal(bucket) {
				mergeInto(current, rec)
				continue
			}
			if current != nil {
				events = append(events, *current)
			}
			ev := openEvent(rec)
			current = &ev
			bucket = b
		}
		if current != nil {
			events = append(events, *current)
		}
	}
	return events
}

func openEvent(rec domain.RawTransaction) domain.ConsolidatedEvent {
	return domain.ConsolidatedEvent{
		VehiclePlate:    rec.VehiclePlate,
		DeviceID:        rec.DeviceID,
		ProductName:     rec.ProductName,
		TimestampUTC:    rec.TimestampUTC,
		TotalQuantity:   rec.Quantity,
		TotalPrice:      rec.TotalPrice,
		UnitPrice:       rec.UnitPrice,
		SourceRecordIDs: []string{rec.SourceRecordID},
	}
}

func mergeInto(ev *domain.ConsolidatedEvent, rec domain.RawTransaction) {
	ev.TotalQuantity = ev.TotalQuantity.Add(rec.Quantity)
	ev.TotalPrice = ev.TotalPrice.Add(rec.TotalPrice)
	ev.SourceRecordIDs = append(ev.SourceRecordIDs, rec.SourceRecordID)
}
