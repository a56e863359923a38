package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const dateLayout = "2006-01-02T15:04:05.000Z"

type requestInfo struct {
	UserName      string `json:"userName"`
	TransactionID string `json:"transactionId"`
}

type reportRequest struct {
	AutomaticRequestInfo requestInfo `json:"automaticRequestInfo"`
	StartDate            string      `json:"startDate"`
	EndDate              string      `json:"endDate"`
	FleetList            string      `json:"fleetList"`
	InvoiceType          string      `json:"invoicE_TYPE"`
}

type pumpEvent struct {
	Plate        string      `json:"PLATE"`
	Quantity     json.Number `json:"QUANTITY"`
	ProductName  string      `json:"PRODUCT_NAME"`
	PumpTime     string      `json:"PUMP_TRNX_TIME"`
	StationTrxID string      `json:"STATION_TRNX_ID"`
	ViuID        string      `json:"VIU_ID,omitempty"`
	Amount       interface{} `json:"AMOUNT,omitempty"`
	UnitPrice    json.Number `json:"UNIT_PRICE,omitempty"`
}

var unitPrices = map[string]decimal.Decimal{
	"DIESEL": decimal.RequireFromString("42.15"),
	"BENZIN": decimal.RequireFromString("44.80"),
}

// generate returns the deterministic pump events whose slot falls in [from, to]. Every
// refuel is split into a few pump events a minute or two apart, so repeated calls over
// overlapping ranges return the same station ids.
func generate(from, to time.Time, vehicles int, period time.Duration) []pumpEvent {
	var events []pumpEvent
	for slot := from.Truncate(period); !slot.After(to); slot = slot.Add(period) {
		for v := 0; v < vehicles; v++ {
			start := slot.Add(time.Duration(v*7) * time.Minute)
			if start.Before(from) || start.After(to) {
				continue
			}
			product := "DIESEL"
			if v%3 == 0 {
				product = "BENZIN"
			}
			parts := 1 + int(start.Unix()/60+int64(v))%3
			for k := 0; k < parts; k++ {
				qty := decimal.NewFromInt(int64(10 + (v*13+k*7+int(start.Unix()/60))%40)).Div(decimal.NewFromInt(2))
				amount := qty.Mul(unitPrices[product]).Round(2)
				ev := pumpEvent{
					Plate:        fmt.Sprintf("34FLT%03d", v),
					Quantity:     json.Number(qty.String()),
					ProductName:  product,
					PumpTime:     start.Add(time.Duration(k*95) * time.Second).Format("2006-01-02T15:04:05"),
					StationTrxID: fmt.Sprintf("ST-%d-%d-%d", start.Unix(), v, k),
					ViuID:        fmt.Sprintf("VIU-%d", v%4),
					UnitPrice:    json.Number(unitPrices[product].String()),
				}
				// Mix the amount encodings seen in production.
				switch k % 3 {
				case 0:
					ev.Amount = json.Number(amount.String())
				case 1:
					ev.Amount = amount.StringFixed(2)
				default:
					ev.Amount = strings.Replace(amount.StringFixed(2), ".", ",", 1)
				}
				events = append(events, ev)
			}
		}
	}
	return events
}

func main() {
	addr := flag.String("addr", ":8088", "Listen address")
	vehicles := flag.Int("vehicles", 5, "Number of simulated vehicles")
	period := flag.Duration("period", 3*time.Hour, "Time between refuels of one vehicle")
	rpm := flag.Int("rpm", 30, "Requests per minute before answering 429")
	flag.Parse()

	limiter := rate.NewLimiter(rate.Every(time.Minute/time.Duration(*rpm)), 5) // Allow bursts up to 5
	var served atomic.Int64

	mux := http.NewServeMux()
	mux.HandleFunc("POST /", func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(w, `{"message":"too many requests"}`, http.StatusTooManyRequests)
			return
		}

		var req reportRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"message":"invalid request"}`, http.StatusBadRequest)
			return
		}
		from, err1 := time.Parse(dateLayout, req.StartDate)
		to, err2 := time.Parse(dateLayout, req.EndDate)
		if err1 != nil || err2 != nil || to.Before(from) {
			http.Error(w, `{"message":"invalid date range"}`, http.StatusBadRequest)
			return
		}

		events := generate(from, to, *vehicles, *period)
		inner, err := json.Marshal(events)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if len(events) == 0 {
			inner = []byte("[]")
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"jsoN_ReturnData": string(inner),
			"resultCode":      0,
			"requestId":       uuid.NewString(),
		})

		n := served.Add(1)
		log.Printf("request %d from %s (%s): %s .. %s -> %d events",
			n, req.AutomaticRequestInfo.UserName, req.AutomaticRequestInfo.TransactionID, req.StartDate, req.EndDate, len(events))
	})

	log.Printf("Starting fake fuel API on %s", *addr)
	log.Printf("Vehicles: %d, Period: %s, RPM: %d", *vehicles, *period, *rpm)
	if err := http.ListenAndServe(*addr, mux); err != nil {
		log.Fatal(err)
	}
}
