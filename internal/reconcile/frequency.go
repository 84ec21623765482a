package reconcile

import (
	"math"
	"sort"

	"access-reconciler/internal/models"
)

// RoomStat summarises the access log of one product
type RoomStat struct {
	ProductID      string `json:"product_id"`
	RoomID         string `json:"room_id"`
	TotalAccess    int    `json:"total_access"`
	AccessGranted  int    `json:"access_granted"`
	AccessDenied   int    `json:"access_denied"`
	MostActiveHour int    `json:"most_active_hour"` // -1 when no timestamp parsed
	MostActiveDay  string `json:"most_active_day"`  // "N/A" when no timestamp parsed
}

// FrequencyReport is the per-room access breakdown with overall totals
type FrequencyReport struct {
	RoomStats        []RoomStat `json:"room_stats"`
	TotalRooms       int        `json:"total_rooms"`
	TotalAccess      int        `json:"total_access"`
	AvgAccessPerRoom float64    `json:"avg_access_per_room"`
}

type roomCounter struct {
	stat  RoomStat
	hours [24]int
	days  [7]int
	timed int
}

// RoomFrequency counts access attempts per product. Granted and denied
// counts follow Classify; deleted and unknown statuses count towards the
// total only. Events with unparseable timestamps are left out of the busiest
// hour and day. Rooms are sorted by total access, busiest first.
func RoomFrequency(events []models.AccessEvent, catalog []models.ProductCatalogEntry) FrequencyReport {
	rooms := roomsByProduct(catalog)
	counters := make(map[string]*roomCounter)
	var order []string

	for _, ev := range events {
		c, ok := counters[ev.ProductID]
		if !ok {
			c = &roomCounter{stat: RoomStat{ProductID: ev.ProductID, RoomID: rooms[ev.ProductID]}}
			counters[ev.ProductID] = c
			order = append(order, ev.ProductID)
		}

		c.stat.TotalAccess++
		switch Classify(ev.Status) {
		case Granted:
			c.stat.AccessGranted++
		case Denied:
			c.stat.AccessDenied++
		}

		if at := ParseTimestamp(ev.Timestamp); !at.IsZero() {
			c.hours[at.Hour()]++
			c.days[at.Weekday()]++
			c.timed++
		}
	}

	report := FrequencyReport{RoomStats: make([]RoomStat, 0, len(order))}
	for _, productID := range order {
		c := counters[productID]
		c.stat.MostActiveHour = -1
		c.stat.MostActiveDay = "N/A"
		if c.timed > 0 {
			c.stat.MostActiveHour = argmax(c.hours[:])
			c.stat.MostActiveDay = weekdayName(argmax(c.days[:]))
		}
		report.RoomStats = append(report.RoomStats, c.stat)
		report.TotalAccess += c.stat.TotalAccess
	}

	sort.SliceStable(report.RoomStats, func(i, j int) bool {
		a, b := report.RoomStats[i], report.RoomStats[j]
		if a.TotalAccess != b.TotalAccess {
			return a.TotalAccess > b.TotalAccess
		}
		return a.ProductID < b.ProductID
	})

	report.TotalRooms = len(report.RoomStats)
	if report.TotalRooms > 0 {
		avg := float64(report.TotalAccess) / float64(report.TotalRooms)
		report.AvgAccessPerRoom = math.Round(avg*100) / 100
	}
	return report
}

// argmax returns the first index holding the largest count
func argmax(counts []int) int {
	best := 0
	for i, n := range counts {
		if n > counts[best] {
			best = i
		}
	}
	return best
}

func weekdayName(d int) string {
	names := [...]string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}
	return names[d]
}
