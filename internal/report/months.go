package report

import (
	"strings"
	"time"
)

var months = map[string]time.Month{
	"enero":      time.January,
	"febrero":    time.February,
	"marzo":      time.March,
	"abril":      time.April,
	"mayo":       time.May,
	"junio":      time.June,
	"julio":      time.July,
	"agosto":     time.August,
	"septiembre": time.September,
	"setiembre":  time.September,
	"octubre":    time.October,
	"noviembre":  time.November,
	"diciembre":  time.December,
}

var accents = strings.NewReplacer("á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", "Á", "a", "É", "e", "Í", "i", "Ó", "o", "Ú", "u")

// ParseMonth resolves a Spanish month name, ignoring case and accents.
func ParseMonth(name string) (time.Month, bool) {
	key := accents.Replace(strings.ToLower(strings.TrimSpace(name)))
	m, ok := months[key]
	return m, ok
}

// MonthName returns the Spanish name used in reports.
func MonthName(m time.Month) string {
	switch m {
	case time.January:
		return "enero"
	case time.February:
		return "febrero"
	case time.March:
		return "marzo"
	case time.April:
		return "abril"
	case time.May:
		return "mayo"
	case time.June:
		return "junio"
	case time.July:
		return "julio"
	case time.August:
		return "agosto"
	case time.September:
		return "septiembre"
	case time.October:
		return "octubre"
	case time.November:
		return "noviembre"
	case time.December:
		return "diciembre"
	}
	return ""
}

// monthRange returns the [start, end) date bounds of a month as YYYY-MM-DD.
func monthRange(m time.Month, year int) (string, string) {
	start := time.Date(year, m, 1, 0, 0, 0, 0, time.UTC)
	return start.Format("2006-01-02"), start.AddDate(0, 1, 0).Format("2006-01-02")
}
