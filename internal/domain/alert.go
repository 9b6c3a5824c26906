package domain

import (
	"strings"
	"time"
)

// Priority ranks an alert. Stored values are case-sensitive.
type Priority string

const (
	PriorityLow      Priority = "Low"
	PriorityMedium   Priority = "Medium"
	PriorityHigh     Priority = "High"
	PriorityCritical Priority = "Critical"
)

// Rank orders priorities, Critical highest. Unknown values rank below Low.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

// ParsePriority matches s case-insensitively against the known priorities.
func ParsePriority(s string) (Priority, bool) {
	for _, p := range []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical} {
		if strings.EqualFold(string(p), strings.TrimSpace(s)) {
			return p, true
		}
	}
	return "", false
}

// Status is the read state of an alert.
type Status string

const (
	StatusUnread Status = "Unread"
	StatusRead   Status = "Read"
)

// Alert types produced or recognised by this service.
const (
	TypeRain      = "rain"
	TypeStorm     = "storm"
	TypeWeather   = "weather"
	TypeFlood     = "flood"
	TypeDrought   = "drought"
	TypeEmergency = "emergency"
	TypeInfo      = "info"
	TypeWarning   = "warning"
	TypeError     = "error"
	TypeSuccess   = "success"
	TypeLSTM      = "LSTM"
	TypeSystem    = "System"
)

// WeatherAlertTypes are the types surfaced by the user-facing weather alert view.
var WeatherAlertTypes = []string{TypeWeather, TypeRain, TypeStorm, TypeDrought, TypeFlood, TypeEmergency}

// IsWeatherType reports whether t (any casing) is one of WeatherAlertTypes.
func IsWeatherType(t string) bool {
	for _, w := range WeatherAlertTypes {
		if strings.EqualFold(w, t) {
			return true
		}
	}
	return false
}

// PriorityForType is the fallback priority for rows stored without one.
func PriorityForType(t string) Priority {
	switch strings.ToLower(t) {
	case "error", "emergency", "storm", "flood":
		return PriorityHigh
	case "warning", "rain", "weather", "drought":
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// Source records which store an alert was read from.
type Source string

const (
	SourceDatabase Source = "database"
	SourceBuffer   Source = "buffer"
	SourceSystem   Source = "system"
)

// AlertMetadata is the free-form context attached to an alert.
type AlertMetadata struct {
	Location        string         `json:"location,omitempty"`
	CityID          int64          `json:"cityId,omitempty"`
	Recommendations string         `json:"recommendations,omitempty"`
	Rule            string         `json:"alertType,omitempty"`
	Severity        string         `json:"severity,omitempty"`
	AutoGenerated   bool           `json:"autoGenerated"`
	Observation     *Observation   `json:"weatherData,omitempty"`
	Forecast        *ForecastPoint `json:"forecast,omitempty"`
	ExpiresAt       *time.Time     `json:"expiresAt,omitempty"`
	Count           *int64         `json:"count,omitempty"`
}

// AlertDraft is a candidate alert that has not been deduplicated or stored.
type AlertDraft struct {
	Type     string
	Title    string
	Message  string
	Priority Priority
	Metadata AlertMetadata
}

// Alert is a notification in either the persisted store or the in-process buffer.
type Alert struct {
	// ID is the feed-facing identifier: db_<n> for persisted rows, a prefixed
	// token for buffer entries.
	ID string `json:"id"`
	// PersistedID links a buffer mirror to its stored row; 0 when not stored.
	PersistedID int64         `json:"-"`
	Type        string        `json:"type"`
	Title       string        `json:"title"`
	Message     string        `json:"message"`
	Priority    Priority      `json:"priority"`
	Status      Status        `json:"status"`
	Source      Source        `json:"source"`
	CreatedAt   time.Time     `json:"created_at"`
	Metadata    AlertMetadata `json:"metadata"`
}

// FromDraft builds an unread alert stamped at now.
func FromDraft(d AlertDraft, now time.Time) Alert {
	return Alert{
		Type:      d.Type,
		Title:     d.Title,
		Message:   d.Message,
		Priority:  d.Priority,
		Status:    StatusUnread,
		CreatedAt: now,
		Metadata:  d.Metadata,
	}
}

// Thresholds are the fixed alert rule limits.
type Thresholds struct {
	HeavyRain     float64 // mm/h
	VeryHeavyRain float64 // mm/h, splits High from Medium
	StrongWind    float64 // km/h
	HotTemp       float64 // °C
	ColdTemp      float64 // °C
	LowPressure   float64 // hPa
	Lightning     float64 // strikes / 10 min
}

// DefaultThresholds returns the production rule limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		HeavyRain:     50,
		VeryHeavyRain: 80,
		StrongWind:    40,
		HotTemp:       30,
		ColdTemp:      15,
		LowPressure:   1000,
		Lightning:     10,
	}
}
