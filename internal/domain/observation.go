package domain

import (
	"math"
	"strings"
	"time"
)

// ObservationDraft is a normalized reading produced by the data source client,
// before the store has assigned an identity and an insert time.
type ObservationDraft struct {
	EntityKey   string   `json:"entity_key"`
	Temperature float64  `json:"temperature"`
	Humidity    *int     `json:"humidity,omitempty"`
	Pressure    *int     `json:"pressure,omitempty"`
	Description string   `json:"description"`
	WindSpeed   *float64 `json:"wind_speed,omitempty"`
	Clouds      *int     `json:"clouds,omitempty"`
}

// Observation is a persisted reading. ID and CreatedAt are store-assigned.
type Observation struct {
	ID          int64     `json:"id"`
	EntityKey   string    `json:"entity_key"`
	Temperature float64   `json:"temperature"`
	Humidity    *int      `json:"humidity,omitempty"`
	Pressure    *int      `json:"pressure,omitempty"`
	Description string    `json:"description"`
	WindSpeed   *float64  `json:"wind_speed,omitempty"`
	Clouds      *int      `json:"clouds,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Normalize returns the draft as it should be written: temperature rounded to
// one decimal and the entity key trimmed.
func (d ObservationDraft) Normalize() ObservationDraft {
	d.EntityKey = strings.TrimSpace(d.EntityKey)
	d.Temperature = RoundTenth(d.Temperature)
	return d
}

// Draft returns the observation without its store-assigned fields.
func (o Observation) Draft() ObservationDraft {
	return ObservationDraft{
		EntityKey:   o.EntityKey,
		Temperature: o.Temperature,
		Humidity:    o.Humidity,
		Pressure:    o.Pressure,
		Description: o.Description,
		WindSpeed:   o.WindSpeed,
		Clouds:      o.Clouds,
	}
}

// FromDraft builds a stored observation from a draft and store-assigned fields.
func FromDraft(d ObservationDraft, id int64, createdAt time.Time) Observation {
	return Observation{
		ID:          id,
		EntityKey:   d.EntityKey,
		Temperature: d.Temperature,
		Humidity:    d.Humidity,
		Pressure:    d.Pressure,
		Description: d.Description,
		WindSpeed:   d.WindSpeed,
		Clouds:      d.Clouds,
		CreatedAt:   createdAt,
	}
}

// RoundTenth rounds v half away from zero to one decimal place.
func RoundTenth(v float64) float64 {
	return math.Round(v*10) / 10
}

// NormalizeKeys trims entity keys, drops blanks, and collapses duplicates,
// keeping the first occurrence's position.
func NormalizeKeys(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int { return &v }

// FloatPtr returns a pointer to v.
func FloatPtr(v float64) *float64 { return &v }
