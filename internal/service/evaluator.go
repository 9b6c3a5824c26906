package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/laoweather/backend/internal/domain"
	"github.com/laoweather/backend/pkg/utils"
)

// Rule keys recorded in alert metadata.
const (
	RuleHeavyRain       = "heavy_rain"
	RuleStrongWind      = "strong_wind"
	RuleHotTemperature  = "hot_temperature"
	RuleColdTemperature = "cold_temperature"
	RuleLowPressure     = "low_pressure"
	RuleLightning       = "lightning"
	RuleForecastHot     = "forecast_hot_temperature"
	RuleForecastCold    = "forecast_cold_temperature"
	RuleForecastRain    = "forecast_heavy_rain"
)

var recommendations = map[string][]string{
	RuleHeavyRain: {
		"Avoid unnecessary travel",
		"Watch for flash flooding",
		"Follow official updates",
		"Prepare emergency supplies",
	},
	RuleStrongWind: {
		"Stay indoors where possible",
		"Beware of falling objects",
		"Secure roofs, doors and windows",
		"Avoid driving",
	},
	RuleHotTemperature: {
		"Avoid outdoor exercise",
		"Drink plenty of water",
		"Stay in shade or air conditioning",
		"Wear light, loose clothing",
	},
	RuleColdTemperature: {
		"Wear warm layers",
		"Watch for cardiovascular strain",
		"Check on elderly people and children",
		"Check home heating",
	},
	RuleLowPressure: {
		"Prepare for storms or strong wind",
		"Follow the forecast closely",
		"Check that your home is secure",
		"Prepare an evacuation plan if needed",
	},
	RuleLightning: {
		"Stay inside a safe building",
		"Avoid using electrical appliances",
		"Keep away from trees and power poles",
		"Wait for the storm to pass before going out",
	},
	RuleForecastHot: {
		"Plan to avoid the heat",
		"Stock extra drinking water",
		"Check air conditioning",
		"Schedule activities for cooler hours",
	},
	RuleForecastCold: {
		"Prepare warm clothing",
		"Check heating",
		"Plan care for elderly people",
		"Plan indoor activities",
	},
	RuleForecastRain: {
		"Plan alternative travel routes",
		"Check drainage",
		"Prepare backup supplies",
		"Follow official updates",
	},
}

// Evaluator applies the fixed threshold rules. It is pure: the same inputs
// always produce the same drafts.
type Evaluator struct {
	thresholds domain.Thresholds
}

// NewEvaluator creates an evaluator for the given thresholds.
func NewEvaluator(thresholds domain.Thresholds) *Evaluator {
	return &Evaluator{thresholds: thresholds}
}

// Evaluate turns one city's current observation, plus optional forecast points,
// into candidate alerts. Current-condition rules come first in rule order,
// followed by forecast rules per point.
func (e *Evaluator) Evaluate(city domain.City, obs domain.Observation, forecasts []domain.ForecastPoint, now time.Time) []domain.AlertDraft {
	th := e.thresholds
	loc := city.Label()
	var drafts []domain.AlertDraft

	current := func(rule, typ string, p domain.Priority, title, message string) {
		snapshot := obs
		drafts = append(drafts, domain.AlertDraft{
			Type:     typ,
			Title:    fmt.Sprintf("%s - %s", title, loc),
			Message:  message,
			Priority: p,
			Metadata: e.metadata(city, rule, p, &snapshot, nil),
		})
	}

	if obs.Rainfall > th.HeavyRain {
		current(RuleHeavyRain, domain.TypeRain, e.rainPriority(obs.Rainfall), "Heavy rain warning",
			fmt.Sprintf("Current rainfall %.1f mm/h exceeds the %.0f mm/h threshold", obs.Rainfall, th.HeavyRain))
	}
	if obs.WindSpeed > th.StrongWind {
		current(RuleStrongWind, domain.TypeStorm, domain.PriorityHigh, "Strong wind warning",
			fmt.Sprintf("Current wind speed %.1f km/h exceeds the %.0f km/h threshold", obs.WindSpeed, th.StrongWind))
	}
	if obs.Temperature > th.HotTemp {
		current(RuleHotTemperature, domain.TypeWeather, domain.PriorityHigh, "Extreme heat warning",
			fmt.Sprintf("Current temperature %.1f°C exceeds the %.0f°C threshold", obs.Temperature, th.HotTemp))
	}
	if obs.Temperature < th.ColdTemp {
		current(RuleColdTemperature, domain.TypeWeather, domain.PriorityMedium, "Cold weather warning",
			fmt.Sprintf("Current temperature %.1f°C is below the %.0f°C threshold", obs.Temperature, th.ColdTemp))
	}
	if obs.Pressure < th.LowPressure {
		current(RuleLowPressure, domain.TypeStorm, domain.PriorityHigh, "Low pressure warning",
			fmt.Sprintf("Current pressure %.1f hPa is below the %.0f hPa threshold", obs.Pressure, th.LowPressure))
	}
	if obs.Lightning != nil && *obs.Lightning > th.Lightning {
		current(RuleLightning, domain.TypeStorm, domain.PriorityHigh, "Severe lightning warning",
			fmt.Sprintf("%.0f lightning strikes in 10 minutes exceeds the %.0f strike threshold", *obs.Lightning, th.Lightning))
	}

	for i := range forecasts {
		fp := forecasts[i]
		days := max(utils.CeilDays(now, fp.Timestamp), 1)
		date := fp.Timestamp.Format("2006-01-02")
		forecast := func(rule, typ string, p domain.Priority, title, message string) {
			snapshot := fp
			drafts = append(drafts, domain.AlertDraft{
				Type:     typ,
				Title:    fmt.Sprintf("%s in %s (%s) - %s", title, dayLabel(days), date, loc),
				Message:  message,
				Priority: p,
				Metadata: e.metadata(city, rule, p, nil, &snapshot),
			})
		}

		if fp.Temperature > th.HotTemp {
			forecast(RuleForecastHot, domain.TypeWeather, domain.PriorityHigh, "Forecast extreme heat",
				fmt.Sprintf("Predicted temperature %.1f°C on %s exceeds the %.0f°C threshold", fp.Temperature, date, th.HotTemp))
		}
		if fp.Temperature < th.ColdTemp {
			forecast(RuleForecastCold, domain.TypeWeather, domain.PriorityMedium, "Forecast cold weather",
				fmt.Sprintf("Predicted temperature %.1f°C on %s is below the %.0f°C threshold", fp.Temperature, date, th.ColdTemp))
		}
		if fp.Rainfall > th.HeavyRain {
			forecast(RuleForecastRain, domain.TypeRain, e.rainPriority(fp.Rainfall), "Forecast heavy rain",
				fmt.Sprintf("Predicted rainfall %.1f mm on %s exceeds the %.0f mm threshold", fp.Rainfall, date, th.HeavyRain))
		}
	}

	return drafts
}

func (e *Evaluator) rainPriority(rainfall float64) domain.Priority {
	if rainfall > e.thresholds.VeryHeavyRain {
		return domain.PriorityHigh
	}
	return domain.PriorityMedium
}

func (e *Evaluator) metadata(city domain.City, rule string, p domain.Priority, obs *domain.Observation, fp *domain.ForecastPoint) domain.AlertMetadata {
	return domain.AlertMetadata{
		Location:        city.Label(),
		CityID:          city.ID,
		Recommendations: strings.Join(recommendations[rule], "\n"),
		Rule:            rule,
		Severity:        string(p),
		AutoGenerated:   true,
		Observation:     obs,
		Forecast:        fp,
	}
}

func dayLabel(days int) string {
	if days == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", days)
}
