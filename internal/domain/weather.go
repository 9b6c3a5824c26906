package domain

import "time"

// Observation is one recorded weather reading for a city.
// Wind speed is km/h, rainfall mm/h, pressure hPa.
type Observation struct {
	ID          int64     `json:"id,omitempty"`
	CityID      int64     `json:"city_id"`
	Timestamp   time.Time `json:"timestamp"`
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	Pressure    float64   `json:"pressure"`
	WindSpeed   float64   `json:"wind_speed"`
	Rainfall    float64   `json:"rainfall"`
	// Lightning is strikes per 10 minutes; nil when the sensor does not report it.
	Lightning   *float64 `json:"lightning,omitempty"`
	Description string   `json:"description,omitempty"`
}

// Defaults applied when a stored observation has no value for a column.
const (
	DefaultRainfall  = 0.0
	DefaultWindSpeed = 0.0
	DefaultPressure  = 1013.0
)

// ForecastPoint is one machine-generated prediction for a city at a future instant.
type ForecastPoint struct {
	ID          int64     `json:"id,omitempty"`
	CityID      int64     `json:"city_id"`
	Timestamp   time.Time `json:"timestamp"`
	Temperature float64   `json:"predicted_temperature"`
	Humidity    float64   `json:"predicted_humidity"`
	Rainfall    float64   `json:"predicted_rainfall"`
	Pressure    float64   `json:"predicted_pressure"`
	WindSpeed   float64   `json:"predicted_wind_speed"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// ForecastSample is one raw row returned by the forecast service, before the
// timestamp has been normalized.
type ForecastSample struct {
	Time        string
	Temperature float64
	Humidity    float64
	Rainfall    float64
	Pressure    float64
	WindSpeed   float64
}

// ForecastRequest is the input sent to the forecast service for one city.
type ForecastRequest struct {
	Lat        float64
	Lon        float64
	Days       int
	Timestamp  time.Time
	Historical []Observation
	Context    *WeatherContext
}

// WeatherContext summarises a city's recent observations.
type WeatherContext struct {
	AvgTemperature float64 `json:"avg_temperature"`
	MinTemperature float64 `json:"min_temperature"`
	MaxTemperature float64 `json:"max_temperature"`
	AvgHumidity    float64 `json:"avg_humidity"`
	AvgPressure    float64 `json:"avg_pressure"`
	AvgWindSpeed   float64 `json:"avg_wind_speed"`
	TotalRainfall  float64 `json:"total_rainfall"`
	RecordCount    int     `json:"record_count"`
}

// ForecastStats summarises the stored machine-generated forecasts.
type ForecastStats struct {
	Today  int64          `json:"todayPredictions"`
	Total  int64          `json:"totalPredictions"`
	Latest *ForecastPoint `json:"latestPrediction"`
}

// ActivityCounts are row counts created since some instant, used for system notices.
type ActivityCounts struct {
	Observations int64 `json:"weather"`
	News         int64 `json:"news"`
	Users        int64 `json:"users"`
}
