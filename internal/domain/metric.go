package domain

import "time"

// Mediciones congeladas del time-series store.
const (
	MeasurementUserEmotion  = "user_emotion"
	MeasurementBotEmotion   = "bot_emotion"
	MeasurementConfidence   = "confidence"
	MeasurementQuality      = "quality"
	MeasurementRelationship = "relationship"
)

// MetricPoint es un punto numerico etiquetado, append-only.
type MetricPoint struct {
	Measurement string             `json:"measurement"`
	Tags        map[string]string  `json:"tags"`
	Fields      map[string]float64 `json:"fields"`
	Timestamp   time.Time          `json:"timestamp"`
}
