package repository

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"persona-runtime/internal/domain"
)

// MetricRepository es el contrato del time-series store (C6): escrituras
// append-only en el hot path y lecturas de ventana para el analizador de
// trayectoria.
type MetricRepository interface {
	Write(ctx context.Context, point domain.MetricPoint) error
	Range(ctx context.Context, measurement, characterID, userID string, since time.Time, k int) ([]domain.MetricPoint, error)
}

// RedisMetricRepository guarda cada (measurement, character, user) en un
// stream propio, recortado por longitud aproximada.
type RedisMetricRepository struct {
	client *redis.Client
	maxLen int64
}

func NewRedisMetricRepository(client *redis.Client) *RedisMetricRepository {
	return &RedisMetricRepository{client: client, maxLen: 10000}
}

func metricStreamKey(measurement, characterID, userID string) string {
	return fmt.Sprintf("metrics:%s:%s:%s", measurement, characterID, userID)
}

func (r *RedisMetricRepository) Write(ctx context.Context, point domain.MetricPoint) error {
	characterID := point.Tags["character"]
	userID := point.Tags["user_id"]
	if point.Measurement == "" || characterID == "" || userID == "" {
		return fmt.Errorf("metric point needs measurement, character and user_id tags")
	}
	ts := point.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	values := make(map[string]interface{}, len(point.Tags)+len(point.Fields)+1)
	values["ts_ns"] = strconv.FormatInt(ts.UnixNano(), 10)
	for k, v := range point.Tags {
		values["tag:"+k] = v
	}
	for k, v := range point.Fields {
		values["field:"+k] = strconv.FormatFloat(v, 'f', -1, 64)
	}

	return r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: metricStreamKey(point.Measurement, characterID, userID),
		MaxLen: r.maxLen,
		Approx: true,
		ID:     fmt.Sprintf("%d-*", ts.UnixMilli()),
		Values: values,
	}).Err()
}

// Range lee los puntos desde `since` en orden cronologico.
func (r *RedisMetricRepository) Range(ctx context.Context, measurement, characterID, userID string, since time.Time, k int) ([]domain.MetricPoint, error) {
	if k <= 0 {
		k = 100
	}
	start := fmt.Sprintf("%d-0", since.UnixMilli())
	entries, err := r.client.XRangeN(ctx, metricStreamKey(measurement, characterID, userID), start, "+", int64(k)).Result()
	if err != nil {
		return nil, err
	}

	points := make([]domain.MetricPoint, 0, len(entries))
	for _, entry := range entries {
		p := domain.MetricPoint{
			Measurement: measurement,
			Tags:        map[string]string{},
			Fields:      map[string]float64{},
		}
		for k, raw := range entry.Values {
			val, ok := raw.(string)
			if !ok {
				continue
			}
			switch {
			case k == "ts_ns":
				ns, err := strconv.ParseInt(val, 10, 64)
				if err == nil {
					p.Timestamp = time.Unix(0, ns).UTC()
				}
			case strings.HasPrefix(k, "tag:"):
				p.Tags[strings.TrimPrefix(k, "tag:")] = val
			case strings.HasPrefix(k, "field:"):
				f, err := strconv.ParseFloat(val, 64)
				if err == nil {
					p.Fields[strings.TrimPrefix(k, "field:")] = f
				}
			}
		}
		points = append(points, p)
	}
	return points, nil
}

var _ MetricRepository = (*RedisMetricRepository)(nil)
