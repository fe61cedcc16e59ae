package emotion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"persona-runtime/internal/domain"
)

// Analyzer clasifica texto en un EmotionRecord de esquema fijo.
type Analyzer interface {
	Analyze(ctx context.Context, text string) (domain.EmotionRecord, error)
}

// HTTPAnalyzer implementa Analyzer contra el clasificador externo.
type HTTPAnalyzer struct {
	baseURL string
	client  *http.Client
}

func NewHTTPAnalyzer(baseURL string, httpClient *http.Client) *HTTPAnalyzer {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPAnalyzer{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  httpClient,
	}
}

func (a *HTTPAnalyzer) Analyze(ctx context.Context, text string) (domain.EmotionRecord, error) {
	body, err := json.Marshal(analyzeRequest{Text: text})
	if err != nil {
		return domain.EmotionRecord{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return domain.EmotionRecord{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return domain.EmotionRecord{}, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.EmotionRecord{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return domain.EmotionRecord{}, fmt.Errorf("analyzer http error: status=%d", resp.StatusCode)
	}

	var record domain.EmotionRecord
	if err := json.Unmarshal(respBody, &record); err != nil {
		return domain.EmotionRecord{}, fmt.Errorf("unmarshal response: %w", err)
	}
	if record.PrimaryEmotion == "" {
		return domain.EmotionRecord{}, fmt.Errorf("analyzer returned empty primary_emotion")
	}
	if len(record.SecondaryEmotions) > 3 {
		record.SecondaryEmotions = record.SecondaryEmotions[:3]
	}
	return record, nil
}

type analyzeRequest struct {
	Text string `json:"text"`
}

// SerialAnalyzer serializa las invocaciones: el clasificador compartido de
// una instancia de personaje no admite llamadas concurrentes.
type SerialAnalyzer struct {
	inner Analyzer
	mu    sync.Mutex
}

func NewSerialAnalyzer(inner Analyzer) *SerialAnalyzer {
	return &SerialAnalyzer{inner: inner}
}

func (s *SerialAnalyzer) Analyze(ctx context.Context, text string) (domain.EmotionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Analyze(ctx, text)
}

var _ Analyzer = (*HTTPAnalyzer)(nil)
var _ Analyzer = (*SerialAnalyzer)(nil)
