package emotion

import (
	"context"

	"persona-runtime/internal/domain"
)

// MockAnalyzer permite tests sin clasificador real y cuenta invocaciones.
type MockAnalyzer struct {
	Record  domain.EmotionRecord
	Err     error
	Calls   int
	Records []domain.EmotionRecord
}

func (m *MockAnalyzer) Analyze(ctx context.Context, text string) (domain.EmotionRecord, error) {
	idx := m.Calls
	m.Calls++
	if m.Err != nil {
		return domain.EmotionRecord{}, m.Err
	}
	if idx < len(m.Records) {
		return m.Records[idx], nil
	}
	return m.Record, nil
}

var _ Analyzer = (*MockAnalyzer)(nil)
