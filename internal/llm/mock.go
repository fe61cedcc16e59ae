package llm

import (
	"context"
	"time"
)

// MockClient permite tests sin llamar a un LLM real.
type MockClient struct {
	Response string
	Err      error
	Calls    int
	// Responses encola respuestas por llamada; tiene prioridad sobre Response.
	Responses []string
	Errs      []error
	// Delay simula latencia del proveedor; el mock no respeta cancelacion,
	// igual que un proveedor HTTP que ya acepto la peticion.
	Delay time.Duration
	// Seen guarda los mensajes de cada llamada para inspeccion.
	Seen [][]Message
}

func (m *MockClient) Complete(ctx context.Context, messages []Message, opts Options) (Completion, error) {
	if m.Delay > 0 {
		time.Sleep(m.Delay)
	}
	idx := m.Calls
	m.Calls++
	m.Seen = append(m.Seen, messages)
	if idx < len(m.Errs) && m.Errs[idx] != nil {
		return Completion{}, m.Errs[idx]
	}
	if idx < len(m.Responses) {
		return Completion{Text: m.Responses[idx]}, nil
	}
	if m.Err != nil {
		return Completion{}, m.Err
	}
	return Completion{Text: m.Response}, nil
}

var _ Client = (*MockClient)(nil)
