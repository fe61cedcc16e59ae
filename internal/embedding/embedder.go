package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Dimension del modelo de embeddings externo. Congelada junto con los
// prefijos: cambiarla invalida todos los puntos almacenados.
const Dimension = 384

// Embedder mapea texto a un vector unitario de 384 dimensiones.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Prefijos por vector nominado. El vector `content` embebe el texto crudo;
// `emotion` y `semantic` anteponen su clave.
func ContentPrefix() string { return "" }

func EmotionPrefix(primaryEmotion string) string {
	return fmt.Sprintf("emotion %s: ", primaryEmotion)
}

func SemanticPrefix(semanticKey string) string {
	return fmt.Sprintf("concept %s: ", semanticKey)
}

// HTTPEmbedder implementa Embedder contra un servicio de embeddings externo.
type HTTPEmbedder struct {
	baseURL string
	client  *http.Client
}

func NewHTTPEmbedder(baseURL string, httpClient *http.Client) *HTTPEmbedder {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPEmbedder{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  httpClient,
	}
}

func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Input: text})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("embedder http error: status=%d", resp.StatusCode)
	}

	var er embedResponse
	if err := json.Unmarshal(respBody, &er); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if len(er.Embedding) != Dimension {
		return nil, fmt.Errorf("embedder dimension mismatch: got %d, want %d", len(er.Embedding), Dimension)
	}
	return er.Embedding, nil
}

type embedRequest struct {
	Input string `json:"input"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}
