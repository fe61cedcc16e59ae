package domain

import "time"

// ChannelType distingue mensajes directos de canales grupales.
type ChannelType string

const (
	ChannelDirect ChannelType = "direct"
	ChannelGroup  ChannelType = "group"
)

// Attachment referencia un adjunto entrante (imagen, archivo). El runtime
// no descarga contenido; los enrichers externos reciben la URL.
type Attachment struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
}

// Turn es la unidad de procesamiento: un mensaje de usuario entrante.
// Inmutable una vez construido.
type Turn struct {
	UserID      string       `json:"user_id"`
	CharacterID string       `json:"character_id"`
	Platform    string       `json:"platform"`
	ChannelType ChannelType  `json:"channel_type"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
	ReceivedAt  time.Time    `json:"received_at"`
}

// ProcessingResult es lo que el adaptador de plataforma recibe de vuelta.
type ProcessingResult struct {
	ResponseText     string                 `json:"response_text"`
	Success          bool                   `json:"success"`
	ProcessingTimeMs int64                  `json:"processing_time_ms"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}
