package service

import (
	"context"

	"persona-runtime/internal/domain"
)

// EnricherStage indica en que fase corre un enricher.
type EnricherStage string

const (
	// StageAttachment corre en fase 6 sobre los adjuntos del turno y
	// devuelve una descripcion inyectable como pseudo-memoria.
	StageAttachment EnricherStage = "attachment"
	// StageResponse corre en fase 7.6 como transformacion pura de la
	// respuesta ya generada.
	StageResponse EnricherStage = "response"
)

// Enricher es la capacidad comun de los enriquecedores opcionales (vision,
// emojis). El orquestador mantiene una lista posiblemente vacia; un
// enricher ausente simplemente no esta en la lista.
type Enricher interface {
	Name() string
	Stage() EnricherStage
	Enrich(ctx context.Context, turn domain.Turn, text string) (string, error)
}
