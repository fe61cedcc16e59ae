package domain

import "time"

// RelationshipScore es la fila unica por (user_id, character_id) con los
// vectores de vinculo aprendidos.
type RelationshipScore struct {
	UserID           string    `json:"user_id"`
	CharacterID      string    `json:"character_id"`
	Trust            float64   `json:"trust"`
	Affection        float64   `json:"affection"`
	Attunement       float64   `json:"attunement"`
	InteractionCount int       `json:"interaction_count"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// DefaultRelationshipScore son los valores iniciales cuando no existe fila.
func DefaultRelationshipScore(userID, characterID string) RelationshipScore {
	return RelationshipScore{
		UserID:      userID,
		CharacterID: characterID,
		Trust:       0.5,
		Affection:   0.5,
		Attunement:  0.5,
	}
}

// DepthLabel resume el nivel del vinculo para el prompt.
func (r RelationshipScore) DepthLabel() string {
	avg := (r.Trust + r.Affection + r.Attunement) / 3
	switch {
	case r.InteractionCount < 3:
		return "new acquaintance"
	case avg > 0.8:
		return "deep bond"
	case avg > 0.65:
		return "close"
	case avg > 0.45:
		return "familiar"
	default:
		return "distant"
	}
}
