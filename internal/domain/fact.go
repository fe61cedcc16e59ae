package domain

import "time"

// UserFact es una tripleta entidad-relacion aprendida sobre el usuario.
// La clave natural es (user_id, character_id, entity_name, relationship_type).
type UserFact struct {
	UserID           string    `json:"user_id"`
	CharacterID      string    `json:"character_id"`
	EntityName       string    `json:"entity_name"`
	EntityType       string    `json:"entity_type"`
	RelationshipType string    `json:"relationship_type"`
	Confidence       float64   `json:"confidence"`
	LastMentioned    time.Time `json:"last_mentioned"`
	TemporalWeight   float64   `json:"temporal_weight"`
}

// EffectiveWeight es la clave de ordenamiento para recuperacion.
func (f UserFact) EffectiveWeight() float64 {
	return f.Confidence * f.TemporalWeight
}
