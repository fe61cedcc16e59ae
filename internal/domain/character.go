package domain

import "time"

// Archetype gobierna, entre otras cosas, la revelacion de identidad IA.
type Archetype string

const (
	ArchetypeRealWorld   Archetype = "real_world"
	ArchetypeFantasy     Archetype = "fantasy"
	ArchetypeNarrativeAI Archetype = "narrative_ai"
)

// EmojiPolicy controla la decoracion de respuestas.
type EmojiPolicy struct {
	Enabled   bool     `json:"enabled"`
	MaxPerMsg int      `json:"max_per_msg"`
	Preferred []string `json:"preferred,omitempty"`
}

// CharacterDefinition es la definicion (read-mostly) de un personaje en C5.
type CharacterDefinition struct {
	ID                 string      `json:"id"`
	Name               string      `json:"name"`
	Archetype          Archetype   `json:"archetype"`
	PersonalityTraits  []string    `json:"personality_traits,omitempty"`
	CommunicationStyle string      `json:"communication_style,omitempty"`
	Backstory          string      `json:"backstory,omitempty"`
	EmojiPolicy        EmojiPolicy `json:"emoji_policy"`
	UpdatedAt          time.Time   `json:"updated_at"`
}

// MinimalCharacter es el fallback cuando la definicion no esta disponible:
// identidad suficiente para no romper el turno.
func MinimalCharacter(characterID string) CharacterDefinition {
	return CharacterDefinition{
		ID:        characterID,
		Name:      characterID,
		Archetype: ArchetypeNarrativeAI,
	}
}
