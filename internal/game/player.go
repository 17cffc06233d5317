package game

// Role identifies what kind of participant a player is.
type Role string

const (
	RoleHuman     Role = "HUMAN"
	RoleAIPersona Role = "AI_PERSONA"
	RoleHost      Role = "HOST"
)

// Player is a participant in a game. Persona is only set for AI personas
// and feeds their generation prompt.
type Player struct {
	ID         string
	Name       string
	Role       Role
	Persona    string
	Eliminated bool
}

// IsPersona reports whether the player is a non-host AI participant.
func (p Player) IsPersona() bool {
	return p.Role == RoleAIPersona
}

// PersonaSpec describes an AI persona seated at game creation.
type PersonaSpec struct {
	Name        string
	Description string
}
