package model

// Roles carried in the bearer token. Accounts live in an external identity provider.
const (
	RoleAdmin       = "admin"
	RoleParticipant = "participant"
)
