package domain

// Resolution is the computed setup of a room for a user.
type Resolution struct {
	Name       string
	UserLimit  int
	Locked     bool
	Overwrites []Overwrite
	// Skipped lists stored targets that no longer exist on the platform.
	Skipped []AccessOverride
}
