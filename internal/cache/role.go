package cache

import "github.com/gearbot/GearBot-2/internal/snowflake"

// Role is guild-scoped.
type Role struct {
	ID          snowflake.ID
	Name        string
	Color       int
	Hoist       bool
	Icon        string
	UnicodeEmoji string
	Position    int
	Permissions uint64
	Managed     bool
}
