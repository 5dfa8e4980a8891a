package core

import "github.com/google/uuid"

// NewID generates a new unique identifier for trace records, messages and
// resolutions.
func NewID() string { return uuid.NewString() }
