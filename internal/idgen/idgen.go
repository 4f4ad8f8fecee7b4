package idgen

import (
	"github.com/google/uuid"
)

// ID prefixes for different uses
const (
	PrefixRequest = "req_"
	PrefixState   = "st_"
)

// NewRequest generates a request ID with req_ prefix
func NewRequest() string {
	return PrefixRequest + uuid.New().String()
}

// NewState generates an OAuth state token with st_ prefix
func NewState() string {
	return PrefixState + uuid.New().String()
}

// New generates a generic UUID without prefix (for internal use only)
func New() string {
	return uuid.New().String()
}
