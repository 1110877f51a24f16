package utils

type ContextKey string

const (
	IdentityKey  ContextKey = "identity"
	RequestIDKey ContextKey = "request_id"
	UserIDKey    string     = "user_id"
	EmailKey     string     = "email"
)
