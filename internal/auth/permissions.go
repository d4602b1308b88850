package auth

// Resource represents a protected resource type
type Resource string

const (
	ResourceNotices Resource = "notices"
	ResourceUsers   Resource = "users"
)

// Action represents an operation on a resource
type Action string

const (
	ActionRead  Action = "read"
	ActionWrite Action = "write"
)
