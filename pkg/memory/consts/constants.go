package consts

const (
	// DefaultDBName is the default database name.
	DefaultDBName = "manualiq"

	// TableNameMessages is the default table/collection name for messages.
	TableNameMessages = "messages"

	// Column names
	ColSessionID = "session_id"
	ColRole      = "role"
	ColContent   = "content"
	ColCreatedAt = "created_at"
)
