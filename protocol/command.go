package protocol

type Command string

const (
	SET Command = "set"
	GET Command = "get"
)

// Status is the first token of a server response line.
type Status string

const (
	StatusOK      Status = "OK"
	StatusMissing Status = "MISSING"
)
