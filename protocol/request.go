package protocol

type Request interface {
	GetCommand() Command
	GetKey() string
}

type SetRequest struct {
	Key   string
	Value []byte
}

func (q *SetRequest) GetCommand() Command {
	return SET
}

func (q *SetRequest) GetKey() string {
	return q.Key
}

type GetRequest struct {
	Key string
}

func (q *GetRequest) GetCommand() Command {
	return GET
}

func (q *GetRequest) GetKey() string {
	return q.Key
}

var _ Request = (*SetRequest)(nil)
var _ Request = (*GetRequest)(nil)
