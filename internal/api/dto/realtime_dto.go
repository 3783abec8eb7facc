package dto

// Client frame actions on the realtime socket.
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
)

// SocketCommand is a JSON frame sent by a realtime client.
type SocketCommand struct {
	Action        string `json:"action"`
	ThreadID      string `json:"thread_id"`
	ThreadIDCamel string `json:"threadId"`
}

// Thread returns the referenced thread id.
func (c SocketCommand) Thread() string {
	return firstText(c.ThreadID, c.ThreadIDCamel)
}

// SocketAck confirms or rejects a client command.
type SocketAck struct {
	Type     string `json:"type"`
	ThreadID string `json:"thread_id,omitempty"`
	Error    string `json:"error,omitempty"`
}
