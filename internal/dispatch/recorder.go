package dispatch

import (
	"sync"

	"github.com/danmuck/someipd/internal/protocol"
)

// Recorder is a Receiver that keeps copies of what it received.
type Recorder struct {
	mu       sync.Mutex
	messages []protocol.Message
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Receive(msg *protocol.Message) {
	cp := *msg
	cp.Payload = append([]byte(nil), msg.Payload...)
	r.mu.Lock()
	r.messages = append(r.messages, cp)
	r.mu.Unlock()
}

func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

func (r *Recorder) Messages() []protocol.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.Message(nil), r.messages...)
}
