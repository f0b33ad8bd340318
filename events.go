package chatIO

import "sync"

// Events fans out typing and read receipt notifications. They are not tied
// to any call in flight.
type Events struct {
	mtx          sync.RWMutex
	typing       []func(isTyping bool)
	readReceipts []func(messageID string)
}

// DefaultEvents is used by every Client created without WithEvents.
var DefaultEvents = NewEvents()

func NewEvents() *Events {
	return &Events{}
}

// OnTyping add handler on incoming typing frames.
func (e *Events) OnTyping(f func(isTyping bool)) {
	e.mtx.Lock()
	e.typing = append(e.typing, f)
	e.mtx.Unlock()
}

// OnReadReceipt add handler on incoming read receipts.
func (e *Events) OnReadReceipt(f func(messageID string)) {
	e.mtx.Lock()
	e.readReceipts = append(e.readReceipts, f)
	e.mtx.Unlock()
}

func (e *Events) emitTyping(isTyping bool) {
	e.mtx.RLock()
	handlers := append([]func(bool){}, e.typing...)
	e.mtx.RUnlock()

	for _, f := range handlers {
		f(isTyping)
	}
}

func (e *Events) emitReadReceipt(messageID string) {
	e.mtx.RLock()
	handlers := append([]func(string){}, e.readReceipts...)
	e.mtx.RUnlock()

	for _, f := range handlers {
		f(messageID)
	}
}
