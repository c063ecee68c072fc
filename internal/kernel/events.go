package kernel

import "github.com/charmbracelet/log"

// Subscriber receives Kernel lifecycle events synchronously, before the
// originating call returns. Subscribers must not block for I/O; the
// Kernel provides no async event queue.
type Subscriber func(name string, payload map[string]interface{})

// eventBus is the Kernel's synchronous event emitter; it also serves as the
// Governor's EventSink. Subscribers are appended through Kernel.Subscribe
// and never removed.
type eventBus struct {
	subscribers []Subscriber
}

func (b *eventBus) Subscribe(s Subscriber) {
	b.subscribers = append(b.subscribers, s)
}

// Emit implements governor.EventSink and is also used directly by the
// Kernel for memory.* and session.* events.
func (b *eventBus) Emit(name string, payload map[string]interface{}) {
	for _, s := range b.subscribers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error("kernel: event subscriber panicked", "event", name, "recover", r)
				}
			}()
			s(name, payload)
		}()
	}
}
