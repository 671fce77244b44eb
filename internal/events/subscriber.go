package events

// subscriberBuffer is the channel capacity of every subscription. Events
// beyond it are dropped.
const subscriberBuffer = 64

// Subscriber receives events from the event bus.
type Subscriber interface {
	// Subscribe delivers raw event payloads on the returned channel.
	// Call the returned cancel function to unsubscribe and close the channel.
	Subscribe(topic string) (<-chan []byte, func(), error)
	Close() error
}

// drainAndClose empties ch so no sender blocks, then closes it. Callers
// guarantee no further sends.
func drainAndClose[T any](ch chan T) {
	for len(ch) > 0 {
		<-ch
	}
	close(ch)
}
