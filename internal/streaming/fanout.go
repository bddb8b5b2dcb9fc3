package streaming

// Fanout publishes each event to every wrapped publisher, letting the
// session manager feed in-process SSE subscribers and Redis Streams at
// the same time.
type Fanout []Publisher

func (f Fanout) Publish(sessionID string, evt Event) {
	for _, p := range f {
		p.Publish(sessionID, evt)
	}
}
