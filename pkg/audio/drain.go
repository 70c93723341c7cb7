package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to release a producer goroutine when a stage gives up on a stream
// early, e.g. the synthesized audio of an interrupted response.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
