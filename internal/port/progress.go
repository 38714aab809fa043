package port

import "docrag/internal/domain"

// ProgressSink observes indexing progress. Implementations must not block.
type ProgressSink interface {
	Report(event domain.ProgressEvent)
}

// ProgressFunc adapts a function to ProgressSink.
type ProgressFunc func(event domain.ProgressEvent)

func (f ProgressFunc) Report(event domain.ProgressEvent) {
	if f != nil {
		f(event)
	}
}
