package contract

import "context"

// MemoryStore is the rolling per-(tenant, run type) memory read before a run
// and written after it.
type MemoryStore interface {
	Read(ctx context.Context, tenantID string, runType RunType) (*Memory, error)
	WriteBestEffort(ctx context.Context, tenantID string, runType RunType, update MemoryUpdate)
}

// Notifier enqueues an event and attempts an inline delivery pass.
type Notifier interface {
	Notify(ctx context.Context, tenantID string, event Event) (string, error)
}

// Sender delivers one formatted message to a single recipient.
type Sender interface {
	Send(ctx context.Context, msg OutboundMessage) error
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// ChunkWriter receives streamed query output in order.
type ChunkWriter interface {
	WriteChunk(ctx context.Context, chunk Chunk) error
}
