package ctxutil

import "context"

type traceDataKey struct{}

// TraceData identifies the unit of work a context belongs to. Loggers and
// spans read it so every line of a tick can be correlated.
type TraceData struct {
	JobID     string
	BookID    string
	VersionID string
	SectionID string
}

func WithTraceData(ctx context.Context, td *TraceData) context.Context {
	return context.WithValue(ctx, traceDataKey{}, td)
}

func GetTraceData(ctx context.Context) *TraceData {
	if td, ok := ctx.Value(traceDataKey{}).(*TraceData); ok {
		return td
	}
	return nil
}

// KV flattens trace data into logger key/value pairs.
func (td *TraceData) KV() []interface{} {
	if td == nil {
		return nil
	}
	return []interface{}{"job_id", td.JobID, "book_id", td.BookID, "version_id", td.VersionID, "section_id", td.SectionID}
}
