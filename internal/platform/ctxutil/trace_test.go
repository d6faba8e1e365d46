package ctxutil

import (
	"context"
	"reflect"
	"testing"
)

func TestLogFields(t *testing.T) {
	if LogFields(context.Background()) != nil {
		t.Fatalf("expected no fields without trace data")
	}
	ctx := WithTraceData(context.Background(), &TraceData{TraceID: "t-1"})
	if got := LogFields(ctx); !reflect.DeepEqual(got, []any{"trace_id", "t-1"}) {
		t.Fatalf("fields=%v", got)
	}
	ctx = WithTraceData(ctx, &TraceData{TraceID: "t-2", RequestID: "r-2"})
	if got := LogFields(ctx); !reflect.DeepEqual(got, []any{"trace_id", "t-2", "request_id", "r-2"}) {
		t.Fatalf("fields=%v", got)
	}
}
