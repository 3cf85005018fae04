package toolfed

import (
	"context"
	"testing"
	"time"
)

// ConnectorContract defines tests that any backend Connector implementation
// must pass, generalized from the teacher's BackendContract.
type ConnectorContract struct {
	// NewConnector creates a fresh, unopened connector for testing.
	NewConnector func() interface {
		Open(ctx context.Context) error
		ListTools(ctx context.Context) ([]ToolRecord, error)
		Call(ctx context.Context, rawName string, args map[string]any) (CallResult, error)
		Close() error
	}
}

// RunConnectorContractTests runs shared behavioral tests for a Connector.
func RunConnectorContractTests(t *testing.T, contract ConnectorContract) {
	t.Helper()

	t.Run("Open", func(t *testing.T) {
		t.Run("respects context cancellation", func(_ *testing.T) {
			conn := contract.NewConnector()
			ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
			defer cancel()
			time.Sleep(time.Millisecond)
			_ = conn.Open(ctx) // error acceptable, no panic
			_ = conn.Close()
		})
	})
}
