package servicectx

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/keboola/shard-requirements/internal/pkg/log"
	"github.com/keboola/shard-requirements/internal/pkg/utils/errors"
)

func TestProcess_Add(t *testing.T) {
	t.Parallel()

	logger := log.NewDebugLogger()
	proc, err := New(context.Background(), logger, WithUniqueID("<id>"), WithoutSignals())
	assert.NoError(t, err)

	// Operations run in parallel, sleep determines the completion order to make it testable
	proc.Add(func(ctx context.Context, _ ShutdownFn) {
		<-ctx.Done()
		time.Sleep(100 * time.Millisecond)
		logger.Info(ctx, "end1")
	})
	proc.Add(func(ctx context.Context, _ ShutdownFn) {
		<-ctx.Done()
		time.Sleep(200 * time.Millisecond)
		logger.Info(ctx, "end2")
	})
	proc.Add(func(ctx context.Context, shutdown ShutdownFn) {
		shutdown(ctx, errors.New("operation failed"))
	})
	proc.OnShutdown(func(ctx context.Context) {
		logger.Info(ctx, "onShutdown1")
	})
	proc.OnShutdown(func(ctx context.Context) {
		logger.Info(ctx, "onShutdown2")
	})
	proc.WaitForShutdown()

	expected := `
INFO  process unique id "<id>"
INFO  exiting (operation failed)
INFO  onShutdown2
INFO  onShutdown1
INFO  end1
INFO  end2
INFO  exited
`
	assert.Equal(t, strings.TrimLeft(expected, "\n"), logger.AllMessages())
}

func TestProcess_ShutdownTwice(t *testing.T) {
	t.Parallel()

	logger := log.NewDebugLogger()
	proc, err := New(context.Background(), logger, WithUniqueID("<id>"), WithoutSignals())
	assert.NoError(t, err)

	proc.Shutdown(context.Background(), errors.New("first"))
	proc.Shutdown(context.Background(), errors.New("second"))
	proc.WaitForShutdown()

	assert.Contains(t, logger.AllMessages(), "INFO  exiting (first)")
	assert.NotContains(t, logger.AllMessages(), "exiting (second)")
	assert.Error(t, proc.Ctx().Err())
}
