package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmptyRegistryIsHealthy(t *testing.T) {
	r := NewRegistry(0)
	report := r.Run(context.Background())
	assert.True(t, report.Healthy)
	assert.Empty(t, report.Checks)
}

func TestAllProbesHealthy(t *testing.T) {
	r := NewRegistry(time.Second)
	r.Register("database", func(ctx context.Context) error { return nil })
	r.Register("facilitator", func(ctx context.Context) error { return nil })

	report := r.Run(context.Background())
	require.Len(t, report.Checks, 2)
	assert.True(t, report.Healthy)
	assert.Equal(t, "database", report.Checks[0].Name)
	assert.True(t, report.Checks[1].Healthy)
}

func TestOneProbeFailing(t *testing.T) {
	r := NewRegistry(time.Second)
	r.Register("database", func(ctx context.Context) error { return nil })
	r.Register("facilitator", func(ctx context.Context) error {
		return errors.New("connection refused")
	})

	report := r.Run(context.Background())
	assert.False(t, report.Healthy)
	assert.True(t, report.Checks[0].Healthy)
	assert.False(t, report.Checks[1].Healthy)
	assert.Equal(t, "connection refused", report.Checks[1].Detail)
}

func TestProbeTimeout(t *testing.T) {
	r := NewRegistry(20 * time.Millisecond)
	r.Register("slow", func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	})

	report := r.Run(context.Background())
	assert.False(t, report.Healthy)
	assert.Contains(t, report.Checks[0].Detail, "deadline")
}

func TestConcurrentRegisterAndRun(t *testing.T) {
	r := NewRegistry(time.Second)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Register("probe", func(ctx context.Context) error { return nil })
		}()
		go func() {
			defer wg.Done()
			_ = r.Run(context.Background())
		}()
	}
	wg.Wait()

	report := r.Run(context.Background())
	assert.True(t, report.Healthy)
	assert.Len(t, report.Checks, 10)
}
