package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"buyLowSellHigh/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorLog_AppendAndSnapshot(t *testing.T) {
	repo := &mockBarErrorRepo{}
	log := NewErrorLog(repo, &mockLogger{})
	ctx := context.Background()

	assert.Equal(t, 0, log.Len())
	assert.Empty(t, log.Snapshot())

	at := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 1, log.Append(ctx, domain.BarError{RunID: "r", BarTime: at, Message: "first"}))
	assert.Equal(t, 2, log.Append(ctx, domain.BarError{RunID: "r", BarTime: at.Add(time.Minute), Message: "second"}))

	snap := log.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "first", snap[0].Message)
	assert.Equal(t, "second", snap[1].Message)
	assert.Len(t, repo.created, 2)

	// Snapshots are copies.
	snap[0].Message = "changed"
	assert.Equal(t, "first", log.Snapshot()[0].Message)
}

func TestErrorLog_SinkFailureIsNotFatal(t *testing.T) {
	logger := &mockLogger{}
	log := NewErrorLog(&mockBarErrorRepo{err: errors.New("disk full")}, logger)

	n := log.Append(context.Background(), domain.BarError{Message: "boom"})
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, log.Len())
	assert.Equal(t, 1, logger.count("Failed to persist bar error"))
}

func TestErrorLog_ConcurrentAppend(t *testing.T) {
	log := NewErrorLog(nil, nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				log.Append(context.Background(), domain.BarError{Message: fmt.Sprintf("%d-%d", i, j)})
				_ = log.Snapshot()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1000, log.Len())
}
