package allocation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

func TestStatusMarker_Mark(t *testing.T) {
	t.Run("marks all ids in sub-chunks", func(t *testing.T) {
		dbManager := new(MockDBManager)
		ids := make([]uuid.UUID, 5)
		for i := range ids {
			ids[i] = uuid.New()
		}

		dbManager.On("MarkRecordsProcessed", mock.Anything).Return(nil)

		marker := NewStatusMarker(dbManager, zap.NewNop().Sugar(), testRetry(), 2)
		marked, err := marker.Mark(context.Background(), ids)

		assert.NoError(t, err)
		assert.Equal(t, 5, marked)
		dbManager.AssertNumberOfCalls(t, "MarkRecordsProcessed", 3)
	})

	t.Run("a failed chunk is skipped without aborting siblings", func(t *testing.T) {
		dbManager := new(MockDBManager)
		ids := make([]uuid.UUID, 4)
		for i := range ids {
			ids[i] = uuid.New()
		}

		dbManager.On("MarkRecordsProcessed", mock.MatchedBy(func(chunk []uuid.UUID) bool {
			return len(chunk) == 2 && chunk[0] == ids[0]
		})).Return(errors.New("timeout"))
		dbManager.On("MarkRecordsProcessed", mock.MatchedBy(func(chunk []uuid.UUID) bool {
			return len(chunk) == 2 && chunk[0] == ids[2]
		})).Return(nil)

		retry := RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond, Multiplier: 2.0}
		marker := NewStatusMarker(dbManager, zap.NewNop().Sugar(), retry, 2)
		marked, err := marker.Mark(context.Background(), ids)

		assert.Error(t, err)
		assert.Equal(t, 2, marked)
	})

	t.Run("no ids is a no-op", func(t *testing.T) {
		dbManager := new(MockDBManager)

		marker := NewStatusMarker(dbManager, zap.NewNop().Sugar(), testRetry(), 2)
		marked, err := marker.Mark(context.Background(), nil)

		assert.NoError(t, err)
		assert.Equal(t, 0, marked)
		dbManager.AssertNotCalled(t, "MarkRecordsProcessed", mock.Anything)
	})
}
