package allocation

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/recoverly/payment-allocation/internal/models"
)

func TestWeekStart(t *testing.T) {
	cases := []struct {
		name string
		in   time.Time
		want time.Time
	}{
		{
			name: "wednesday maps to monday",
			in:   time.Date(2025, 3, 19, 15, 30, 0, 0, time.UTC),
			want: time.Date(2025, 3, 17, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "sunday belongs to the preceding monday",
			in:   time.Date(2025, 3, 23, 1, 0, 0, 0, time.UTC),
			want: time.Date(2025, 3, 17, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "monday maps to itself",
			in:   time.Date(2025, 3, 17, 23, 59, 0, 0, time.UTC),
			want: time.Date(2025, 3, 17, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, WeekStart(tc.in))
		})
	}
}

func TestHistoryRecorder_Record(t *testing.T) {
	fileID := uuid.New()
	now := time.Date(2025, 3, 19, 15, 30, 0, 0, time.UTC)
	weekStart := time.Date(2025, 3, 17, 0, 0, 0, 0, time.UTC)

	t.Run("reuses an existing weekly batch", func(t *testing.T) {
		dbManager := new(MockDBManager)
		batch := &models.UploadBatch{ID: uuid.New(), WeekStart: weekStart}

		dbManager.On("GetWeeklyBatch", weekStart).Return(batch, nil)

		var inserted []models.PaymentHistoryEntry
		dbManager.On("InsertHistoryEntries", batch.ID, mock.Anything).Run(func(args mock.Arguments) {
			inserted = args.Get(1).([]models.PaymentHistoryEntry)
		}).Return(nil)

		recorder := NewHistoryRecorder(dbManager, zap.NewNop().Sugar(), testActor)
		records := []*models.PaymentRecord{
			newPendingRecord("A1", 150, 850, now, fileID, "20250315"),
			newPendingRecord("Z9", 50, 400, now, fileID, "bogus"),
		}

		err := recorder.Record(records, now)

		assert.NoError(t, err)
		dbManager.AssertNotCalled(t, "CreateWeeklyBatch", mock.Anything, mock.Anything)
		if assert.Len(t, inserted, 2) {
			assert.Equal(t, "A1", inserted[0].AccountNumber)
			if assert.NotNil(t, inserted[0].PaymentDate) {
				assert.Equal(t, time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC), *inserted[0].PaymentDate)
			}
			assert.Nil(t, inserted[1].PaymentDate, "malformed source date must not produce a history date")
		}
	})

	t.Run("creates the weekly batch with the resolved actor", func(t *testing.T) {
		dbManager := new(MockDBManager)
		batch := &models.UploadBatch{ID: uuid.New(), WeekStart: weekStart, CreatedBy: testActorID}

		dbManager.On("GetWeeklyBatch", weekStart).Return(nil, nil)
		dbManager.On("CreateWeeklyBatch", weekStart, testActorID).Return(batch, nil)
		dbManager.On("InsertHistoryEntries", batch.ID, mock.Anything).Return(nil)

		recorder := NewHistoryRecorder(dbManager, zap.NewNop().Sugar(), testActor)
		records := []*models.PaymentRecord{
			newPendingRecord("A1", 150, 850, now, fileID, ""),
		}

		err := recorder.Record(records, now)

		assert.NoError(t, err)
		dbManager.AssertExpectations(t)
	})

	t.Run("missing actor identity is fatal for batch creation", func(t *testing.T) {
		dbManager := new(MockDBManager)
		dbManager.On("GetWeeklyBatch", weekStart).Return(nil, nil)

		noActor := func() (uuid.UUID, bool) { return uuid.Nil, false }
		recorder := NewHistoryRecorder(dbManager, zap.NewNop().Sugar(), noActor)
		records := []*models.PaymentRecord{
			newPendingRecord("A1", 150, 850, now, fileID, ""),
		}

		err := recorder.Record(records, now)

		assert.ErrorIs(t, err, ErrNoActorIdentity)
		dbManager.AssertNotCalled(t, "CreateWeeklyBatch", mock.Anything, mock.Anything)
		dbManager.AssertNotCalled(t, "InsertHistoryEntries", mock.Anything, mock.Anything)
	})

	t.Run("empty page records nothing", func(t *testing.T) {
		dbManager := new(MockDBManager)

		recorder := NewHistoryRecorder(dbManager, zap.NewNop().Sugar(), testActor)
		err := recorder.Record(nil, now)

		assert.NoError(t, err)
		dbManager.AssertNotCalled(t, "GetWeeklyBatch", mock.Anything)
	})
}
