//go:build integration

package matcher_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bioattend/internal/matcher"
	id "bioattend/pkg/domain"
	"bioattend/pkg/platform/sentinel"
	"bioattend/pkg/testutil/containers"
)

func TestPostgresEnrollmentStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	postgres := containers.NewPostgresContainer(t)
	store := matcher.NewPostgresEnrollmentStore(postgres.DB)

	studentID := id.StudentID(uuid.New())
	embedding := make(matcher.Embedding, matcher.EmbeddingDim)
	embedding[0] = 1

	insert := func(sid id.StudentID, active bool) {
		_, err := postgres.DB.ExecContext(ctx, `
			INSERT INTO facial_enrollments (student_id, embedding, face_confidence, embedding_quality, enrolled_at, is_active)
			VALUES ($1, $2, 0.97, 0.9, $3, $4)
		`, uuid.UUID(sid), matcher.EncodeEmbedding(embedding), time.Now().UTC(), active)
		require.NoError(t, err)
	}

	t.Run("missing enrollment returns not found", func(t *testing.T) {
		_, err := store.GetActive(ctx, studentID)
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	t.Run("active enrollment round-trips the embedding", func(t *testing.T) {
		insert(studentID, true)

		enrollment, err := store.GetActive(ctx, studentID)
		require.NoError(t, err)
		assert.Equal(t, studentID, enrollment.StudentID)
		assert.Equal(t, embedding, enrollment.Embedding)
		assert.InDelta(t, 0.97, enrollment.FaceConfidence, 1e-9)
	})

	t.Run("inactive enrollment is invisible", func(t *testing.T) {
		inactive := id.StudentID(uuid.New())
		insert(inactive, false)

		_, err := store.GetActive(ctx, inactive)
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})
}
