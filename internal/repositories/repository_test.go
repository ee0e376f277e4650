package repositories

import (
	"context"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ephemeral-chat/internal/models"
)

var messageColumnNames = []string{"id", "conversation_id", "author_id", "content", "media", "created_at", "detected_language", "kind", "ttl_seconds", "viewed_at", "expires_at", "deleted_at", "is_deleted"}

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = raw.Close() })
	return sqlx.NewDb(raw, "sqlmock"), mock
}

func messageRow(id uuid.UUID, viewedAt, expiresAt driver.Value, deleted bool) *sqlmock.Rows {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	var content driver.Value = "hello"
	if deleted {
		content = nil
	}
	return sqlmock.NewRows(messageColumnNames).
		AddRow(id.String(), int64(7), int64(1), content, nil, created, "en", "ephemeral_broadcast", 120, viewedAt, expiresAt, nil, deleted)
}

func TestAppendCreatesMessage(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepo(db)
	id := uuid.New()
	content := "hello"

	mock.ExpectQuery(`INSERT INTO messages`).
		WithArgs(id, int64(7), int64(1), &content, nil, nil, models.KindEphemeralBroadcast, 120, false).
		WillReturnRows(messageRow(id, nil, nil, false))

	msg, created, err := repo.Append(context.Background(), models.Message{
		ID: id, ConversationID: 7, AuthorID: 1, Content: &content, Kind: models.KindEphemeralBroadcast, TTLSeconds: 120,
	}, false)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, id, msg.ID)
	assert.Equal(t, models.KindEphemeralBroadcast, msg.Kind)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendRetryReturnsStoredRow(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepo(db)
	id := uuid.New()

	mock.ExpectQuery(`INSERT INTO messages`).WillReturnRows(sqlmock.NewRows(messageColumnNames))
	mock.ExpectQuery(`SELECT .* FROM messages WHERE id=\$1`).WithArgs(id).WillReturnRows(messageRow(id, nil, nil, false))

	msg, created, err := repo.Append(context.Background(), models.Message{ID: id, ConversationID: 7, AuthorID: 1, Kind: models.KindStandard}, false)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, id, msg.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkViewedWinsOnce(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepo(db)
	id := uuid.New()
	viewed := time.Date(2026, 1, 2, 3, 5, 0, 0, time.UTC)
	expires := viewed.Add(120 * time.Second)

	mock.ExpectQuery(`UPDATE messages\s+SET viewed_at = NOW\(\)`).WithArgs(id, true).
		WillReturnRows(messageRow(id, viewed, expires, false))

	msg, won, err := repo.MarkViewed(context.Background(), id, true)
	require.NoError(t, err)
	assert.True(t, won)
	require.NotNil(t, msg.ViewedAt)
	assert.True(t, viewed.Equal(*msg.ViewedAt))
	require.NotNil(t, msg.ExpiresAt)
	assert.True(t, expires.Equal(*msg.ExpiresAt))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkViewedRepeatReturnsExistingValue(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepo(db)
	id := uuid.New()
	viewed := time.Date(2026, 1, 2, 3, 5, 0, 0, time.UTC)

	mock.ExpectQuery(`UPDATE messages`).WithArgs(id, true).WillReturnRows(sqlmock.NewRows(messageColumnNames))
	mock.ExpectQuery(`SELECT .* FROM messages WHERE id=\$1`).WithArgs(id).
		WillReturnRows(messageRow(id, viewed, viewed.Add(time.Minute), false))

	msg, won, err := repo.MarkViewed(context.Background(), id, true)
	require.NoError(t, err)
	assert.False(t, won)
	require.NotNil(t, msg.ViewedAt)
	assert.True(t, viewed.Equal(*msg.ViewedAt))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkViewedMissingMessage(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepo(db)
	id := uuid.New()

	mock.ExpectQuery(`UPDATE messages`).WillReturnRows(sqlmock.NewRows(messageColumnNames))
	mock.ExpectQuery(`SELECT .* FROM messages WHERE id=\$1`).WillReturnRows(sqlmock.NewRows(messageColumnNames))

	_, _, err := repo.MarkViewed(context.Background(), id, true)
	require.ErrorIs(t, err, ErrMessageNotFound)
}

func TestDeleteForEveryoneIsMonotonic(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepo(db)
	id := uuid.New()
	now := time.Now().UTC()

	mock.ExpectQuery(`UPDATE messages\s+SET is_deleted = TRUE`).WithArgs(id).
		WillReturnRows(messageRow(id, now, now, true))
	mock.ExpectQuery(`UPDATE messages\s+SET is_deleted = TRUE`).WithArgs(id).
		WillReturnRows(sqlmock.NewRows(messageColumnNames))

	msg, deleted, err := repo.DeleteForEveryone(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.True(t, msg.IsDeleted)
	assert.Nil(t, msg.Content)

	_, deleted, err = repo.DeleteForEveryone(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, deleted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListForViewerFiltersLedger(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepo(db)
	id := uuid.New()

	mock.ExpectQuery(`NOT EXISTS \(SELECT 1 FROM message_deletions d`).WithArgs(int64(7), int64(2)).
		WillReturnRows(messageRow(id, nil, nil, false))

	msgs, err := repo.ListForViewer(context.Background(), 7, 2)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, id, msgs[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHideIsWriteOnce(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDeletionRepo(db)
	id := uuid.New()
	entry := models.DeletionLedgerEntry{MessageID: id, ViewerID: 2, DeletedBy: 2}

	mock.ExpectExec(`INSERT INTO message_deletions`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO message_deletions`).WillReturnResult(sqlmock.NewResult(0, 0))

	created, err := repo.Hide(context.Background(), entry)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = repo.Hide(context.Background(), entry)
	require.NoError(t, err)
	assert.False(t, created)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHideExpiredReturnsInsertedRows(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDeletionRepo(db)
	id := uuid.New()

	mock.ExpectQuery(`WITH pending AS`).WithArgs(models.KindPersonalHide, 50, SweepActorID).
		WillReturnRows(sqlmock.NewRows([]string{"message_id", "viewer_id", "conversation_id"}).AddRow(id.String(), int64(2), int64(7)))

	rows, err := repo.HideExpired(context.Background(), models.KindPersonalHide, 50)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, ExpiredHide{MessageID: id, ViewerID: 2, ConversationID: 7}, rows[0])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateConversationDedupesParticipants(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewParticipantRepo(db)
	created := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO conversations DEFAULT VALUES`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(9), created))
	mock.ExpectExec(`INSERT INTO conversation_participants`).WithArgs(int64(9), int64(1)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO conversation_participants`).WithArgs(int64(9), int64(3)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	conv, err := repo.CreateConversation(context.Background(), []int64{3, 1, 3})
	require.NoError(t, err)
	assert.Equal(t, int64(9), conv.ID)
	assert.Equal(t, []int64{1, 3}, conv.Participants)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateConversationRequiresTwoParticipants(t *testing.T) {
	db, _ := newMockDB(t)
	_, err := NewParticipantRepo(db).CreateConversation(context.Background(), []int64{4, 4})
	require.Error(t, err)
}
