package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campus-chat/internal/models"
	"campus-chat/internal/storage"
)

var ts = time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		conn.Close()
	})
	return NewStore(conn), mock
}

var directCols = []string{"id", "sender_id", "recipient_id", "content", "type", "status", "is_read",
	"file_key", "file_name", "file_url", "file_size", "content_type", "created_at"}

func TestSaveDirectWithAttachment(t *testing.T) {
	s, mock := newMock(t)
	msg := &models.DirectMessage{
		ID: "m1", SenderID: "alice", RecipientID: "bob", Content: "", Type: models.TypeImage,
		Timestamp: ts, Status: models.StatusSent,
		Attachment: &models.Attachment{StorageKey: "k.png", FileName: "cat.png", FileURL: "/api/chat/media/m1", FileSize: 42, ContentType: "image/png"},
	}
	mock.ExpectExec(`INSERT INTO direct_messages`).
		WithArgs("m1", "alice", "bob", "", "image", "SENT", false, "k.png", "cat.png", "/api/chat/media/m1", int64(42), "image/png", ts).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.SaveDirect(context.Background(), msg))
}

func TestSaveDirectDuplicateIsConflict(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(`INSERT INTO direct_messages`).
		WillReturnError(&pgconn.PgError{Code: codeUniqueViolation})

	err := s.SaveDirect(context.Background(), &models.DirectMessage{ID: "m1", Timestamp: ts})
	assert.ErrorIs(t, err, storage.ErrConflict)
}

func TestConversationScansRows(t *testing.T) {
	s, mock := newMock(t)
	rows := sqlmock.NewRows(directCols).
		AddRow("m1", "alice", "bob", "hello", "text", "READ", true, nil, nil, nil, nil, nil, ts).
		AddRow("m2", "bob", "alice", "", "document", "SENT", false, "k.pdf", "notes.pdf", "/api/chat/media/m2", int64(10), "application/pdf", ts.Add(time.Second))
	mock.ExpectQuery(`WHERE LEAST\(sender_id, recipient_id\) = LEAST\(\$1::varchar, \$2::varchar\)\s+AND GREATEST\(sender_id, recipient_id\) = GREATEST`).
		WithArgs("alice", "bob", 20, 40).WillReturnRows(rows)

	got, err := s.Conversation(context.Background(), "alice", "bob", 40, 20)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Nil(t, got[0].Attachment)
	assert.True(t, got[0].Read)
	assert.Equal(t, models.TypeDocument, got[1].Type)
	require.NotNil(t, got[1].Attachment)
	assert.Equal(t, "notes.pdf", got[1].Attachment.FileName)
	assert.Equal(t, int64(10), got[1].Attachment.FileSize)
}

func TestGetDirectMissing(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(`FROM direct_messages WHERE id`).WithArgs("nope").WillReturnError(sql.ErrNoRows)

	_, err := s.GetDirect(context.Background(), "nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMarkDirectReadReportsFlip(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(`UPDATE direct_messages SET is_read = TRUE`).WithArgs("m1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE direct_messages SET is_read = TRUE`).WithArgs("m1").WillReturnResult(sqlmock.NewResult(0, 0))

	changed, err := s.MarkDirectRead(context.Background(), "m1")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.MarkDirectRead(context.Background(), "m1")
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestDeleteDirectMissing(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(`DELETE FROM direct_messages`).WithArgs("m1").WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, s.DeleteDirect(context.Background(), "m1"), storage.ErrNotFound)
}

func TestCreateGroupWritesSetsInOneTransaction(t *testing.T) {
	s, mock := newMock(t)
	g := &models.Group{
		ID: "g1", Name: "CS101", Type: models.GroupCustom, CreatedBy: "admin", IsActive: true, Version: 1,
		Members: []string{"admin", "alice"}, Admins: []string{"admin"}, CreatedAt: ts, UpdatedAt: ts,
	}
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO groups`).
		WithArgs("g1", "CS101", "", "", "CUSTOM", "admin", true, int64(1), ts, ts).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO group_members`).WithArgs("g1", "admin", ts).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO group_members`).WithArgs("g1", "alice", ts).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO group_admins`).WithArgs("g1", "admin").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.CreateGroup(context.Background(), g))
}

func TestCreateGroupRollsBackOnFailure(t *testing.T) {
	s, mock := newMock(t)
	g := &models.Group{ID: "g1", Members: []string{"admin"}, Admins: []string{"admin"}}
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO groups`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO group_members`).WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := s.CreateGroup(context.Background(), g)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert group member")
}

func TestGetGroupLoadsMembersAndAdmins(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(`FROM groups WHERE id`).WithArgs("g1").WillReturnRows(
		sqlmock.NewRows([]string{"id", "name", "description", "icon_url", "type", "created_by", "is_active", "version", "created_at", "updated_at"}).
			AddRow("g1", "CS101", "intro", "", "DEPARTMENT", "admin", true, int64(3), ts, ts))
	mock.ExpectQuery(`SELECT user_id FROM group_members`).WithArgs("g1").WillReturnRows(
		sqlmock.NewRows([]string{"user_id"}).AddRow("admin").AddRow("alice"))
	mock.ExpectQuery(`SELECT user_id FROM group_admins`).WithArgs("g1").WillReturnRows(
		sqlmock.NewRows([]string{"user_id"}).AddRow("admin"))

	g, err := s.GetGroup(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, models.GroupDepartment, g.Type)
	assert.Equal(t, int64(3), g.Version)
	assert.Equal(t, []string{"admin", "alice"}, g.Members)
	assert.True(t, g.IsAdmin("admin"))
}

func TestUpdateGroupMetadataStaleVersion(t *testing.T) {
	s, mock := newMock(t)
	g := &models.Group{ID: "g1", Name: "new", UpdatedAt: ts}
	mock.ExpectExec(`UPDATE groups`).WithArgs("new", "", "", ts, "g1", int64(2)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT EXISTS`).WithArgs("g1").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	assert.ErrorIs(t, s.UpdateGroupMetadata(context.Background(), g, 2), storage.ErrConflict)
}

func TestUpdateGroupMetadataBumpsVersion(t *testing.T) {
	s, mock := newMock(t)
	g := &models.Group{ID: "g1", Name: "new", UpdatedAt: ts}
	mock.ExpectExec(`UPDATE groups`).WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.UpdateGroupMetadata(context.Background(), g, 2))
	assert.Equal(t, int64(3), g.Version)
}

func TestAddMemberToMissingGroup(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(`INSERT INTO group_members`).WithArgs("ghost", "alice").
		WillReturnError(&pgconn.PgError{Code: codeForeignKeyViolation})

	_, err := s.AddMember(context.Background(), "ghost", "alice")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

var groupMsgCols = []string{"id", "group_id", "sender_id", "sender_name", "content", "type", "status",
	"file_key", "file_name", "file_url", "file_size", "content_type", "created_at", "user_id"}

func TestRecentGroupMessagesFoldsReaders(t *testing.T) {
	s, mock := newMock(t)
	rows := sqlmock.NewRows(groupMsgCols).
		AddRow("g2", "grp", "bob", "Bob", "second", "text", "SENT", nil, nil, nil, nil, nil, ts.Add(time.Second), "alice").
		AddRow("g2", "grp", "bob", "Bob", "second", "text", "SENT", nil, nil, nil, nil, nil, ts.Add(time.Second), "carol").
		AddRow("g1", "grp", "alice", "Alice", "first", "text", "SENT", nil, nil, nil, nil, nil, ts, nil)
	mock.ExpectQuery(`FROM group_messages`).WithArgs("grp", 50, 0).WillReturnRows(rows)

	got, err := s.RecentGroupMessages(context.Background(), "grp", 0, 50)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "g2", got[0].ID)
	assert.Equal(t, []string{"alice", "carol"}, got[0].ReadBy)
	assert.Equal(t, "g1", got[1].ID)
	assert.Empty(t, got[1].ReadBy)
}

func TestGetGroupMessageMissing(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(`FROM group_messages`).WithArgs("nope").WillReturnRows(sqlmock.NewRows(groupMsgCols))

	_, err := s.GetGroupMessage(context.Background(), "nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestAddGroupReaderIdempotent(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(`INSERT INTO group_message_reads`).WithArgs("g1", "alice").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO group_message_reads`).WithArgs("g1", "alice").WillReturnResult(sqlmock.NewResult(0, 0))

	added, err := s.AddGroupReader(context.Background(), "g1", "alice")
	require.NoError(t, err)
	assert.True(t, added)
	added, err = s.AddGroupReader(context.Background(), "g1", "alice")
	require.NoError(t, err)
	assert.False(t, added)
}

func TestCountUnreadGroup(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM group_messages`).WithArgs("grp", "alice").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	n, err := s.CountUnreadGroup(context.Background(), "grp", "alice")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestSaveNotificationsBulk(t *testing.T) {
	s, mock := newMock(t)
	ns := []*models.Notification{
		{ID: "n1", RecipientID: "s1", Title: "Exam", Message: "moved", Type: models.NotifyAnnouncement, Priority: models.PriorityHigh, CreatedAt: ts},
		{ID: "n2", RecipientID: "s2", Title: "Exam", Message: "moved", Type: models.NotifyAnnouncement, Priority: models.PriorityHigh, CreatedAt: ts},
	}
	mock.ExpectBegin()
	prep := mock.ExpectPrepare(`INSERT INTO notifications`)
	prep.ExpectExec().WithArgs("n1", "s1", "Exam", "moved", "ANNOUNCEMENT", "HIGH", false, nil, "", ts).WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WithArgs("n2", "s2", "Exam", "moved", "ANNOUNCEMENT", "HIGH", false, nil, "", ts).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.SaveNotifications(context.Background(), ns...))
}

func TestSaveNotificationsRollsBack(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	prep := mock.ExpectPrepare(`INSERT INTO notifications`)
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WillReturnError(&pgconn.PgError{Code: codeUniqueViolation})
	mock.ExpectRollback()

	err := s.SaveNotifications(context.Background(),
		&models.Notification{ID: "n1", CreatedAt: ts}, &models.Notification{ID: "n1", CreatedAt: ts})
	assert.ErrorIs(t, err, storage.ErrConflict)
}

func TestListNotificationsScansReadAt(t *testing.T) {
	s, mock := newMock(t)
	readAt := ts.Add(time.Hour)
	rows := sqlmock.NewRows([]string{"id", "recipient_id", "title", "message", "type", "priority", "is_read", "read_at", "action_url", "created_at"}).
		AddRow("n2", "bob", "t", "m", "NEW_MESSAGE", "NORMAL", false, nil, "/chat", ts.Add(time.Minute)).
		AddRow("n1", "bob", "t", "m", "GENERAL", "LOW", true, readAt, "", ts)
	mock.ExpectQuery(`FROM notifications`).WithArgs("bob", 10, 0).WillReturnRows(rows)

	got, err := s.ListNotifications(context.Background(), "bob", 0, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Nil(t, got[0].ReadAt)
	require.NotNil(t, got[1].ReadAt)
	assert.Equal(t, readAt, *got[1].ReadAt)
}

func TestMarkNotificationReadOnce(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(`UPDATE notifications SET is_read = TRUE`).WithArgs("n1", ts).WillReturnResult(sqlmock.NewResult(0, 0))

	changed, err := s.MarkNotificationRead(context.Background(), "n1", ts)
	require.NoError(t, err)
	assert.False(t, changed)
}
