package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/oralvis/apiserver/types"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return db, mock
}

const selectUserByEmail = `(?s)SELECT\s+id,\s*email,\s*name,\s*role,\s*password_hash,\s*created_at\s+FROM\s+users\s+WHERE\s+email\s*=\s*\$1`

func TestUserRepository_GetByEmail_Found(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db)

	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(selectUserByEmail).
		WithArgs("tech@oralvis.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "name", "role", "password_hash", "created_at"}).
			AddRow(1, "tech@oralvis.com", "John Smith", "technician", "$2a$10$hash", created))

	user, err := repo.GetByEmail(context.Background(), "tech@oralvis.com")
	require.NoError(t, err)
	require.Equal(t, types.User{
		ID:           1,
		Email:        "tech@oralvis.com",
		Name:         "John Smith",
		Role:         types.RoleTechnician,
		PasswordHash: "$2a$10$hash",
		CreatedAt:    created,
	}, user)
}

func TestUserRepository_GetByEmail_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db)

	mock.ExpectQuery(selectUserByEmail).
		WithArgs("ghost@oralvis.com").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByEmail(context.Background(), "ghost@oralvis.com")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUserRepository_GetByEmail_DBError(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db)

	mock.ExpectQuery(selectUserByEmail).
		WithArgs("tech@oralvis.com").
		WillReturnError(errors.New("db down"))

	_, err := repo.GetByEmail(context.Background(), "tech@oralvis.com")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrNotFound)
}

const insertUserIfAbsent = `(?s)INSERT\s+INTO\s+users\s*\(email,\s*name,\s*role,\s*password_hash,\s*created_at\)\s*VALUES\s*\(\$1,\s*\$2,\s*\$3,\s*\$4,\s*\$5\)\s*ON\s+CONFLICT\s*\(email\)\s*DO\s+NOTHING`

func TestUserRepository_InsertIfAbsent(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db)

	user := types.User{Email: "dentist@oralvis.com", Name: "Dr. Sarah Johnson", Role: types.RoleDentist, PasswordHash: "h"}

	mock.ExpectExec(insertUserIfAbsent).
		WithArgs(user.Email, user.Name, user.Role, user.PasswordHash, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectExec(insertUserIfAbsent).
		WithArgs(user.Email, user.Name, user.Role, user.PasswordHash, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	inserted, err := repo.InsertIfAbsent(context.Background(), user)
	require.NoError(t, err)
	require.True(t, inserted)

	inserted, err = repo.InsertIfAbsent(context.Background(), user)
	require.NoError(t, err)
	require.False(t, inserted)
}

func TestUserRepository_InsertIfAbsent_DBError(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db)

	mock.ExpectExec(insertUserIfAbsent).WillReturnError(errors.New("relation \"users\" does not exist"))

	_, err := repo.InsertIfAbsent(context.Background(), types.User{Email: "x"})
	require.Error(t, err)
}
