package users

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/otpkeeper/internal/common"
	"github.com/dmitrijs2005/otpkeeper/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var userCols = []string{"userid", "username", "name", "email", "mobile", "otpvaliduntil", "totptoken", "subscriptionmodel", "lastotp"}

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return NewPostgresRepository(db), mock
}

func TestGetByID_Found(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`SELECT userid, username, .+ FROM users WHERE userid = \$1`).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows(userCols).
			AddRow(int64(42), "alice", "Alice A", "", "", "2030-01-01", "SECRET", "600", "123456"))

	u, err := repo.GetByID(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, &models.User{
		UserID: 42, Username: "alice", Name: "Alice A", OTPValidUntil: "2030-01-01",
		TOTPSecret: "SECRET", SubscriptionModel: models.SubscriptionOneWeek, LastOTP: "123456",
	}, u)
}

func TestGetByID_NotFound(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`FROM users WHERE userid = \$1`).
		WithArgs(int64(7)).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), 7)
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func TestGetByID_DBError(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`FROM users WHERE userid = \$1`).
		WithArgs(int64(7)).
		WillReturnError(errors.New("db down"))

	_, err := repo.GetByID(context.Background(), 7)
	require.ErrorContains(t, err, "db error: db down")
	require.NotErrorIs(t, err, common.ErrorNotFound)
}

func TestGetByUsername_Lowercases(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`FROM users WHERE username = \$1 ORDER BY userid LIMIT 1`).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows(userCols).
			AddRow(int64(42), "alice", "", "", "", "", "S", "", ""))

	u, err := repo.GetByUsername(context.Background(), "Alice")
	require.NoError(t, err)
	assert.Equal(t, int64(42), u.UserID)
}

func TestInsert(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectExec(`INSERT INTO users \(userid, .+\) VALUES \(\$1, \$2, \$3, \$4, \$5, \$6, \$7, \$8, \$9\) ON CONFLICT \(userid\) DO NOTHING`).
		WithArgs(int64(42), "alice", "Alice A", "", "", "", "SECRET", "", "").
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := repo.Insert(context.Background(), &models.User{UserID: 42, Username: "ALICE", Name: "Alice A", TOTPSecret: "SECRET"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestUpdate(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectExec(`UPDATE users SET username = \$1, .+ WHERE userid = \$9`).
		WithArgs("bob", "Bob", "b@x", "555", "2030-01-01", "S", "2000", "111111", int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := repo.Update(context.Background(), &models.User{
		UserID: 5, Username: "Bob", Name: "Bob", Email: "b@x", Mobile: "555",
		OTPValidUntil: "2030-01-01", TOTPSecret: "S", SubscriptionModel: models.SubscriptionOneMonth, LastOTP: "111111",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestUpdateOTP(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectExec(`UPDATE users SET lastotp = \$1 WHERE userid = \$2`).
		WithArgs("123456", int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE users SET lastotp = \$1, otpvaliduntil = \$2 WHERE userid = \$3`).
		WithArgs("654321", "2030-01-01", int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	n, err := repo.UpdateOTP(context.Background(), 42, "123456", "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = repo.UpdateOTP(context.Background(), 42, "654321", "2030-01-01")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUpdateColumn(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectExec(`UPDATE users SET username = \$1 WHERE userid = \$2`).
		WithArgs("carol", int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := repo.UpdateColumn(context.Background(), 3, models.ColumnUsername, "Carol")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = repo.UpdateColumn(context.Background(), 3, models.UserColumn("name = 'x'; --"), "v")
	require.ErrorIs(t, err, common.ErrorInvalidColumn)

	_, err = repo.UpdateColumn(context.Background(), 3, models.ColumnUserID, 4)
	require.ErrorIs(t, err, common.ErrorInvalidColumn)
}

func TestList(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`SELECT .+ FROM users ORDER BY userid`).
		WillReturnRows(sqlmock.NewRows(userCols).
			AddRow(int64(1), "a", "", "", "", "", "S1", "", "").
			AddRow(int64(2), "b", "", "", "", "", "S2", "130", ""))
	mock.ExpectQuery(`SELECT .+ FROM users WHERE subscriptionmodel = \$1 ORDER BY userid`).
		WithArgs("130").
		WillReturnRows(sqlmock.NewRows(userCols).
			AddRow(int64(2), "b", "", "", "", "", "S2", "130", ""))

	all, err := repo.List(context.Background(), models.UserFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)

	paid, err := repo.List(context.Background(), models.UserFilter{Column: models.ColumnSubscriptionModel, Value: "130"})
	require.NoError(t, err)
	require.Len(t, paid, 1)
	assert.Equal(t, models.SubscriptionOneDay, paid[0].SubscriptionModel)

	_, err = repo.List(context.Background(), models.UserFilter{Column: "1=1 OR username"})
	require.ErrorIs(t, err, common.ErrorInvalidColumn)
}

func TestPayingUsers(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`FROM users u LEFT JOIN alertsubscriptions a ON a.userid = u.userid WHERE COALESCE\(a.balance, 0\) > 0`).
		WillReturnRows(sqlmock.NewRows([]string{"userid", "subscriptionmodel", "balance"}).
			AddRow(int64(1), "", 12.5).
			AddRow(int64(2), "22000", 0.0))

	got, err := repo.PayingUsers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []models.PayingUser{
		{UserID: 1, SubscriptionModel: "", Balance: 12.5},
		{UserID: 2, SubscriptionModel: models.SubscriptionOneYear, Balance: 0},
	}, got)
}

func TestAffected_ExecError(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectExec(`UPDATE users SET lastotp`).WillReturnError(errors.New("conn reset"))

	_, err := repo.UpdateOTP(context.Background(), 1, "x", "")
	require.ErrorContains(t, err, "db error")
}
