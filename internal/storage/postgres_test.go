package storage

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpr-fleet/fleet-server/internal/models"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStoreFromDB(db), mock
}

func lprColumns() []string {
	return []string{"id", "created_at", "updated_at", "name", "ip", "port",
		"auth_token", "is_active", "latitude", "longitude"}
}

func settingColumns() []string {
	return []string{"id", "created_at", "updated_at", "name", "value", "setting_type"}
}

func cameraColumns() []string {
	return []string{"id", "created_at", "updated_at", "name", "gate_id", "lpr_id", "is_active"}
}

func TestGetLPRLoadsSettingsAndCameras(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery(`SELECT .+ FROM lprs`).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(lprColumns()).
			AddRow(int64(1), now, now, "gate-north", "10.0.0.5", 5000, "tok", true, nil, nil))

	mock.ExpectQuery(`SELECT .+ FROM lpr_settings`).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(settingColumns()).
			AddRow(int64(10), now, now, "fps", "10", "int").
			AddRow(int64(11), now, now, "mode", "day", "string"))

	mock.ExpectQuery(`SELECT .+ FROM cameras`).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(cameraColumns()).
			AddRow(int64(4), now, now, "entry", int64(2), int64(1), true))

	mock.ExpectQuery(`SELECT .+ FROM camera_settings`).
		WithArgs(int64(4)).
		WillReturnRows(sqlmock.NewRows(settingColumns()).
			AddRow(int64(20), now, now, "threshold", "0.8", "float"))

	lpr, err := store.GetLPR(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, "gate-north", lpr.Name)
	require.Len(t, lpr.Settings, 2)
	assert.Equal(t, int64(10), lpr.Settings[0].TypedValue())
	require.Len(t, lpr.Cameras, 1)
	require.Len(t, lpr.Cameras[0].Settings, 1)
	assert.Equal(t, 0.8, lpr.Cameras[0].Settings[0].TypedValue())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetLPRNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .+ FROM lprs`).
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows(lprColumns()))

	_, err := store.GetLPR(context.Background(), 99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateLPRReturnsID(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`INSERT INTO lprs`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

	lpr := &models.LPR{Name: "gate-south", IP: "10.0.0.6", Port: 5000, AuthToken: "tok"}
	require.NoError(t, store.CreateLPR(context.Background(), lpr))
	assert.Equal(t, int64(7), lpr.ID)
}

func TestUpdateLPRNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE lprs`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.UpdateLPR(context.Background(), &models.LPR{BaseModel: models.BaseModel{ID: 42}})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTrafficBatchTransaction(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO traffic`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO traffic`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := store.BeginTx(context.Background())
	require.NoError(t, err)

	for _, plate := range []string{"12a34567", "98z76554"} {
		tr := &models.Traffic{PlateNumber: plate, CameraID: 4, Timestamp: "2026-01-01T00:00:00Z"}
		tr.SplitPlate()
		require.NoError(t, tx.CreateTraffic(context.Background(), tr))
	}
	require.NoError(t, tx.Commit())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTrafficBatchRollback(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO traffic`).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	tx, err := store.BeginTx(context.Background())
	require.NoError(t, err)

	err = tx.CreateTraffic(context.Background(), &models.Traffic{PlateNumber: "12a34567", CameraID: 4})
	require.Error(t, err)
	require.NoError(t, tx.Rollback())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListTrafficCameraFilter(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()
	cameraID := int64(4)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM traffic`).
		WithArgs(cameraID).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(1)))

	cols := []string{"id", "created_at", "plate_number", "prefix_2", "alpha", "mid_3", "suffix_2",
		"ocr_accuracy", "vision_speed", "plate_image_path", "full_image_path", "timestamp", "camera_id"}
	mock.ExpectQuery(`SELECT .+ FROM traffic`).
		WithArgs(cameraID, 20, 0).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("0c7a4fbb-5ad9-460f-a1e6-2fb5b2c4b4a1", now, "12a34567", "12", "a", "345", "67",
				0.97, 42.5, "", "", "2026-01-01T00:00:00Z", cameraID))

	traffic, total, err := store.ListTraffic(context.Background(), &cameraID, 20, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, traffic, 1)
	assert.Equal(t, "12a34567", traffic[0].PlateNumber)
}

func TestGetUserLoadsGates(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()
	id := "0c7a4fbb-5ad9-460f-a1e6-2fb5b2c4b4a1"

	userCols := []string{"id", "created_at", "updated_at", "personal_number", "first_name",
		"last_name", "user_type", "password_hash", "is_active", "last_login_at"}
	mock.ExpectQuery(`SELECT .+ FROM users`).
		WithArgs("12345").
		WillReturnRows(sqlmock.NewRows(userCols).
			AddRow(id, now, now, "12345", "Dana", "Lund", "VIEWER", "hash", true, nil))

	mock.ExpectQuery(`SELECT gate_id FROM user_gates`).
		WillReturnRows(sqlmock.NewRows([]string{"gate_id"}).AddRow(int64(2)).AddRow(int64(5)))

	user, err := store.GetUserByPersonalNumber(context.Background(), "12345")
	require.NoError(t, err)

	assert.Equal(t, models.UserTypeViewer, user.UserType)
	assert.Equal(t, []int64{2, 5}, user.GateIDs)
	assert.True(t, user.PermittedGate(5))
	assert.False(t, user.PermittedGate(3))
}
