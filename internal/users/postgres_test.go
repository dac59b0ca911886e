package users

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const findByEmailQuery = `SELECT id, name, password_hash\s+FROM users\s+WHERE email = \$1`

func TestPostgresStoreInsert(t *testing.T) {
	tests := []struct {
		name      string
		user      User
		setupMock func(mock pgxmock.PgxPoolIface)
		wantID    string
		wantErr   bool
	}{
		{
			name: "keeps provided id",
			user: User{ID: "u-1", Name: "alice", Email: "a@b.com", PasswordHash: "h", CreatedAt: time.Unix(10, 0)},
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`INSERT INTO users`).
					WithArgs("u-1", "alice", "a@b.com", "h", time.Unix(10, 0)).
					WillReturnResult(pgxmock.NewResult("INSERT", 1))
			},
			wantID: "u-1",
		},
		{
			name: "generates id",
			user: User{Name: "alice", Email: "a@b.com", PasswordHash: "h"},
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`INSERT INTO users`).
					WithArgs(pgxmock.AnyArg(), "alice", "a@b.com", "h", pgxmock.AnyArg()).
					WillReturnResult(pgxmock.NewResult("INSERT", 1))
			},
		},
		{
			name: "database error",
			user: User{ID: "u-1", Name: "alice", Email: "a@b.com", PasswordHash: "h", CreatedAt: time.Unix(10, 0)},
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`INSERT INTO users`).
					WithArgs("u-1", "alice", "a@b.com", "h", time.Unix(10, 0)).
					WillReturnError(errors.New("connection refused"))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err, "failed to create mock")
			defer mock.Close()

			tt.setupMock(mock)

			id, err := NewPostgresStore(mock).Insert(context.Background(), tt.user)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrStore)
				assert.Contains(t, err.Error(), "connection refused")
			} else {
				require.NoError(t, err)
				if tt.wantID != "" {
					assert.Equal(t, tt.wantID, id)
				} else {
					assert.NotEmpty(t, id)
				}
			}

			assert.NoError(t, mock.ExpectationsWereMet(), "unfulfilled expectations")
		})
	}
}

func TestPostgresStoreFindByEmail(t *testing.T) {
	columns := []string{"id", "name", "password_hash"}

	tests := []struct {
		name      string
		setupMock func(mock pgxmock.PgxPoolIface)
		want      Credential
		wantFound bool
		wantErr   error
	}{
		{
			name: "single match",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(findByEmailQuery).
					WithArgs("a@b.com").
					WillReturnRows(pgxmock.NewRows(columns).AddRow("u-1", "alice", "h"))
			},
			want:      Credential{ID: "u-1", Name: "alice", PasswordHash: "h"},
			wantFound: true,
		},
		{
			name: "no match",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(findByEmailQuery).
					WithArgs("a@b.com").
					WillReturnRows(pgxmock.NewRows(columns))
			},
		},
		{
			name: "duplicate emails",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(findByEmailQuery).
					WithArgs("a@b.com").
					WillReturnRows(pgxmock.NewRows(columns).
						AddRow("u-1", "alice", "h1").
						AddRow("u-2", "alice2", "h2"))
			},
			wantErr: ErrAmbiguousEmail,
		},
		{
			name: "query error",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(findByEmailQuery).
					WithArgs("a@b.com").
					WillReturnError(errors.New("i/o timeout"))
			},
			wantErr: ErrStore,
		},
		{
			name: "row error",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(findByEmailQuery).
					WithArgs("a@b.com").
					WillReturnRows(pgxmock.NewRows(columns).
						AddRow("u-1", "alice", "h").
						RowError(0, errors.New("broken row")))
			},
			wantErr: ErrStore,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err, "failed to create mock")
			defer mock.Close()

			tt.setupMock(mock)

			got, found, err := NewPostgresStore(mock).FindByEmail(context.Background(), "a@b.com")
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.False(t, found)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantFound, found)
				assert.Equal(t, tt.want, got)
			}

			assert.NoError(t, mock.ExpectationsWereMet(), "unfulfilled expectations")
		})
	}
}
