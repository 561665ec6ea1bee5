package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/attache-app/attache/internal/provider"
)

const schema = `
CREATE TABLE IF NOT EXISTS credentials (
	uid           TEXT NOT NULL,
	provider      TEXT NOT NULL,
	access_token  TEXT NOT NULL,
	refresh_token TEXT NOT NULL DEFAULT '',
	token_type    TEXT NOT NULL DEFAULT '',
	scope         TEXT NOT NULL DEFAULT '',
	expiry        INTEGER NOT NULL DEFAULT 0,
	updated_at    INTEGER NOT NULL,
	PRIMARY KEY (uid, provider)
);
CREATE TABLE IF NOT EXISTS pending_actions (
	uid         TEXT PRIMARY KEY,
	action_type TEXT NOT NULL,
	provider    TEXT NOT NULL,
	payload     TEXT NOT NULL,
	created_at  INTEGER NOT NULL
);
`

// SQLiteStore is a TokenStore backed by a local sqlite database.
type SQLiteStore struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

// OpenSQLite opens (and migrates) the sqlite store at path. pendingTTL
// bounds how long an unconfirmed action stays readable; zero disables
// expiry.
func OpenSQLite(path string, pendingTTL time.Duration) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, &StorageError{Op: "open", Err: err}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, &StorageError{Op: "migrate", Err: err}
	}
	return &SQLiteStore{db: db, ttl: pendingTTL, now: time.Now}, nil
}

func (s *SQLiteStore) GetCredential(ctx context.Context, uid string, p provider.Provider) (*provider.Credential, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT access_token, refresh_token, token_type, scope, expiry FROM credentials WHERE uid = ? AND provider = ?`,
		uid, string(p))

	var cred provider.Credential
	var expiry int64
	err := row.Scan(&cred.AccessToken, &cred.RefreshToken, &cred.TokenType, &cred.Scope, &expiry)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &StorageError{Op: "get credential", Err: err}
	}
	cred.Provider = p
	if expiry > 0 {
		cred.Expiry = time.Unix(expiry, 0).UTC()
	}
	return &cred, nil
}

func (s *SQLiteStore) SaveCredential(ctx context.Context, uid string, cred *provider.Credential) error {
	var expiry int64
	if !cred.Expiry.IsZero() {
		expiry = cred.Expiry.Unix()
	}
	// The refresh token clause preserves a previously stored value when the
	// new write omits one: providers do not reissue it on every exchange.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (uid, provider, access_token, refresh_token, token_type, scope, expiry, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (uid, provider) DO UPDATE SET
			access_token  = excluded.access_token,
			refresh_token = CASE WHEN excluded.refresh_token = '' THEN credentials.refresh_token ELSE excluded.refresh_token END,
			token_type    = excluded.token_type,
			scope         = excluded.scope,
			expiry        = excluded.expiry,
			updated_at    = excluded.updated_at`,
		uid, string(cred.Provider), cred.AccessToken, cred.RefreshToken, cred.TokenType, cred.Scope, expiry, s.now().Unix())
	if err != nil {
		return &StorageError{Op: "save credential", Err: err}
	}
	return nil
}

func (s *SQLiteStore) GetPendingAction(ctx context.Context, uid string) (*PendingAction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT action_type, provider, payload, created_at FROM pending_actions WHERE uid = ?`, uid)

	var action PendingAction
	var actionType, prov, payload string
	var createdAt int64
	err := row.Scan(&actionType, &prov, &payload, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &StorageError{Op: "get pending action", Err: err}
	}
	action.Type = provider.ActionType(actionType)
	action.Provider = provider.Provider(prov)
	action.Payload = json.RawMessage(payload)
	action.CreatedAt = time.Unix(createdAt, 0).UTC()

	if action.Expired(s.now(), s.ttl) {
		// Lazy expiry. A failed delete is deliberately ignored: the row is
		// unreadable from now on and the next write replaces it.
		_, _ = s.db.ExecContext(ctx, `DELETE FROM pending_actions WHERE uid = ?`, uid)
		return nil, nil
	}
	return &action, nil
}

func (s *SQLiteStore) SetPendingAction(ctx context.Context, uid string, action *PendingAction) error {
	if !action.Type.Valid() {
		return &StorageError{Op: "set pending action", Err: fmt.Errorf("invalid action type %q", action.Type)}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_actions (uid, action_type, provider, payload, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (uid) DO UPDATE SET
			action_type = excluded.action_type,
			provider    = excluded.provider,
			payload     = excluded.payload,
			created_at  = excluded.created_at`,
		uid, string(action.Type), string(action.Provider), string(action.Payload), action.CreatedAt.Unix())
	if err != nil {
		return &StorageError{Op: "set pending action", Err: err}
	}
	return nil
}

func (s *SQLiteStore) ClearPendingAction(ctx context.Context, uid string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_actions WHERE uid = ?`, uid); err != nil {
		return &StorageError{Op: "clear pending action", Err: err}
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
