package storage

import (
	"context"
	"database/sql"
	"time"

	_ "modernc.org/sqlite"
)

type DB struct {
	sql *sql.DB
}

func Open(path string) (*DB, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	// Ensure schema exists for convenience.
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS activity_configs (
  id                     INTEGER PRIMARY KEY,
  name                   TEXT NOT NULL,
  course_id              INTEGER NOT NULL DEFAULT 0,
  content_url            TEXT NOT NULL DEFAULT '',
  activity_iri           TEXT NOT NULL,
  completion_verb        TEXT NOT NULL DEFAULT '',
  endpoint               TEXT NOT NULL DEFAULT '',
  auth_mode              TEXT NOT NULL DEFAULT 'basic' CHECK (auth_mode IN ('none','basic','session')),
  login                  TEXT NOT NULL DEFAULT '',
  password               TEXT NOT NULL DEFAULT '',
  expiry_days            INTEGER NOT NULL DEFAULT 0,
  grade_weight           REAL NOT NULL DEFAULT 0,
  multiple_registrations INTEGER NOT NULL DEFAULT 0 CHECK (multiple_registrations IN (0,1)),
  email_identification   INTEGER NOT NULL DEFAULT 1 CHECK (email_identification IN (0,1)),
  actor_homepage         TEXT NOT NULL DEFAULT '',
  override_defaults      INTEGER NOT NULL DEFAULT 1 CHECK (override_defaults IN (0,1)),
  created_at             DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updated_at             DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS credentials (
  activity_id INTEGER PRIMARY KEY REFERENCES activity_configs(id),
  cred_key    TEXT NOT NULL,
  cred_secret TEXT NOT NULL,
  expires_at  INTEGER NOT NULL,
  endpoint    TEXT NOT NULL,
  login       TEXT NOT NULL,
  password    TEXT NOT NULL,
  auth_mode   TEXT NOT NULL,
  created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS learners (
  id        INTEGER PRIMARY KEY,
  username  TEXT NOT NULL,
  email     TEXT NOT NULL DEFAULT '',
  id_number TEXT NOT NULL DEFAULT '',
  lang      TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS enrollments (
  course_id  INTEGER NOT NULL,
  learner_id INTEGER NOT NULL REFERENCES learners(id),
  UNIQUE(course_id, learner_id)
);
CREATE TABLE IF NOT EXISTS completion_states (
  activity_id INTEGER NOT NULL REFERENCES activity_configs(id),
  learner_id  INTEGER NOT NULL REFERENCES learners(id),
  state       TEXT NOT NULL CHECK (state IN ('incomplete','complete')),
  updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  UNIQUE(activity_id, learner_id)
);
CREATE TABLE IF NOT EXISTS grades (
  activity_id INTEGER NOT NULL REFERENCES activity_configs(id),
  learner_id  INTEGER NOT NULL REFERENCES learners(id),
  raw_grade   REAL NOT NULL,
  updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  UNIQUE(activity_id, learner_id)
);
CREATE TABLE IF NOT EXISTS completion_changes (
  id          INTEGER PRIMARY KEY,
  occurred_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  activity_id INTEGER NOT NULL,
  learner_id  INTEGER NOT NULL,
  old_state   TEXT NOT NULL,
  new_state   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_changes_activity ON completion_changes(activity_id, occurred_at);
CREATE TABLE IF NOT EXISTS sync_meta (
  key   TEXT PRIMARY KEY,
  value TEXT NOT NULL
);
    `); err != nil {
		return nil, err
	}
	return &DB{sql: db}, nil
}

func (d *DB) Close() error {
	if d == nil || d.sql == nil {
		return nil
	}
	return d.sql.Close()
}

// --- activity configs ---

func (d *DB) AddActivityConfig(ctx context.Context, cfg ActivityConfig) (int64, error) {
	res, err := d.sql.ExecContext(ctx, `INSERT INTO activity_configs
	(name, course_id, content_url, activity_iri, completion_verb, endpoint, auth_mode, login, password,
	 expiry_days, grade_weight, multiple_registrations, email_identification, actor_homepage, override_defaults)
	VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		cfg.Name, cfg.CourseID, cfg.ContentURL, cfg.ActivityIRI, cfg.CompletionVerb, cfg.Endpoint,
		cfg.AuthMode, cfg.Login, cfg.Password, cfg.ExpiryDays, cfg.GradeWeight,
		boolToInt(cfg.MultipleRegistrations), boolToInt(cfg.EmailIdentification), cfg.ActorHomepage,
		boolToInt(cfg.OverrideDefaults))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (d *DB) UpdateActivityConfig(ctx context.Context, cfg ActivityConfig) error {
	_, err := d.sql.ExecContext(ctx, `UPDATE activity_configs SET
	name = ?, course_id = ?, content_url = ?, activity_iri = ?, completion_verb = ?, endpoint = ?,
	auth_mode = ?, login = ?, password = ?, expiry_days = ?, grade_weight = ?,
	multiple_registrations = ?, email_identification = ?, actor_homepage = ?, override_defaults = ?,
	updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		cfg.Name, cfg.CourseID, cfg.ContentURL, cfg.ActivityIRI, cfg.CompletionVerb, cfg.Endpoint,
		cfg.AuthMode, cfg.Login, cfg.Password, cfg.ExpiryDays, cfg.GradeWeight,
		boolToInt(cfg.MultipleRegistrations), boolToInt(cfg.EmailIdentification), cfg.ActorHomepage,
		boolToInt(cfg.OverrideDefaults), cfg.ID)
	return err
}

const activityColumns = `id, name, course_id, content_url, activity_iri, completion_verb, endpoint,
	auth_mode, login, password, expiry_days, grade_weight, multiple_registrations,
	email_identification, actor_homepage, override_defaults`

func scanActivity(row interface{ Scan(...any) error }) (ActivityConfig, error) {
	var cfg ActivityConfig
	var multi, email, override int
	err := row.Scan(&cfg.ID, &cfg.Name, &cfg.CourseID, &cfg.ContentURL, &cfg.ActivityIRI,
		&cfg.CompletionVerb, &cfg.Endpoint, &cfg.AuthMode, &cfg.Login, &cfg.Password,
		&cfg.ExpiryDays, &cfg.GradeWeight, &multi, &email, &cfg.ActorHomepage, &override)
	if err != nil {
		return cfg, err
	}
	cfg.MultipleRegistrations = multi == 1
	cfg.EmailIdentification = email == 1
	cfg.OverrideDefaults = override == 1
	return cfg, nil
}

func (d *DB) GetActivityConfig(ctx context.Context, id int64) (ActivityConfig, error) {
	row := d.sql.QueryRowContext(ctx, "SELECT "+activityColumns+" FROM activity_configs WHERE id = ?", id)
	return scanActivity(row)
}

func (d *DB) ListActivityConfigs(ctx context.Context) ([]ActivityConfig, error) {
	rows, err := d.sql.QueryContext(ctx, "SELECT "+activityColumns+" FROM activity_configs ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []ActivityConfig
	for rows.Next() {
		cfg, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	return configs, rows.Err()
}

func (d *DB) RemoveActivityConfig(ctx context.Context, id int64) error {
	_, err := d.sql.ExecContext(ctx, "DELETE FROM activity_configs WHERE id = ?", id)
	return err
}

// --- learners and enrollment ---

func (d *DB) AddLearner(ctx context.Context, l Learner) (int64, error) {
	res, err := d.sql.ExecContext(ctx,
		"INSERT INTO learners(username, email, id_number, lang) VALUES (?,?,?,?)",
		l.Username, l.Email, l.IDNumber, l.Lang)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (d *DB) GetLearner(ctx context.Context, id int64) (Learner, error) {
	var l Learner
	err := d.sql.QueryRowContext(ctx,
		"SELECT id, username, email, id_number, lang FROM learners WHERE id = ?", id).
		Scan(&l.ID, &l.Username, &l.Email, &l.IDNumber, &l.Lang)
	return l, err
}

func (d *DB) EnrollLearner(ctx context.Context, courseID, learnerID int64) error {
	_, err := d.sql.ExecContext(ctx,
		"INSERT OR IGNORE INTO enrollments(course_id, learner_id) VALUES (?,?)", courseID, learnerID)
	return err
}

func (d *DB) ListEnrolledLearners(ctx context.Context, courseID int64) ([]Learner, error) {
	rows, err := d.sql.QueryContext(ctx, `SELECT l.id, l.username, l.email, l.id_number, l.lang
		FROM learners l JOIN enrollments e ON e.learner_id = l.id
		WHERE e.course_id = ? ORDER BY l.id`, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var learners []Learner
	for rows.Next() {
		var l Learner
		if err := rows.Scan(&l.ID, &l.Username, &l.Email, &l.IDNumber, &l.Lang); err != nil {
			return nil, err
		}
		learners = append(learners, l)
	}
	return learners, rows.Err()
}

// --- completion state ---

func (d *DB) GetCompletionState(ctx context.Context, activityID, learnerID int64) (string, error) {
	var state string
	err := d.sql.QueryRowContext(ctx,
		"SELECT state FROM completion_states WHERE activity_id = ? AND learner_id = ?",
		activityID, learnerID).Scan(&state)
	if err == sql.ErrNoRows {
		return StateUnknown, nil
	}
	if err != nil {
		return StateUnknown, err
	}
	return state, nil
}

// SetCompletionState upserts a learner's state and logs the transition in
// completion_changes. Callers are expected to have applied the
// minimal-write policy already; this always writes.
func (d *DB) SetCompletionState(ctx context.Context, activityID, learnerID int64, state string) error {
	old, err := d.GetCompletionState(ctx, activityID, learnerID)
	if err != nil {
		return err
	}
	tx, err := d.sql.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `INSERT INTO completion_states(activity_id, learner_id, state)
		VALUES (?,?,?)
		ON CONFLICT(activity_id, learner_id) DO UPDATE SET state = excluded.state, updated_at = CURRENT_TIMESTAMP`,
		activityID, learnerID, state)
	if err != nil {
		return err
	}
	if old != state {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO completion_changes(activity_id, learner_id, old_state, new_state) VALUES (?,?,?,?)",
			activityID, learnerID, old, state)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (d *DB) CountCompletionChanges(ctx context.Context, activityID int64) (int, error) {
	var n int
	err := d.sql.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM completion_changes WHERE activity_id = ?", activityID).Scan(&n)
	return n, err
}

func (d *DB) ListCompletionChanges(ctx context.Context, activityID int64) ([]CompletionChange, error) {
	rows, err := d.sql.QueryContext(ctx, `SELECT occurred_at, activity_id, learner_id, old_state, new_state
		FROM completion_changes WHERE activity_id = ? ORDER BY id`, activityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var changes []CompletionChange
	for rows.Next() {
		var c CompletionChange
		if err := rows.Scan(&c.OccurredAt, &c.ActivityID, &c.LearnerID, &c.OldState, &c.NewState); err != nil {
			return nil, err
		}
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

// --- grades ---

func (d *DB) PushGrades(ctx context.Context, activityID int64, grades map[int64]float64) error {
	if len(grades) == 0 {
		return nil
	}
	tx, err := d.sql.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for learnerID, raw := range grades {
		_, err = tx.ExecContext(ctx, `INSERT INTO grades(activity_id, learner_id, raw_grade)
			VALUES (?,?,?)
			ON CONFLICT(activity_id, learner_id) DO UPDATE SET raw_grade = excluded.raw_grade, updated_at = CURRENT_TIMESTAMP`,
			activityID, learnerID, raw)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (d *DB) GetGrade(ctx context.Context, activityID, learnerID int64) (float64, bool, error) {
	var raw float64
	err := d.sql.QueryRowContext(ctx,
		"SELECT raw_grade FROM grades WHERE activity_id = ? AND learner_id = ?",
		activityID, learnerID).Scan(&raw)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return raw, true, nil
}

// --- watermark ---

const watermarkKey = "sync_watermark"

// GetWatermark returns the last fully-successful sync timestamp. The bool
// is false when no run has ever completed cleanly.
func (d *DB) GetWatermark(ctx context.Context) (time.Time, bool, error) {
	var value string
	err := d.sql.QueryRowContext(ctx, "SELECT value FROM sync_meta WHERE key = ?", watermarkKey).Scan(&value)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

// SetWatermark persists the watermark. Writes that would move the
// watermark backwards are ignored; it is monotonically non-decreasing.
func (d *DB) SetWatermark(ctx context.Context, t time.Time) error {
	current, ok, err := d.GetWatermark(ctx)
	if err != nil {
		return err
	}
	if ok && t.Before(current) {
		return nil
	}
	_, err = d.sql.ExecContext(ctx, `INSERT INTO sync_meta(key, value) VALUES (?,?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		watermarkKey, t.UTC().Format(time.RFC3339Nano))
	return err
}

// --- credential cache ---

func (d *DB) GetCredential(ctx context.Context, activityID int64) (Credential, bool, error) {
	var c Credential
	var expires int64
	err := d.sql.QueryRowContext(ctx, `SELECT activity_id, cred_key, cred_secret, expires_at,
		endpoint, login, password, auth_mode FROM credentials WHERE activity_id = ?`, activityID).
		Scan(&c.ActivityID, &c.Key, &c.Secret, &expires, &c.Endpoint, &c.Login, &c.Password, &c.AuthMode)
	if err == sql.ErrNoRows {
		return c, false, nil
	}
	if err != nil {
		return c, false, err
	}
	c.ExpiresAt = time.Unix(expires, 0).UTC()
	return c, true, nil
}

func (d *DB) PutCredential(ctx context.Context, c Credential) error {
	_, err := d.sql.ExecContext(ctx, `INSERT INTO credentials
		(activity_id, cred_key, cred_secret, expires_at, endpoint, login, password, auth_mode)
		VALUES (?,?,?,?,?,?,?,?)
		ON CONFLICT(activity_id) DO UPDATE SET
		cred_key = excluded.cred_key, cred_secret = excluded.cred_secret, expires_at = excluded.expires_at,
		endpoint = excluded.endpoint, login = excluded.login, password = excluded.password,
		auth_mode = excluded.auth_mode, created_at = CURRENT_TIMESTAMP`,
		c.ActivityID, c.Key, c.Secret, c.ExpiresAt.Unix(), c.Endpoint, c.Login, c.Password, c.AuthMode)
	return err
}

func (d *DB) DeleteCredential(ctx context.Context, activityID int64) error {
	_, err := d.sql.ExecContext(ctx, "DELETE FROM credentials WHERE activity_id = ?", activityID)
	return err
}

// ListExpiredCredentials returns cached credentials whose expiry has
// passed, for the revocation sweep.
func (d *DB) ListExpiredCredentials(ctx context.Context, now time.Time) ([]Credential, error) {
	rows, err := d.sql.QueryContext(ctx, `SELECT activity_id, cred_key, cred_secret, expires_at,
		endpoint, login, password, auth_mode FROM credentials WHERE expires_at <= ? ORDER BY activity_id`,
		now.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var creds []Credential
	for rows.Next() {
		var c Credential
		var expires int64
		if err := rows.Scan(&c.ActivityID, &c.Key, &c.Secret, &expires,
			&c.Endpoint, &c.Login, &c.Password, &c.AuthMode); err != nil {
			return nil, err
		}
		c.ExpiresAt = time.Unix(expires, 0).UTC()
		creds = append(creds, c)
	}
	return creds, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
