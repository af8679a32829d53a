package crm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/disciple-tools/homescreen-apps/internal/db"
	"github.com/disciple-tools/homescreen-apps/internal/fields"
)

// PGStore is the PostgreSQL implementation of Store.
type PGStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	now    func() time.Time
}

var _ Store = (*PGStore)(nil)

// NewPGStore creates a store over pool.
func NewPGStore(log *slog.Logger, pool *pgxpool.Pool) *PGStore {
	return &PGStore{
		pool:   pool,
		logger: log.With(slog.String("service", "crm")),
		now:    time.Now,
	}
}

const recordColumns = `id, post_type, title, fields, created_at, modified_at`

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec      Record
		raw      []byte
		created  pgtype.Timestamptz
		modified pgtype.Timestamptz
	)
	if err := row.Scan(&rec.ID, &rec.PostType, &rec.Title, &raw, &created, &modified); err != nil {
		return Record{}, err
	}
	rec.Fields = map[string]json.RawMessage{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &rec.Fields); err != nil {
			return Record{}, fmt.Errorf("decode fields of %d: %w", rec.ID, err)
		}
	}
	rec.CreatedAt = db.TimeFromPg(created)
	rec.ModifiedAt = db.TimeFromPg(modified)
	return rec, nil
}

func collectRecords(rows pgx.Rows) ([]Record, error) {
	defer rows.Close()
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PGStore) rawRecord(ctx context.Context, q querier, postType string, id int64, forUpdate bool) (Record, error) {
	sql := `SELECT ` + recordColumns + ` FROM posts WHERE post_type = $1 AND id = $2`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	rec, err := scanRecord(q.QueryRow(ctx, sql, postType, id))
	if err != nil {
		if db.IsNoRows(err) {
			return Record{}, fmt.Errorf("%s %d: %w", postType, id, ErrNotFound)
		}
		return Record{}, fmt.Errorf("get %s %d: %w", postType, id, err)
	}
	return rec, nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *PGStore) RawRecords(ctx context.Context, postType string, ids []int64) ([]Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT `+recordColumns+` FROM posts WHERE post_type = $1 AND id = ANY($2) ORDER BY id`, postType, ids)
	if err != nil {
		return nil, fmt.Errorf("raw records: %w", err)
	}
	return collectRecords(rows)
}

func (s *PGStore) GetRecord(ctx context.Context, postType string, id int64) (Record, error) {
	rec, err := s.rawRecord(ctx, s.pool, postType, id, false)
	if err != nil {
		return Record{}, err
	}
	out, err := Hydrate(ctx, s, postType, []Record{rec})
	if err != nil {
		return Record{}, err
	}
	return out[0], nil
}

func orderBy(sort string) string {
	switch sort {
	case SortOldest:
		return `created_at ASC, id ASC`
	case SortRecentlyModified:
		return `modified_at DESC, id DESC`
	case SortName:
		return `lower(title) ASC, id ASC`
	default:
		return `created_at DESC, id DESC`
	}
}

func (s *PGStore) ListRecords(ctx context.Context, q ListQuery) ([]Record, error) {
	var (
		where = []string{`post_type = $1`}
		args  = []any{q.PostType}
	)
	for _, f := range q.Filters {
		if len(f.Values) == 0 {
			continue
		}
		args = append(args, f.Field, f.Values)
		k, v := len(args)-1, len(args)
		where = append(where, fmt.Sprintf(`EXISTS (
			SELECT 1 FROM jsonb_array_elements_text(
				CASE WHEN jsonb_typeof(fields->($%[1]d::text)) = 'array' THEN fields->($%[1]d::text)
				ELSE jsonb_build_array(fields->($%[1]d::text)) END
			) e WHERE e = ANY($%[2]d::text[]))`, k, v))
	}
	sql := `SELECT ` + recordColumns + ` FROM posts WHERE ` + strings.Join(where, ` AND `) + ` ORDER BY ` + orderBy(q.Sort)
	if q.Limit > 0 {
		args = append(args, q.Limit)
		sql += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", q.PostType, err)
	}
	recs, err := collectRecords(rows)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", q.PostType, err)
	}
	return Hydrate(ctx, s, q.PostType, recs)
}

func (s *PGStore) SearchRecords(ctx context.Context, postType, query string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `SELECT `+recordColumns+` FROM posts
		WHERE post_type = $1 AND ($2 = '' OR title ILIKE $3)
		ORDER BY modified_at DESC, id DESC LIMIT $4`,
		postType, strings.TrimSpace(query), likePattern(strings.TrimSpace(query)), limit)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", postType, err)
	}
	return collectRecords(rows)
}

func (s *PGStore) CreateRecord(ctx context.Context, postType string, values map[string]any, userID int64) (Record, error) {
	settings, err := s.FieldSettings(ctx, postType)
	if err != nil {
		return Record{}, err
	}
	next, changes, err := ApplyUpdate(nil, settings, values)
	if err != nil {
		return Record{}, err
	}
	payload, err := json.Marshal(next)
	if err != nil {
		return Record{}, fmt.Errorf("encode fields: %w", err)
	}
	title, _ := stringOf(next[FieldName])
	now := s.now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id int64
	if err := tx.QueryRow(ctx, `INSERT INTO posts (post_type, title, fields, created_at, modified_at)
		VALUES ($1, $2, $3, $4, $4) RETURNING id`, postType, title, payload, now).Scan(&id); err != nil {
		return Record{}, fmt.Errorf("insert %s: %w", postType, err)
	}
	rows := append([]Change{{Action: ActionCreated}}, changes...)
	if err := insertActivity(ctx, tx, postType, id, userID, now, rows); err != nil {
		return Record{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("commit: %w", err)
	}
	s.logger.Info("record created", slog.String("post_type", postType), slog.Int64("id", id))
	return s.GetRecord(ctx, postType, id)
}

func (s *PGStore) UpdateRecord(ctx context.Context, postType string, id int64, values map[string]any, userID int64) (Record, error) {
	settings, err := s.FieldSettings(ctx, postType)
	if err != nil {
		return Record{}, err
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	current, err := s.rawRecord(ctx, tx, postType, id, true)
	if err != nil {
		return Record{}, err
	}
	next, changes, err := ApplyUpdate(current.Fields, settings, values)
	if err != nil {
		return Record{}, err
	}
	if len(changes) > 0 {
		payload, err := json.Marshal(next)
		if err != nil {
			return Record{}, fmt.Errorf("encode fields: %w", err)
		}
		title, _ := stringOf(next[FieldName])
		now := s.now().UTC()
		if _, err := tx.Exec(ctx, `UPDATE posts SET fields = $1, title = $2, modified_at = $3 WHERE id = $4`,
			payload, title, now, id); err != nil {
			return Record{}, fmt.Errorf("update %s %d: %w", postType, id, err)
		}
		if err := insertActivity(ctx, tx, postType, id, userID, now, changes); err != nil {
			return Record{}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("commit: %w", err)
	}
	return s.GetRecord(ctx, postType, id)
}

func insertActivity(ctx context.Context, tx pgx.Tx, postType string, id, userID int64, at time.Time, changes []Change) error {
	if len(changes) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, c := range changes {
		batch.Queue(`INSERT INTO activity_log (object_id, object_type, action, meta_key, meta_value, old_value, user_id, hist_time)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, id, postType, c.Action, c.Key, c.Value, c.Old, userID, at.Unix())
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("log activity: %w", err)
	}
	return nil
}

func (s *PGStore) FieldSettings(ctx context.Context, postType string) ([]fields.Setting, error) {
	rows, err := s.pool.Query(ctx, `SELECT field_key, settings FROM field_settings WHERE post_type = $1 ORDER BY position, field_key`, postType)
	if err != nil {
		return nil, fmt.Errorf("field settings: %w", err)
	}
	defer rows.Close()
	var out []fields.Setting
	for rows.Next() {
		var (
			key string
			raw []byte
		)
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, err
		}
		var setting fields.Setting
		if err := json.Unmarshal(raw, &setting); err != nil {
			return nil, fmt.Errorf("decode field %s: %w", key, err)
		}
		setting.Key = key
		out = append(out, setting)
	}
	return out, rows.Err()
}

func (s *PGStore) Tiles(ctx context.Context, postType string) ([]fields.TileSetting, error) {
	rows, err := s.pool.Query(ctx, `SELECT tile_key, label, tile_priority FROM tiles WHERE post_type = $1 ORDER BY tile_key`, postType)
	if err != nil {
		return nil, fmt.Errorf("tiles: %w", err)
	}
	defer rows.Close()
	var out []fields.TileSetting
	for rows.Next() {
		var (
			t        fields.TileSetting
			priority pgtype.Int4
		)
		if err := rows.Scan(&t.Key, &t.Label, &priority); err != nil {
			return nil, err
		}
		if priority.Valid {
			p := int(priority.Int32)
			t.Priority = &p
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PGStore) MultiSelectOptions(ctx context.Context, postType, field string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT e FROM posts, jsonb_array_elements_text(
			CASE WHEN jsonb_typeof(fields->($2::text)) = 'array' THEN fields->($2::text) ELSE '[]'::jsonb END) e
		WHERE post_type = $1 ORDER BY e`, postType, field)
	if err != nil {
		return nil, fmt.Errorf("multi select options: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *PGStore) ListComments(ctx context.Context, postType string, postID int64, limit int) ([]Comment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `SELECT id, post_id, post_type, COALESCE(user_id, 0), author, content, comment_type, created_at
		FROM comments WHERE post_type = $1 AND post_id = $2 ORDER BY created_at DESC, id DESC LIMIT $3`, postType, postID, limit)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()
	var out []Comment
	for rows.Next() {
		var c Comment
		if err := rows.Scan(&c.ID, &c.PostID, &c.PostType, &c.UserID, &c.Author, &c.Content, &c.Type, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PGStore) AddComment(ctx context.Context, c NewComment) (Comment, error) {
	if c.Type == "" {
		c.Type = ActionComment
	}
	now := s.now().UTC()
	var userID pgtype.Int8
	if c.UserID > 0 {
		userID = pgtype.Int8{Int64: c.UserID, Valid: true}
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Comment{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := s.rawRecord(ctx, tx, c.PostType, c.PostID, false); err != nil {
		return Comment{}, err
	}
	out := Comment{PostID: c.PostID, PostType: c.PostType, UserID: c.UserID, Author: c.Author, Content: c.Content, Type: c.Type, CreatedAt: now}
	if err := tx.QueryRow(ctx, `INSERT INTO comments (post_id, post_type, user_id, author, content, comment_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		c.PostID, c.PostType, userID, c.Author, c.Content, c.Type, now).Scan(&out.ID); err != nil {
		return Comment{}, fmt.Errorf("insert comment: %w", err)
	}
	if err := insertActivity(ctx, tx, c.PostType, c.PostID, c.UserID, now, []Change{{Action: ActionComment}}); err != nil {
		return Comment{}, err
	}
	if _, err := tx.Exec(ctx, `UPDATE posts SET modified_at = $1 WHERE id = $2`, now, c.PostID); err != nil {
		return Comment{}, fmt.Errorf("touch record: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Comment{}, fmt.Errorf("commit: %w", err)
	}
	return out, nil
}

func (s *PGStore) ListActivity(ctx context.Context, postType string, postID int64, limit int) ([]Activity, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `SELECT histid, object_id, object_type, action, object_note, meta_key, meta_value, old_value, user_id, hist_time
		FROM activity_log WHERE object_type = $1 AND object_id = $2
		AND action NOT IN ('connected to', 'disconnected from')
		ORDER BY hist_time DESC, histid DESC LIMIT $3`, postType, postID, limit)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()
	var out []Activity
	for rows.Next() {
		var a Activity
		if err := rows.Scan(&a.ID, &a.ObjectID, &a.ObjectType, &a.Action, &a.ObjectNote, &a.MetaKey, &a.MetaValue, &a.OldValue, &a.UserID, &a.Time); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

const userColumns = `u.id, u.username, u.display_name, u.email, u.password_hash, u.roles, u.user_status, u.workload_status,
	u.languages, u.location_grid_ids, COALESCE(u.contact_id, 0), u.is_active, u.created_at, u.last_login_at`

func scanUser(row pgx.Row, extra ...any) (User, error) {
	var (
		u         User
		lastLogin pgtype.Timestamptz
	)
	dest := []any{&u.ID, &u.Username, &u.DisplayName, &u.Email, &u.PasswordHash, &u.Roles, &u.UserStatus, &u.WorkloadStatus,
		&u.Languages, &u.LocationGridIDs, &u.ContactID, &u.IsActive, &u.CreatedAt, &lastLogin}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return User{}, err
	}
	u.LastLoginAt = db.TimeFromPg(lastLogin)
	return u, nil
}

func (s *PGStore) GetUser(ctx context.Context, id int64) (User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users u WHERE u.id = $1`, id))
	if err != nil {
		if db.IsNoRows(err) {
			return User{}, fmt.Errorf("user %d: %w", id, ErrUserNotFound)
		}
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *PGStore) GetUserByUsername(ctx context.Context, username string) (User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users u WHERE u.username = $1`, strings.TrimSpace(username)))
	if err != nil {
		if db.IsNoRows(err) {
			return User{}, fmt.Errorf("user %q: %w", username, ErrUserNotFound)
		}
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *PGStore) CreateUser(ctx context.Context, nu NewUser) (User, error) {
	var contactID pgtype.Int8
	if nu.ContactID > 0 {
		contactID = pgtype.Int8{Int64: nu.ContactID, Valid: true}
	}
	if nu.Roles == nil {
		nu.Roles = []string{}
	}
	if nu.Languages == nil {
		nu.Languages = []string{}
	}
	if nu.LocationGridIDs == nil {
		nu.LocationGridIDs = []int64{}
	}
	u, err := scanUser(s.pool.QueryRow(ctx, `INSERT INTO users AS u (username, display_name, email, password_hash, roles, languages, location_grid_ids, contact_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING `+userColumns,
		strings.TrimSpace(nu.Username), nu.DisplayName, nu.Email, nu.PasswordHash, nu.Roles, nu.Languages, nu.LocationGridIDs, contactID))
	if err != nil {
		if db.IsUniqueViolation(err) {
			return User{}, fmt.Errorf("%s: %w", nu.Username, ErrUserExists)
		}
		return User{}, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

func (s *PGStore) TouchLogin(ctx context.Context, id int64, at time.Time) error {
	if _, err := s.pool.Exec(ctx, `UPDATE users SET last_login_at = $1 WHERE id = $2`, at, id); err != nil {
		return fmt.Errorf("touch login: %w", err)
	}
	return nil
}

func (s *PGStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+userColumns+`,
			COUNT(p.id) FILTER (WHERE p.fields->>'overall_status' = 'active'),
			COUNT(p.id),
			COUNT(p.id) FILTER (WHERE p.fields->>'overall_status' = 'assigned')
		FROM users u
		LEFT JOIN posts p ON p.post_type = 'contacts'
			AND p.fields->>'assigned_to' = u.id::text
			AND COALESCE(p.fields->>'overall_status', '') NOT IN ('closed', 'unassigned')
		WHERE u.is_active
		GROUP BY u.id
		ORDER BY u.display_name, u.id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()
	var out []User
	for rows.Next() {
		var active, assigned, pending int64
		u, err := scanUser(rows, &active, &assigned, &pending)
		if err != nil {
			return nil, err
		}
		u.ActiveContacts, u.AssignedContacts, u.PendingContacts = int(active), int(assigned), int(pending)
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *PGStore) SearchUsers(ctx context.Context, query string, limit int) ([]UserRef, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx, `SELECT id, display_name FROM users
		WHERE is_active AND display_name ILIKE $1 ORDER BY display_name, id LIMIT $2`, likePattern(query), limit)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	defer rows.Close()
	out := []UserRef{}
	for rows.Next() {
		var u UserRef
		if err := rows.Scan(&u.ID, &u.DisplayName); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *PGStore) DisplayNames(ctx context.Context, ids []int64) (map[int64]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, display_name FROM users WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("display names: %w", err)
	}
	return collectNames(rows)
}

func (s *PGStore) LocationNames(ctx context.Context, ids []int64) (map[int64]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT grid_id, name FROM location_grid WHERE grid_id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("location names: %w", err)
	}
	return collectNames(rows)
}

func collectNames(rows pgx.Rows) (map[int64]string, error) {
	defer rows.Close()
	out := map[int64]string{}
	for rows.Next() {
		var (
			id   int64
			name string
		)
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		out[id] = name
	}
	return out, rows.Err()
}

const locationColumns = `grid_id, name, alt_name, level, COALESCE(parent_id, 0),
	COALESCE(admin0_grid_id, 0), COALESCE(admin1_grid_id, 0), COALESCE(admin2_grid_id, 0),
	COALESCE(admin3_grid_id, 0), COALESCE(admin4_grid_id, 0), COALESCE(admin5_grid_id, 0)`

func collectLocations(rows pgx.Rows) ([]Location, error) {
	defer rows.Close()
	var out []Location
	for rows.Next() {
		var l Location
		if err := rows.Scan(&l.GridID, &l.Name, &l.AltName, &l.Level, &l.ParentID,
			&l.Admin[0], &l.Admin[1], &l.Admin[2], &l.Admin[3], &l.Admin[4], &l.Admin[5]); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *PGStore) GetLocations(ctx context.Context, ids []int64) ([]Location, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+locationColumns+` FROM location_grid WHERE grid_id = ANY($1) ORDER BY grid_id`, ids)
	if err != nil {
		return nil, fmt.Errorf("get locations: %w", err)
	}
	return collectLocations(rows)
}

func (s *PGStore) SearchLocations(ctx context.Context, query string, limit int) ([]Location, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `SELECT `+locationColumns+` FROM location_grid
		WHERE name ILIKE $1 OR alt_name ILIKE $1 ORDER BY level, name, grid_id LIMIT $2`, likePattern(strings.TrimSpace(query)), limit)
	if err != nil {
		return nil, fmt.Errorf("search locations: %w", err)
	}
	return collectLocations(rows)
}

func (s *PGStore) LookupMeta(ctx context.Context, key, value string) (Meta, error) {
	m := Meta{Key: key, Value: value}
	err := s.pool.QueryRow(ctx, `SELECT owner_type, owner_id FROM record_meta WHERE meta_key = $1 AND meta_value = $2`, key, value).
		Scan(&m.OwnerType, &m.OwnerID)
	if err != nil {
		if db.IsNoRows(err) {
			return Meta{}, ErrMetaNotFound
		}
		return Meta{}, fmt.Errorf("lookup meta: %w", err)
	}
	return m, nil
}

func (s *PGStore) GetMeta(ctx context.Context, ownerType string, ownerID int64, key string) (Meta, error) {
	m := Meta{OwnerType: ownerType, OwnerID: ownerID, Key: key}
	err := s.pool.QueryRow(ctx, `SELECT meta_value FROM record_meta WHERE owner_type = $1 AND owner_id = $2 AND meta_key = $3`,
		ownerType, ownerID, key).Scan(&m.Value)
	if err != nil {
		if db.IsNoRows(err) {
			return Meta{}, ErrMetaNotFound
		}
		return Meta{}, fmt.Errorf("get meta: %w", err)
	}
	return m, nil
}

func (s *PGStore) SetMeta(ctx context.Context, m Meta) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO record_meta (owner_type, owner_id, meta_key, meta_value)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (owner_type, owner_id, meta_key) DO UPDATE SET meta_value = EXCLUDED.meta_value, created_at = now()`,
		m.OwnerType, m.OwnerID, m.Key, m.Value)
	if err != nil {
		return fmt.Errorf("set meta %s: %w", m.Key, err)
	}
	return nil
}
