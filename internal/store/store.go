// File: internal/store/store.go
// SQLite-backed persistence for authoring-time artifacts: scripts, templates,
// and state machine definitions. The store is exercised at session start and
// stop only, never on the hot loop.
package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/riftlab/automaton/api/schemas"
	"github.com/riftlab/automaton/internal/recognition"
)

// ErrNotFound is returned when the requested artifact does not exist.
var ErrNotFound = errors.New("not found in store")

const schema = `
CREATE TABLE IF NOT EXISTS scripts (
	name       TEXT PRIMARY KEY,
	id         TEXT NOT NULL,
	body       BLOB NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS templates (
	name      TEXT PRIMARY KEY,
	id        TEXT NOT NULL,
	png       BLOB NOT NULL,
	region_x  INTEGER NOT NULL,
	region_y  INTEGER NOT NULL,
	region_w  INTEGER NOT NULL,
	region_h  INTEGER NOT NULL,
	threshold REAL NOT NULL,
	algorithm TEXT NOT NULL,
	version   INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS machines (
	id   TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	body BLOB NOT NULL
);`

// SQLStore implements schemas.ScriptStore on a local sqlite database.
type SQLStore struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ schemas.ScriptStore = (*SQLStore)(nil)

// Open opens (creating if needed) the sqlite database at path.
func Open(path string, logger *zap.Logger) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store %q: %w", path, err)
	}
	// The sqlite driver serializes writes; one connection avoids lock churn.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	return &SQLStore{
		db:     db,
		logger: logger.With(zap.String("component", "store")),
	}, nil
}

// Close releases the database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// -- Scripts --

// SaveScript upserts a script by name.
func (s *SQLStore) SaveScript(ctx context.Context, script *schemas.Script) error {
	if script == nil || script.Name == "" {
		return fmt.Errorf("script with a non-empty name is required")
	}
	if script.ID == "" {
		script.ID = script.Name
	}
	script.UpdatedAt = time.Now().UTC()
	body, err := json.Marshal(script)
	if err != nil {
		return fmt.Errorf("encode script %q: %w", script.Name, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scripts (name, id, body, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET id=excluded.id, body=excluded.body, updated_at=excluded.updated_at`,
		script.Name, script.ID, body, script.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save script %q: %w", script.Name, err)
	}
	return nil
}

// GetScript loads a script by name.
func (s *SQLStore) GetScript(ctx context.Context, name string) (*schemas.Script, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx, `SELECT body FROM scripts WHERE name = ?`, name).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("script %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load script %q: %w", name, err)
	}
	var script schemas.Script
	if err := json.Unmarshal(body, &script); err != nil {
		return nil, fmt.Errorf("decode script %q: %w", name, err)
	}
	return &script, nil
}

// ListScripts returns all stored scripts ordered by name.
func (s *SQLStore) ListScripts(ctx context.Context) ([]*schemas.Script, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT body FROM scripts ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list scripts: %w", err)
	}
	defer rows.Close()
	var scripts []*schemas.Script
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var script schemas.Script
		if err := json.Unmarshal(body, &script); err != nil {
			return nil, fmt.Errorf("decode stored script: %w", err)
		}
		scripts = append(scripts, &script)
	}
	return scripts, rows.Err()
}

// DeleteScript removes a script by name.
func (s *SQLStore) DeleteScript(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM scripts WHERE name = ?`, name)
	return err
}

// -- Templates --

// SaveTemplate upserts a template by name, bumping its version on every
// edit. The grayscale image is stored PNG-encoded.
func (s *SQLStore) SaveTemplate(ctx context.Context, t *schemas.Template) error {
	if t == nil || t.Name == "" {
		return fmt.Errorf("template with a non-empty name is required")
	}
	if t.Img == nil {
		return fmt.Errorf("template %q has no image data", t.Name)
	}
	if t.ID == "" {
		t.ID = t.Name
	}
	if t.Algorithm == "" {
		t.Algorithm = schemas.AlgorithmNCC
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, t.Img); err != nil {
		return fmt.Errorf("encode template image %q: %w", t.Name, err)
	}

	var version int
	err := s.db.QueryRowContext(ctx, `SELECT version FROM templates WHERE name = ?`, t.Name).Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		version = 1
	case err != nil:
		return fmt.Errorf("check template version %q: %w", t.Name, err)
	default:
		version++
	}
	t.Version = version

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO templates (name, id, png, region_x, region_y, region_w, region_h, threshold, algorithm, version)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
			id=excluded.id, png=excluded.png,
			region_x=excluded.region_x, region_y=excluded.region_y,
			region_w=excluded.region_w, region_h=excluded.region_h,
			threshold=excluded.threshold, algorithm=excluded.algorithm,
			version=excluded.version`,
		t.Name, t.ID, buf.Bytes(),
		t.Region.X, t.Region.Y, t.Region.Width, t.Region.Height,
		t.Threshold, string(t.Algorithm), version)
	if err != nil {
		return fmt.Errorf("save template %q: %w", t.Name, err)
	}
	return nil
}

// GetTemplate loads a template by name, decoding its image back to
// grayscale.
func (s *SQLStore) GetTemplate(ctx context.Context, name string) (*schemas.Template, error) {
	var (
		t         schemas.Template
		imgBytes  []byte
		algorithm string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, png, region_x, region_y, region_w, region_h, threshold, algorithm, version
		 FROM templates WHERE name = ?`, name).
		Scan(&t.ID, &imgBytes, &t.Region.X, &t.Region.Y, &t.Region.Width, &t.Region.Height,
			&t.Threshold, &algorithm, &t.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("template %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load template %q: %w", name, err)
	}
	img, err := png.Decode(bytes.NewReader(imgBytes))
	if err != nil {
		return nil, fmt.Errorf("decode template image %q: %w", name, err)
	}
	t.Name = name
	t.Img = recognition.ToGray(img)
	t.Algorithm = schemas.MatchAlgorithm(algorithm)
	return &t, nil
}

// DeleteTemplate removes a template by name.
func (s *SQLStore) DeleteTemplate(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM templates WHERE name = ?`, name)
	return err
}

// -- State machines --

// SaveMachine upserts a machine definition by id.
func (s *SQLStore) SaveMachine(ctx context.Context, m *schemas.MachineSpec) error {
	if m == nil || m.Name == "" {
		return fmt.Errorf("machine spec with a non-empty name is required")
	}
	if m.ID == "" {
		m.ID = m.Name
	}
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode machine %q: %w", m.Name, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO machines (id, name, body) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, body=excluded.body`,
		m.ID, m.Name, body)
	if err != nil {
		return fmt.Errorf("save machine %q: %w", m.Name, err)
	}
	return nil
}

// GetMachine loads a machine definition by id.
func (s *SQLStore) GetMachine(ctx context.Context, id string) (*schemas.MachineSpec, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx, `SELECT body FROM machines WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("machine %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load machine %q: %w", id, err)
	}
	var spec schemas.MachineSpec
	if err := json.Unmarshal(body, &spec); err != nil {
		return nil, fmt.Errorf("decode machine %q: %w", id, err)
	}
	return &spec, nil
}

// DeleteMachine removes a machine definition by id.
func (s *SQLStore) DeleteMachine(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM machines WHERE id = ?`, id)
	return err
}
