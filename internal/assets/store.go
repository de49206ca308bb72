// Package assets records generation jobs and imported assets in SQLite.
package assets

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

var (
	// ErrJobNotFound is returned when no job has the given subscription key.
	ErrJobNotFound = errors.New("job not found")

	// ErrAssetNotFound is returned when no asset has the given name.
	ErrAssetNotFound = errors.New("asset not found")
)

// Job phases as stored.
const (
	PhasePending   = "pending"
	PhaseSucceeded = "succeeded"
	PhaseFailed    = "failed"
)

// Job is a submitted generation job.
type Job struct {
	SubscriptionKey string    `json:"subscription_key"`
	TaskUUID        string    `json:"task_uuid"`
	Prompt          string    `json:"prompt,omitempty"`
	ImageCount      int       `json:"image_count"`
	Phase           string    `json:"phase"`
	Statuses        []string  `json:"statuses"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Terminal reports whether the job reached a final phase.
func (j *Job) Terminal() bool {
	return j.Phase == PhaseSucceeded || j.Phase == PhaseFailed
}

// Asset is an imported generation result.
type Asset struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	TaskUUID  string    `json:"task_uuid"`
	Path      string    `json:"path"`
	Files     []string  `json:"files"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists jobs and assets.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// Open opens or creates the database at path and applies migrations.
// Use ":memory:" for a private in-memory database.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db, logger: logger, now: time.Now}
	version, err := s.migrate(context.Background())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	logger.Debug("asset store ready", zap.String("path", path), zap.Int("schema_version", version))
	return s, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordJob stores a newly submitted job. Re-recording a key keeps the
// existing phase.
func (s *Store) RecordJob(ctx context.Context, job Job) error {
	if job.SubscriptionKey == "" {
		return errors.New("job subscription key is required")
	}
	now := s.now().UTC()
	statuses, err := encodeList(job.Statuses)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (subscription_key, task_uuid, prompt, image_count, phase, statuses, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(subscription_key) DO UPDATE SET
			task_uuid = excluded.task_uuid,
			prompt = excluded.prompt,
			image_count = excluded.image_count,
			updated_at = excluded.updated_at`,
		job.SubscriptionKey, job.TaskUUID, job.Prompt, job.ImageCount, PhasePending, statuses,
		formatTime(now), formatTime(now))
	if err != nil {
		return fmt.Errorf("record job: %w", err)
	}
	return nil
}

// UpdateJobStatus records the latest statuses for a key. A job that has
// already reached a terminal phase is left unchanged, so a terminal
// classification never reverts. Unknown keys are inserted.
func (s *Store) UpdateJobStatus(ctx context.Context, key, phase string, statuses []string) (*Job, error) {
	switch phase {
	case PhasePending, PhaseSucceeded, PhaseFailed:
	default:
		return nil, fmt.Errorf("unknown job phase %q", phase)
	}
	encoded, err := encodeList(statuses)
	if err != nil {
		return nil, err
	}
	now := formatTime(s.now().UTC())
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (subscription_key, task_uuid, prompt, image_count, phase, statuses, created_at, updated_at)
		VALUES (?, '', '', 0, ?, ?, ?, ?)
		ON CONFLICT(subscription_key) DO UPDATE SET
			phase = excluded.phase,
			statuses = excluded.statuses,
			updated_at = excluded.updated_at
		WHERE jobs.phase = 'pending'`,
		key, phase, encoded, now, now)
	if err != nil {
		return nil, fmt.Errorf("update job status: %w", err)
	}
	return s.Job(ctx, key)
}

// Job returns the job for a subscription key.
func (s *Store) Job(ctx context.Context, key string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT subscription_key, task_uuid, prompt, image_count, phase, statuses, created_at, updated_at
		FROM jobs WHERE subscription_key = ?`, key)

	var (
		j                Job
		statuses         string
		created, updated string
	)
	if err := row.Scan(&j.SubscriptionKey, &j.TaskUUID, &j.Prompt, &j.ImageCount, &j.Phase, &statuses, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	var err error
	if j.Statuses, err = decodeList(statuses); err != nil {
		return nil, err
	}
	j.CreatedAt = parseTime(created)
	j.UpdatedAt = parseTime(updated)
	return &j, nil
}

// SaveAsset records an imported asset. An asset with the same name is
// replaced. The stored asset is returned with its id and timestamp.
func (s *Store) SaveAsset(ctx context.Context, a Asset) (*Asset, error) {
	a.Name = strings.TrimSpace(a.Name)
	if a.Name == "" {
		return nil, errors.New("asset name is required")
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now().UTC()
	}
	files, err := encodeList(a.Files)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO assets (id, name, task_uuid, path, files, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			id = excluded.id,
			task_uuid = excluded.task_uuid,
			path = excluded.path,
			files = excluded.files,
			created_at = excluded.created_at`,
		a.ID, a.Name, a.TaskUUID, a.Path, files, formatTime(a.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("save asset: %w", err)
	}
	return &a, nil
}

// Asset returns the asset with the given name.
func (s *Store) Asset(ctx context.Context, name string) (*Asset, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, task_uuid, path, files, created_at FROM assets WHERE name = ?`, name)
	if err != nil {
		return nil, fmt.Errorf("get asset: %w", err)
	}
	list, err := scanAssets(rows)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrAssetNotFound
	}
	return &list[0], nil
}

// Assets lists all assets ordered by name.
func (s *Store) Assets(ctx context.Context) ([]Asset, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, task_uuid, path, files, created_at FROM assets ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	return scanAssets(rows)
}

func scanAssets(rows *sql.Rows) ([]Asset, error) {
	defer rows.Close()
	out := []Asset{}
	for rows.Next() {
		var (
			a       Asset
			files   string
			created string
		)
		if err := rows.Scan(&a.ID, &a.Name, &a.TaskUUID, &a.Path, &files, &created); err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		var err error
		if a.Files, err = decodeList(files); err != nil {
			return nil, err
		}
		a.CreatedAt = parseTime(created)
		out = append(out, a)
	}
	return out, rows.Err()
}

func encodeList(v []string) (string, error) {
	if v == nil {
		v = []string{}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeList(s string) ([]string, error) {
	out := []string{}
	if s == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, fmt.Errorf("decode stored list: %w", err)
	}
	return out, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
