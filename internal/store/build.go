package store

import (
	"database/sql"
	"fmt"
	"time"
)

const buildColumns = `id, project_id, build_number, commit_hash, commit_message,
	author, status, log_path, deploy_log_path, artifact_dir, deployed_slot,
	created_at, started_at, finished_at, duration_ms`

// LogPathFunc computes a build's log file paths from its assigned id.
type LogPathFunc func(buildID int64) (logPath, deployLogPath string)

// CreateBuild inserts a queued build, assigning the next build number for
// the project inside one transaction so numbers stay gapless under
// concurrent triggers. Log paths depend on the assigned build id and are
// computed by pathFor inside the same transaction.
func (s *Store) CreateBuild(projectID int64, commit CommitInfo, pathFor LogPathFunc) (*Build, error) {
	now := time.Now()
	var id int64

	err := s.write(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction: %w", err)
		}
		defer tx.Rollback()

		var exists int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM projects WHERE id = ?`, projectID).Scan(&exists); err != nil {
			return fmt.Errorf("checking project: %w", err)
		}
		if exists == 0 {
			return ErrNotFound
		}

		var number int64
		if err := tx.QueryRow(
			`SELECT COALESCE(MAX(build_number), 0) + 1 FROM builds WHERE project_id = ?`,
			projectID,
		).Scan(&number); err != nil {
			return fmt.Errorf("computing build number: %w", err)
		}

		res, err := tx.Exec(`
			INSERT INTO builds (project_id, build_number, commit_hash,
				commit_message, author, status, log_path, deploy_log_path, created_at)
			VALUES (?, ?, ?, ?, ?, ?, '', '', ?)`,
			projectID, number, commit.Hash, commit.Message, commit.Author,
			string(BuildQueued), formatTime(now),
		)
		if err != nil {
			return fmt.Errorf("inserting build: %w", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("reading build id: %w", err)
		}

		logPath, deployLogPath := pathFor(id)
		if _, err := tx.Exec(
			`UPDATE builds SET log_path = ?, deploy_log_path = ? WHERE id = ?`,
			logPath, deployLogPath, id,
		); err != nil {
			return fmt.Errorf("recording log paths: %w", err)
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}

	return s.GetBuild(id)
}

// GetBuild returns a build by id.
func (s *Store) GetBuild(id int64) (*Build, error) {
	row := s.db.QueryRow(`SELECT `+buildColumns+` FROM builds WHERE id = ?`, id)
	return scanBuild(row)
}

// ListBuilds returns a project's builds, newest first.
func (s *Store) ListBuilds(projectID int64) ([]*Build, error) {
	rows, err := s.db.Query(
		`SELECT `+buildColumns+` FROM builds WHERE project_id = ? ORDER BY build_number DESC`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing builds: %w", err)
	}
	defer rows.Close()
	return collectBuilds(rows)
}

// ListBuildsByStatus returns all builds in the given state, oldest first.
// The supervisor uses this to find builds stranded in Building after a
// crash.
func (s *Store) ListBuildsByStatus(status BuildStatus) ([]*Build, error) {
	rows, err := s.db.Query(
		`SELECT `+buildColumns+` FROM builds WHERE status = ? ORDER BY id`,
		string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("listing builds by status: %w", err)
	}
	defer rows.Close()
	return collectBuilds(rows)
}

// UpdateBuildStatus transitions a build's status. Moving to Building also
// records started_at.
func (s *Store) UpdateBuildStatus(id int64, status BuildStatus) error {
	return s.write(func() error {
		var res sql.Result
		var err error
		if status == BuildBuilding {
			res, err = s.db.Exec(
				`UPDATE builds SET status = ?, started_at = ? WHERE id = ?`,
				string(status), formatTime(time.Now()), id,
			)
		} else {
			res, err = s.db.Exec(`UPDATE builds SET status = ? WHERE id = ?`, string(status), id)
		}
		if err != nil {
			return fmt.Errorf("updating build status: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// FinishBuild sets a terminal status along with finished_at and duration.
func (s *Store) FinishBuild(id int64, status BuildStatus) error {
	if !status.Terminal() {
		return fmt.Errorf("finish requires a terminal status, got %q", status)
	}
	now := time.Now()
	return s.write(func() error {
		res, err := s.db.Exec(`
			UPDATE builds SET status = ?, finished_at = ?,
				duration_ms = CAST((julianday(?) - julianday(COALESCE(started_at, created_at))) * 86400000 AS INTEGER)
			WHERE id = ?`,
			string(status), formatTime(now), formatTime(now), id,
		)
		if err != nil {
			return fmt.Errorf("finishing build: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// SetBuildArtifact records the artifact directory produced by a build.
func (s *Store) SetBuildArtifact(id int64, dir string) error {
	return s.write(func() error {
		res, err := s.db.Exec(`UPDATE builds SET artifact_dir = ? WHERE id = ?`, dir, id)
		if err != nil {
			return fmt.Errorf("setting artifact dir: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// SetDeployedSlot records the slot a deployment cut over to. Once set it
// is never reassigned.
func (s *Store) SetDeployedSlot(id int64, slot Slot) error {
	return s.write(func() error {
		res, err := s.db.Exec(
			`UPDATE builds SET deployed_slot = ? WHERE id = ? AND deployed_slot IS NULL`,
			string(slot), id,
		)
		if err != nil {
			return fmt.Errorf("setting deployed slot: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// LastDeployedBuild returns the most recent successful build of a project
// that reached cutover, or ErrNotFound.
func (s *Store) LastDeployedBuild(projectID int64) (*Build, error) {
	row := s.db.QueryRow(
		`SELECT `+buildColumns+` FROM builds
		 WHERE project_id = ? AND status = ? AND deployed_slot IS NOT NULL
		 ORDER BY build_number DESC LIMIT 1`,
		projectID, string(BuildSuccess),
	)
	return scanBuild(row)
}

func collectBuilds(rows *sql.Rows) ([]*Build, error) {
	var builds []*Build
	for rows.Next() {
		b, err := scanBuild(rows)
		if err != nil {
			return nil, err
		}
		builds = append(builds, b)
	}
	return builds, rows.Err()
}

func scanBuild(row rowScanner) (*Build, error) {
	var b Build
	var status string
	var deployedSlot sql.NullString
	var createdAt string
	var startedAt, finishedAt sql.NullString
	var durationMS sql.NullInt64

	err := row.Scan(&b.ID, &b.ProjectID, &b.BuildNumber, &b.Commit.Hash,
		&b.Commit.Message, &b.Commit.Author, &status, &b.LogPath,
		&b.DeployLogPath, &b.ArtifactDir, &deployedSlot,
		&createdAt, &startedAt, &finishedAt, &durationMS)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning build: %w", err)
	}

	b.Status = BuildStatus(status)
	if deployedSlot.Valid {
		slot := Slot(deployedSlot.String)
		b.DeployedSlot = &slot
	}
	b.CreatedAt = parseTime(createdAt)
	if startedAt.Valid {
		t := parseTime(startedAt.String)
		b.StartedAt = &t
	}
	if finishedAt.Valid {
		t := parseTime(finishedAt.String)
		b.FinishedAt = &t
	}
	if durationMS.Valid {
		b.Duration = time.Duration(durationMS.Int64) * time.Millisecond
	}
	return &b, nil
}
