package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const projectColumns = `id, name, repo_url, branch, path_filter, build_recipe,
	runtime_recipe, active_slot, deployment_status, blue_container,
	green_container, blue_port, green_port, created_at, updated_at`

// CreateProject inserts a project and its port allocations in one
// transaction. Blue is the initial active slot and the project starts
// not deployed. The blue port must be the lower of the pair.
func (s *Store) CreateProject(spec ProjectSpec, bluePort, greenPort int) (*Project, error) {
	now := time.Now()
	var id int64

	err := s.write(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction: %w", err)
		}
		defer tx.Rollback()

		res, err := tx.Exec(`
			INSERT INTO projects (name, repo_url, branch, path_filter,
				build_recipe, runtime_recipe, active_slot, deployment_status,
				blue_port, green_port, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			spec.Name, spec.RepoURL, spec.Branch, spec.PathFilter,
			marshalJSON(spec.Build), marshalJSON(spec.Runtime),
			string(SlotBlue), string(DeployNotDeployed),
			bluePort, greenPort, formatTime(now), formatTime(now),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("project %q: %w", spec.Name, ErrConflict)
			}
			return fmt.Errorf("inserting project: %w", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("reading project id: %w", err)
		}

		owner := PortOwnerProject(id)
		for _, port := range []int{bluePort, greenPort} {
			if _, err := tx.Exec(`
				INSERT INTO port_allocations (port, kind, owner) VALUES (?, ?, ?)`,
				port, string(PortApplication), owner,
			); err != nil {
				if isUniqueViolation(err) {
					return fmt.Errorf("port %d: %w", port, ErrConflict)
				}
				return fmt.Errorf("inserting port allocation: %w", err)
			}
		}

		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}

	return s.GetProject(id)
}

// GetProject returns a project by id.
func (s *Store) GetProject(id int64) (*Project, error) {
	row := s.db.QueryRow(`SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
	return scanProject(row)
}

// GetProjectByName returns a project by its unique name. This sits on the
// router's hot path; the name column is uniquely indexed.
func (s *Store) GetProjectByName(projectName string) (*Project, error) {
	row := s.db.QueryRow(`SELECT `+projectColumns+` FROM projects WHERE name = ?`, projectName)
	return scanProject(row)
}

// ListProjects returns all projects ordered by id.
func (s *Store) ListProjects() ([]*Project, error) {
	rows, err := s.db.Query(`SELECT ` + projectColumns + ` FROM projects ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// DeleteProject removes a project, its builds (cascade) and its port
// allocations.
func (s *Store) DeleteProject(id int64) error {
	return s.write(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction: %w", err)
		}
		defer tx.Rollback()

		res, err := tx.Exec(`DELETE FROM projects WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("deleting project: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		if _, err := tx.Exec(`DELETE FROM port_allocations WHERE owner = ?`, PortOwnerProject(id)); err != nil {
			return fmt.Errorf("releasing ports: %w", err)
		}
		return tx.Commit()
	})
}

// UpdateSlotContainer writes one of the two container handles. It never
// touches active_slot.
func (s *Store) UpdateSlotContainer(projectID int64, slot Slot, handle *string) error {
	col := "blue_container"
	if slot == SlotGreen {
		col = "green_container"
	}
	return s.write(func() error {
		res, err := s.db.Exec(
			`UPDATE projects SET `+col+` = ?, updated_at = ? WHERE id = ?`,
			handle, formatTime(time.Now()), projectID,
		)
		if err != nil {
			return fmt.Errorf("updating %s: %w", col, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// SwitchActiveSlot atomically updates active_slot and deployment_status.
// This single row update is the cutover event.
func (s *Store) SwitchActiveSlot(projectID int64, slot Slot, status DeploymentStatus) error {
	return s.write(func() error {
		res, err := s.db.Exec(
			`UPDATE projects SET active_slot = ?, deployment_status = ?, updated_at = ? WHERE id = ?`,
			string(slot), string(status), formatTime(time.Now()), projectID,
		)
		if err != nil {
			return fmt.Errorf("switching active slot: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// SetDeploymentStatus updates only the deployment status.
func (s *Store) SetDeploymentStatus(projectID int64, status DeploymentStatus) error {
	return s.write(func() error {
		res, err := s.db.Exec(
			`UPDATE projects SET deployment_status = ?, updated_at = ? WHERE id = ?`,
			string(status), formatTime(time.Now()), projectID,
		)
		if err != nil {
			return fmt.Errorf("setting deployment status: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*Project, error) {
	var p Project
	var buildJSON, runtimeJSON string
	var activeSlot, deployStatus string
	var createdAt, updatedAt string

	err := row.Scan(&p.ID, &p.Name, &p.RepoURL, &p.Branch, &p.PathFilter,
		&buildJSON, &runtimeJSON, &activeSlot, &deployStatus,
		&p.BlueContainer, &p.GreenContainer, &p.BluePort, &p.GreenPort,
		&createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning project: %w", err)
	}

	if err := json.Unmarshal([]byte(buildJSON), &p.Build); err != nil {
		return nil, fmt.Errorf("decoding build recipe: %w", err)
	}
	if err := json.Unmarshal([]byte(runtimeJSON), &p.Runtime); err != nil {
		return nil, fmt.Errorf("decoding runtime recipe: %w", err)
	}
	p.ActiveSlot = Slot(activeSlot)
	p.DeploymentStatus = DeploymentStatus(deployStatus)
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return &p, nil
}
