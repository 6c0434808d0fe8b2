package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const namedColumns = `id, name, image, command, container_port, host_port,
	http, data_path, env, handle, created_at`

// CreateNamedContainer inserts a named container record and its singleton
// port allocation (when a host port is assigned) in one transaction.
func (s *Store) CreateNamedContainer(spec NamedContainerSpec, hostPort int) (*NamedContainer, error) {
	now := time.Now()
	var id int64

	err := s.write(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction: %w", err)
		}
		defer tx.Rollback()

		res, err := tx.Exec(`
			INSERT INTO named_containers (name, image, command, container_port,
				host_port, http, data_path, env, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			spec.Name, spec.Image, spec.Command, spec.ContainerPort,
			hostPort, boolToInt(spec.HTTP), spec.DataPath,
			marshalJSON(spec.Env), formatTime(now),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("container %q: %w", spec.Name, ErrConflict)
			}
			return fmt.Errorf("inserting named container: %w", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("reading container id: %w", err)
		}

		if hostPort > 0 {
			if _, err := tx.Exec(
				`INSERT INTO port_allocations (port, kind, owner) VALUES (?, ?, ?)`,
				hostPort, string(PortNamed), PortOwnerContainer(spec.Name),
			); err != nil {
				if isUniqueViolation(err) {
					return fmt.Errorf("port %d: %w", hostPort, ErrConflict)
				}
				return fmt.Errorf("inserting port allocation: %w", err)
			}
		}

		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}

	return s.GetNamedContainerByID(id)
}

// GetNamedContainer returns a named container by its logical name.
func (s *Store) GetNamedContainer(containerName string) (*NamedContainer, error) {
	row := s.db.QueryRow(`SELECT `+namedColumns+` FROM named_containers WHERE name = ?`, containerName)
	return scanNamed(row)
}

// GetNamedContainerByID returns a named container by id.
func (s *Store) GetNamedContainerByID(id int64) (*NamedContainer, error) {
	row := s.db.QueryRow(`SELECT `+namedColumns+` FROM named_containers WHERE id = ?`, id)
	return scanNamed(row)
}

// ListNamedContainers returns every named container ordered by name.
func (s *Store) ListNamedContainers() ([]*NamedContainer, error) {
	rows, err := s.db.Query(`SELECT ` + namedColumns + ` FROM named_containers ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing named containers: %w", err)
	}
	defer rows.Close()

	var containers []*NamedContainer
	for rows.Next() {
		c, err := scanNamed(rows)
		if err != nil {
			return nil, err
		}
		containers = append(containers, c)
	}
	return containers, rows.Err()
}

// UpdateNamedContainerHandle records (or clears) the runtime handle.
func (s *Store) UpdateNamedContainerHandle(containerName string, handle *string) error {
	return s.write(func() error {
		res, err := s.db.Exec(
			`UPDATE named_containers SET handle = ? WHERE name = ?`,
			handle, containerName,
		)
		if err != nil {
			return fmt.Errorf("updating container handle: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// DeleteNamedContainer removes the record and releases its port.
func (s *Store) DeleteNamedContainer(containerName string) error {
	return s.write(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction: %w", err)
		}
		defer tx.Rollback()

		res, err := tx.Exec(`DELETE FROM named_containers WHERE name = ?`, containerName)
		if err != nil {
			return fmt.Errorf("deleting named container: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		if _, err := tx.Exec(
			`DELETE FROM port_allocations WHERE owner = ?`,
			PortOwnerContainer(containerName),
		); err != nil {
			return fmt.Errorf("releasing port: %w", err)
		}
		return tx.Commit()
	})
}

func scanNamed(row rowScanner) (*NamedContainer, error) {
	var c NamedContainer
	var http int
	var envJSON string
	var createdAt string

	err := row.Scan(&c.ID, &c.Name, &c.Image, &c.Command, &c.ContainerPort,
		&c.HostPort, &http, &c.DataPath, &envJSON, &c.Handle, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning named container: %w", err)
	}

	c.HTTP = http != 0
	if err := json.Unmarshal([]byte(envJSON), &c.Env); err != nil {
		return nil, fmt.Errorf("decoding env: %w", err)
	}
	c.CreatedAt = parseTime(createdAt)
	return &c, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
