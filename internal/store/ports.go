package store

import (
	"fmt"
)

// ListPortAllocations returns every allocation row ordered by port.
func (s *Store) ListPortAllocations() ([]PortAllocation, error) {
	rows, err := s.db.Query(`SELECT port, kind, owner FROM port_allocations ORDER BY port`)
	if err != nil {
		return nil, fmt.Errorf("listing port allocations: %w", err)
	}
	defer rows.Close()

	var allocs []PortAllocation
	for rows.Next() {
		var a PortAllocation
		var kind string
		if err := rows.Scan(&a.Port, &kind, &a.Owner); err != nil {
			return nil, fmt.Errorf("scanning port allocation: %w", err)
		}
		a.Kind = PortKind(kind)
		allocs = append(allocs, a)
	}
	return allocs, rows.Err()
}

// AllocatePort inserts a singleton allocation row. Ownership is exclusive:
// an existing row for the port yields ErrConflict.
func (s *Store) AllocatePort(port int, kind PortKind, owner string) error {
	return s.write(func() error {
		_, err := s.db.Exec(
			`INSERT INTO port_allocations (port, kind, owner) VALUES (?, ?, ?)`,
			port, string(kind), owner,
		)
		if isUniqueViolation(err) {
			return fmt.Errorf("port %d: %w", port, ErrConflict)
		}
		if err != nil {
			return fmt.Errorf("allocating port %d: %w", port, err)
		}
		return nil
	})
}

// ReleasePort removes one allocation row. Releasing an unallocated port is
// a no-op.
func (s *Store) ReleasePort(port int) error {
	return s.write(func() error {
		if _, err := s.db.Exec(`DELETE FROM port_allocations WHERE port = ?`, port); err != nil {
			return fmt.Errorf("releasing port %d: %w", port, err)
		}
		return nil
	})
}

// ReleasePortsByOwner removes every allocation row held by owner.
func (s *Store) ReleasePortsByOwner(owner string) error {
	return s.write(func() error {
		if _, err := s.db.Exec(`DELETE FROM port_allocations WHERE owner = ?`, owner); err != nil {
			return fmt.Errorf("releasing ports for %s: %w", owner, err)
		}
		return nil
	})
}
