package auth

import (
	"context"
	"database/sql"
	"fmt"
)

// ForbiddenError indicates the caller is not assigned to the route it is
// trying to act on.
type ForbiddenError struct {
	RouteID string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("route %s is not assigned to the caller", e.RouteID)
}

// Service provides ownership helpers backed by SQL.
type Service struct {
	DB *sql.DB
}

// TechnicianOwnsRoute reports whether the route is assigned to the
// technician. An unassigned route (no technician recorded) is open to anyone.
func (s Service) TechnicianOwnsRoute(ctx context.Context, routeID, technicianID string) (bool, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT COALESCE(technician_id, '') FROM routes WHERE id=? LIMIT 1`, routeID)
	var owner string
	err := row.Scan(&owner)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return owner == "" || owner == technicianID, nil
}

// RequireRouteAccess is TechnicianOwnsRoute with the failure mapped to a
// ForbiddenError, for handler use.
func (s Service) RequireRouteAccess(ctx context.Context, routeID, technicianID string) error {
	ok, err := s.TechnicianOwnsRoute(ctx, routeID, technicianID)
	if err != nil {
		return err
	}
	if !ok {
		return ForbiddenError{RouteID: routeID}
	}
	return nil
}
