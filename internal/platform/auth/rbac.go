package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	RoleAdmin        = "admin"
	RoleLabManager   = "lab_manager"
	RoleLabTech      = "lab_tech"
	RoleReceptionist = "receptionist"
	RoleReferrer     = "referrer"
)

const (
	PermOrdersRead     = "orders.read"
	PermOrdersWrite    = "orders.write"
	PermPatientsRead   = "patients.read"
	PermPatientsWrite  = "patients.write"
	PermCatalogRead    = "catalog.read"
	PermCatalogWrite   = "catalog.write"
	PermDocumentsRead  = "documents.read"
	PermDocumentsWrite = "documents.write"
	PermUsersManage    = "users.manage"
	PermSyncRun        = "sync.run"
)

// RolePermissions grants permissions per role. Admin is absent on purpose:
// it passes every check.
var RolePermissions = map[string][]string{
	RoleLabManager: {
		PermOrdersRead, PermOrdersWrite,
		PermPatientsRead, PermPatientsWrite,
		PermCatalogRead, PermCatalogWrite,
		PermDocumentsRead, PermDocumentsWrite,
		PermSyncRun,
	},
	RoleLabTech: {
		PermOrdersRead, PermOrdersWrite,
		PermPatientsRead,
		PermCatalogRead,
		PermDocumentsRead,
	},
	RoleReceptionist: {
		PermOrdersRead, PermOrdersWrite,
		PermPatientsRead, PermPatientsWrite,
		PermCatalogRead,
		PermDocumentsRead, PermDocumentsWrite,
	},
	RoleReferrer: {
		PermOrdersRead, PermOrdersWrite,
		PermPatientsRead, PermPatientsWrite,
		PermCatalogRead,
		PermDocumentsRead,
	},
}

// HasPermission reports whether any of roles grants perm.
func HasPermission(roles []string, perm string) bool {
	for _, role := range roles {
		if role == RoleAdmin {
			return true
		}
		for _, p := range RolePermissions[role] {
			if p == perm {
				return true
			}
		}
	}
	return false
}

// RequirePermission rejects requests whose roles do not grant perm.
func RequirePermission(perm string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !HasPermission(RolesFromContext(c.Request().Context()), perm) {
				return echo.NewHTTPError(http.StatusForbidden,
					fmt.Sprintf("required permission: %s", perm))
			}
			return next(c)
		}
	}
}

// RequireRole returns middleware that checks if the user has at least one of the specified roles.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userRoles := RolesFromContext(c.Request().Context())
			for _, required := range roles {
				for _, has := range userRoles {
					if has == required || has == RoleAdmin {
						return next(c)
					}
				}
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}
