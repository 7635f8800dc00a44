package middleware

import (
	"net/http"
	"strings"

	"github.com/tachikoma-run/tachikoma/internal/apperrors"
)

// permission is one of the CRUD+execute verbs the role table grants.
type permission string

const (
	permRead    permission = "read"
	permCreate  permission = "create"
	permUpdate  permission = "update"
	permDelete  permission = "delete"
	permExecute permission = "execute"
)

// rolePermissions is the role -> resource -> permission-set table.
var rolePermissions = map[string]map[string]map[permission]bool{
	"admin": {
		"tasks":   {permRead: true, permCreate: true, permUpdate: true, permDelete: true},
		"agents":  {permRead: true, permCreate: true, permUpdate: true, permDelete: true},
		"execute": {permRead: true, permExecute: true},
		"health":  {permRead: true},
		"admin":   {permRead: true, permCreate: true, permUpdate: true, permDelete: true},
	},
	"operator": {
		"tasks":   {permRead: true, permCreate: true, permUpdate: true},
		"agents":  {permRead: true, permCreate: true, permUpdate: true},
		"execute": {permRead: true, permExecute: true},
		"health":  {permRead: true},
	},
	"agent": {
		"tasks":   {permRead: true, permUpdate: true},
		"agents":  {permRead: true},
		"execute": {permExecute: true},
		"health":  {permRead: true},
	},
	"viewer": {
		"tasks":   {permRead: true},
		"agents":  {permRead: true},
		"health":  {permRead: true},
	},
}

// RBAC derives resource/operation from the request, unions permissions
// across the user's roles, and denies with 403 PERM_002 when the
// operation isn't in the union.
func RBAC(publicPaths map[string]bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			resource := resourceForPath(r.URL.Path)
			op := operationFor(resource, r.Method)

			u, ok := UserFromContext(r.Context())
			if !ok {
				WriteError(w, r, apperrors.CodePermInsufficient, "no authenticated user in context", nil)
				return
			}

			if !rolesGrant(u.Roles, resource, op) {
				WriteError(w, r, apperrors.CodePermInsufficient, "insufficient permissions for "+string(op)+" on "+resource, nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func rolesGrant(roles []string, resource string, op permission) bool {
	for _, role := range roles {
		if rolePermissions[role][resource][op] {
			return true
		}
	}
	return false
}

// resourceForPath maps "/api/<name>..." to the resource name the
// permission table keys on.
func resourceForPath(path string) string {
	path = strings.TrimPrefix(path, "/api/")
	if idx := strings.IndexByte(path, '/'); idx >= 0 {
		path = path[:idx]
	}
	if path == "" {
		return "health"
	}
	return path
}

// operationFor derives the operation for resource/method. The execute
// resource has no create/update/delete permissions in the table, so its
// POST (the only verb that invokes it) maps to "execute" rather than the
// generic CRUD mapping every other resource uses.
func operationFor(resource, method string) permission {
	if resource == "execute" && method == http.MethodPost {
		return permExecute
	}
	switch method {
	case http.MethodPost:
		return permCreate
	case http.MethodPut, http.MethodPatch:
		return permUpdate
	case http.MethodDelete:
		return permDelete
	default:
		return permRead
	}
}
