package auth

// Evaluator answers permission queries over an in-memory snapshot of a
// user's roles. All methods are pure and side-effect free: they perform no
// I/O and hold no state beyond the configured super-admin wildcard, so a
// single Evaluator is safe for concurrent use from any number of
// goroutines.
type Evaluator struct {
	superAdmin PermissionName
}

// EvaluatorOption configures an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithSuperAdmin overrides the permission name that short-circuits every
// check.
func WithSuperAdmin(name PermissionName) EvaluatorOption {
	return func(e *Evaluator) {
		if !name.IsZero() {
			e.superAdmin = name
		}
	}
}

// NewEvaluator constructs an Evaluator. The super-admin wildcard defaults
// to SuperAdminPermissionName and is explicit configuration, not a global.
func NewEvaluator(opts ...EvaluatorOption) Evaluator {
	e := Evaluator{superAdmin: MustPermissionName(SuperAdminPermissionName)}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

// IsSuperAdmin reports whether any role holds the super-admin permission
// literally, compared by full name.
func (e Evaluator) IsSuperAdmin(roles []*Role) bool {
	for _, r := range roles {
		if r == nil {
			continue
		}
		if r.HasPermission(e.superAdmin) {
			return true
		}
	}
	return false
}

// HasPermission reports whether the role set grants the query permission,
// either through the super-admin shortcut or a stored-side wildcard match.
func (e Evaluator) HasPermission(roles []*Role, query PermissionName) bool {
	if e.IsSuperAdmin(roles) {
		return true
	}
	for _, r := range roles {
		if r == nil {
			continue
		}
		for _, p := range r.Permissions() {
			if p.Name.Matches(query) {
				return true
			}
		}
	}
	return false
}

// GrantingRoles returns the names of the roles that grant the query, in
// role order. Used to annotate audit records of permission checks.
func (e Evaluator) GrantingRoles(roles []*Role, query PermissionName) []string {
	var granting []string
	for _, r := range roles {
		if r == nil {
			continue
		}
		for _, p := range r.Permissions() {
			if p.Name.Equal(e.superAdmin) || p.Name.Matches(query) {
				granting = append(granting, r.Name)
				break
			}
		}
	}
	return granting
}

// HasPermissionByParts checks a permission assembled from its segments. An
// empty module means "match any stored module": the module position is
// treated as a query-side wildcard for this entry point only. Resource and
// action must match exactly or against a stored wildcard.
func (e Evaluator) HasPermissionByParts(roles []*Role, module, resource, action string) bool {
	if e.IsSuperAdmin(roles) {
		return true
	}
	for _, r := range roles {
		if r == nil {
			continue
		}
		for _, p := range r.Permissions() {
			if module != "" && !segmentMatches(p.Module(), module) {
				continue
			}
			if !segmentMatches(p.Resource(), resource) {
				continue
			}
			if segmentMatches(p.Action(), action) {
				return true
			}
		}
	}
	return false
}

func segmentMatches(stored, query string) bool {
	return stored == Wildcard || stored == query
}

// AllPermissions returns the union of the roles' permissions deduplicated
// by name, in first-seen order iterating roles in their given order. Under
// the super-admin shortcut it returns a single synthetic permission.
func (e Evaluator) AllPermissions(roles []*Role) []Permission {
	if e.IsSuperAdmin(roles) {
		return []Permission{{Name: e.superAdmin, DisplayName: "All Permissions"}}
	}
	var out []Permission
	seen := make(map[string]struct{})
	for _, r := range roles {
		if r == nil {
			continue
		}
		for _, p := range r.Permissions() {
			if _, ok := seen[p.Name.String()]; ok {
				continue
			}
			seen[p.Name.String()] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

// PermissionNames returns the names of AllPermissions as strings, the shape
// embedded into access tokens at issuance.
func (e Evaluator) PermissionNames(roles []*Role) []string {
	perms := e.AllPermissions(roles)
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		out = append(out, p.Name.String())
	}
	return out
}

// PermissionsByModule filters AllPermissions to those whose module segment
// equals module. Under the super-admin shortcut the synthetic singleton is
// returned regardless of the requested module.
func (e Evaluator) PermissionsByModule(roles []*Role, module string) []Permission {
	if e.IsSuperAdmin(roles) {
		return e.AllPermissions(roles)
	}
	var out []Permission
	for _, p := range e.AllPermissions(roles) {
		if p.Module() == module {
			out = append(out, p)
		}
	}
	return out
}
