package user

// Registry holds the admin and allowed user sets, populated once at startup
// and read-mostly afterwards.
type Registry struct {
	admins  map[string]bool
	allowed map[string]bool
}

// NewRegistry builds a registry from the configured admin and allowed user
// names. An empty allowed list means any authenticated user may spawn.
func NewRegistry(admins, allowed []string) *Registry {
	r := &Registry{
		admins:  make(map[string]bool, len(admins)),
		allowed: make(map[string]bool, len(allowed)),
	}
	for _, name := range admins {
		r.admins[name] = true
	}
	for _, name := range allowed {
		r.allowed[name] = true
	}
	return r
}

// IsAdmin reports whether name is a configured admin.
func (r *Registry) IsAdmin(name string) bool {
	return r.admins[name]
}

// IsAllowed reports whether name may use the hub. Admins are always allowed.
func (r *Registry) IsAllowed(name string) bool {
	if r.admins[name] {
		return true
	}
	if len(r.allowed) == 0 {
		return true
	}
	return r.allowed[name]
}

// Admins returns the configured admin names.
func (r *Registry) Admins() []string {
	names := make([]string, 0, len(r.admins))
	for name := range r.admins {
		names = append(names, name)
	}
	return names
}
