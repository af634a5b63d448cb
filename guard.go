package auth

// GuardDecision is the outcome of a route guard.
type GuardDecision int

const (
	// GuardPending means the first auth check has not settled; render a
	// loading state and do not redirect.
	GuardPending GuardDecision = iota
	GuardAllow
	GuardRedirect
)

func (d GuardDecision) String() string {
	switch d {
	case GuardPending:
		return "pending"
	case GuardAllow:
		return "allow"
	case GuardRedirect:
		return "redirect"
	default:
		return "unknown"
	}
}

// GuardResult carries the redirect target for GuardRedirect.
type GuardResult struct {
	Decision   GuardDecision
	RedirectTo string
}

// RouteGuard gates a route on authentication and role. Roles lists the
// exact roles allowed; MinRole allows every role at or above it. With both
// empty any signed in user passes.
type RouteGuard struct {
	LoginPath string
	Roles     []UserRole
	MinRole   UserRole
}

// DefaultLoginPath is used when a guard has no LoginPath.
const DefaultLoginPath = "/login"

// RequireAuth builds a guard letting any signed in user through.
func RequireAuth(loginPath string) RouteGuard {
	return RouteGuard{LoginPath: loginPath}
}

// RequireRole builds a guard for the given roles.
func RequireRole(loginPath string, roles ...UserRole) RouteGuard {
	return RouteGuard{LoginPath: loginPath, Roles: roles}
}

// Evaluate decides what to do with state.
func (g RouteGuard) Evaluate(state AuthState) GuardResult {
	if !state.AuthInitialized || state.IsLoading {
		return GuardResult{Decision: GuardPending}
	}

	if !state.IsAuthenticated() {
		login := g.LoginPath
		if login == "" {
			login = DefaultLoginPath
		}
		return GuardResult{Decision: GuardRedirect, RedirectTo: login}
	}

	role := state.User.Role
	if !g.allows(role) {
		return GuardResult{Decision: GuardRedirect, RedirectTo: role.DashboardPath()}
	}

	return GuardResult{Decision: GuardAllow}
}

func (g RouteGuard) allows(role UserRole) bool {
	if len(g.Roles) == 0 && g.MinRole == "" {
		return true
	}

	for _, r := range g.Roles {
		if r == role {
			return true
		}
	}

	if g.MinRole != "" && role.IsAtLeast(g.MinRole) {
		return true
	}

	return false
}
