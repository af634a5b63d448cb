// Package auth implements the client side authentication and session
// lifecycle of the Knowly course marketplace.
//
// Components:
//   - ErrorFormatter maps backend auth errors to the Albanian messages shown
//     to users. FormatAuthError uses the default catalog.
//   - ProfileResolver fetches the profile row of an account, creating it on
//     first use and retrying transient store failures with an injected Clock.
//   - SessionStore holds the AuthState (user, session, loading and
//     initialized flags) and notifies subscribers on every atomic update.
//   - Orchestrator is the state machine. It subscribes to backend
//     auth-state-change events before reading the current session, races the
//     session check against a timeout with bounded retries, and forces the
//     state initialized after an outer safety timeout. Pushed events are
//     handled serially; events older than the stored session or received
//     before a local sign out are ignored.
//   - Provider is the façade exposing SignIn, SignUp, SignOut and UpdateUser
//     (plus the Login, Signup and Logout aliases). Prefer passing it
//     explicitly; WithProvider and ProviderFromContext cover call trees that
//     cannot.
//   - RouteGuard evaluates an AuthState into pending, allow or redirect.
//
// Activity sinks:
//   - ActivitySink is a light-weight audit emitter describing bootstrap,
//     sign in, sign up, sign out and profile events. Sinks run best-effort
//     (errors are logged) so they can feed toasts, a database or a queue
//     without blocking authentication.
//
// Backends live in provider/local (in-process accounts over bun) and
// provider/gotrue (HTTP client for a GoTrue compatible API); repository
// holds the bun profile store.
package auth
