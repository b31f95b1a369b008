package config

import (
	"github.com/AccessMirror/AccessMirror/internal/logger"
)

// Config overall data structure.
type Config struct {
	DevMode   bool // enable dev mode for development
	DB        DB
	Log       logger.Log
	Title     string
	Webserver Webserver
	Directory Directory
	AppDB     AppDB
	Mocks     Mocks
	Sync      Sync
	Registry  Registry
}

// Webserver implement webserver settings.
type Webserver struct {
	Domain       string // domain name for the webserver
	Port         int    // listening port for the webserver
	ShutDownTime int    // wait time for shutdown
	URL          string // base url for the webserver
}

// Directory holds the identity-provider credentials for the user sync.
// The connector acquires tokens via the OAuth2 client-credentials grant.
type Directory struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	// Scope defaults to the provider's ".default" application scope.
	Scope string
	// BaseURL overrides the directory API endpoint, mainly for tests.
	BaseURL string
}

// Configured reports whether live directory access is possible.
func (d Directory) Configured() bool {
	return d.TenantID != "" && d.ClientID != "" && d.ClientSecret != ""
}

// AppDBEnv describes one named application-database environment.
type AppDBEnv struct {
	// DSN is the connection descriptor. Driver-prefixed forms such as
	// postgresql+psycopg:// are accepted and normalized by the connector.
	DSN string
	// Display is the human readable environment name used in source-system
	// tags, e.g. "Pre-Production". Defaults to the environment key.
	Display string
}

// AppDB holds the named application-database environments.
type AppDB struct {
	// ActiveEnv selects the environment used when a sync request names none.
	ActiveEnv string
	// Environments maps environment names to their connection settings.
	Environments map[string]AppDBEnv
}

// Env resolves a named environment, falling back to ActiveEnv for the empty
// name. The second return reports whether the environment exists.
func (a AppDB) Env(name string) (string, AppDBEnv, bool) {
	if name == "" {
		name = a.ActiveEnv
	}

	env, ok := a.Environments[name]

	return name, env, ok
}

// Mocks controls the offline payloads used when live credentials are absent.
type Mocks struct {
	// Allow enables falling back to mock payloads.
	Allow bool
	// DirectoryPath is the JSON file with directory users.
	DirectoryPath string
	// AppDBPath is the JSON file with the application-database dump.
	AppDBPath string
}

// Sync tunes the synchronization pipelines.
type Sync struct {
	// PageSize is the directory list-users page size.
	PageSize int
	// BatchSize is the number of records per upsert transaction.
	BatchSize int
	// MaxRetries bounds connector retries on retryable failures.
	MaxRetries int
	// RequestTimeoutS is the per-request timeout in seconds.
	RequestTimeoutS int
	// RunTimeoutS is the per-run soft cap in seconds.
	RunTimeoutS int
	// FailureRateCap aborts a run once failed/processed exceeds it.
	FailureRateCap float64
}

// Registry holds local-state file locations.
type Registry struct {
	// HiddenUsersPath is the JSON file persisting hidden-user choices.
	HiddenUsersPath string
}
