package patterns

import "strings"

// BucketNameClassifier tags matches produced from a function's name rather
// than from a pattern.
const BucketNameClassifier = "name"

const handlerConfidence = 0.6

// ProjectContext reports which kinds of infrastructure dependency a project
// declares.
type ProjectContext interface {
	HasDatabase() bool
	HasHTTPClient() bool
	HasCache() bool
}

var (
	dbNamePatterns = []string{
		"query", "execute", "fetch", "insert", "update", "delete", "select",
		"transaction", "commit", "rollback", "connect", "pool", "database",
		"db_", "_db", "sql", "postgres", "mysql", "sqlite", "redis", "mongo",
		"dynamo",
	}
	httpNamePatterns = []string{
		"request", "response", "http", "fetch", "call_api", "send_request",
		"client", "get_", "post_", "put_", "delete_", "patch_", "api_call",
		"remote", "external",
	}
	errorNamePatterns = []string{
		"error", "handle_error", "map_err", "on_error", "catch", "recover",
		"fallback", "retry", "validate",
	}
	businessNamePatterns = []string{
		"process", "handle", "create", "calculate", "validate", "authorize",
		"authenticate", "payment", "order", "checkout", "register", "login",
		"logout", "subscribe", "publish",
	}

	// Names that only mean database, HTTP or cache work when the matching
	// dependency is present.
	dbContextPatterns = []string{
		"query", "execute", "fetch", "insert", "update", "delete", "select",
		"transaction", "commit", "rollback", "pool",
	}
	httpContextPatterns = []string{
		"send_request", "http_get", "http_post", "call_api", "fetch_from",
		"remote_", "_client", "api_call",
	}
	cacheContextPatterns = []string{
		"cache_get", "cache_set", "get_cached", "set_cache", "invalidate",
		"cache_", "_cache",
	}
)

func containsAny(name string, substrings []string) bool {
	for _, s := range substrings {
		if strings.Contains(name, s) {
			return true
		}
	}
	return false
}

// ClassifyName guesses a category from a function name. With a nil project
// the name alone decides. Otherwise database, HTTP and cache categories are
// only chosen when the project depends on a library of that kind.
func ClassifyName(name string, project ProjectContext) (Category, float64, bool) {
	lower := strings.ToLower(name)
	if project == nil {
		return classifyNaive(lower)
	}
	return classifyWithContext(lower, project)
}

func classifyNaive(name string) (Category, float64, bool) {
	switch {
	case containsAny(name, dbNamePatterns):
		return Database, 0.9, true
	case containsAny(name, httpNamePatterns):
		return HttpClient, 0.85, true
	case containsAny(name, errorNamePatterns):
		return ErrorHandling, 0.8, true
	case containsAny(name, businessNamePatterns):
		return BusinessLogic, 0.7, true
	}
	return Unknown, 0, false
}

func classifyWithContext(name string, project ProjectContext) (Category, float64, bool) {
	hasDB, hasHTTP, hasCache := project.HasDatabase(), project.HasHTTPClient(), project.HasCache()

	if hasDB && containsAny(name, dbContextPatterns) {
		return Database, 0.9, true
	}
	if hasHTTP && containsAny(name, httpContextPatterns) {
		return HttpClient, 0.85, true
	}
	if hasCache && containsAny(name, cacheContextPatterns) {
		return Cache, 0.8, true
	}
	if containsAny(name, errorNamePatterns) {
		return ErrorHandling, 0.8, true
	}
	if containsAny(name, businessNamePatterns) {
		return BusinessLogic, 0.7, true
	}
	// Broader names with a lower confidence, still gated on dependencies.
	if hasDB && containsAny(name, dbNamePatterns) {
		return Database, 0.7, true
	}
	if hasHTTP && containsAny(name, httpNamePatterns) {
		return HttpClient, 0.6, true
	}
	return Unknown, 0, false
}
