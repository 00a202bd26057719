// Package patterns classifies functions by matching weighted literal and
// regex patterns against their name, attributes and body text, and by
// recognising suggestive names in the light of the project's dependencies.
package patterns

// Category is the kind of code a function most likely is.
type Category string

const (
	UnitTest        Category = "unit"
	IntegrationTest Category = "integration"
	PropertyTest    Category = "property"
	Benchmark       Category = "bench"
	Fuzz            Category = "fuzz"
	Mock            Category = "mock"
	TestUtility     Category = "utility"
	Example         Category = "example"
	Database        Category = "database"
	HttpClient      Category = "http_client"
	ExternalService Category = "external_service"
	Cache           Category = "cache"
	MessageQueue    Category = "message_queue"
	ErrorHandling   Category = "error_handling"
	Auth            Category = "auth"
	BusinessLogic   Category = "business_logic"
	Unknown         Category = "unknown"
)

// Categories lists every category in precedence order. Ties in score are
// broken by the earlier entry.
var Categories = []Category{
	UnitTest, IntegrationTest, PropertyTest, Benchmark, Fuzz, Mock,
	TestUtility, Example, Database, HttpClient, ExternalService, Cache,
	MessageQueue, ErrorHandling, Auth, BusinessLogic, Unknown,
}

var categoryNames = map[Category]string{
	UnitTest:        "Unit Test",
	IntegrationTest: "Integration Test",
	PropertyTest:    "Property Test",
	Benchmark:       "Benchmark",
	Fuzz:            "Fuzz Test",
	Mock:            "Mock/Stub",
	TestUtility:     "Test Utility",
	Example:         "Example",
	Database:        "Database",
	HttpClient:      "HTTP Client",
	ExternalService: "External Service",
	Cache:           "Cache",
	MessageQueue:    "Message Queue",
	ErrorHandling:   "Error Handling",
	Auth:            "Authentication",
	BusinessLogic:   "Business Logic",
	Unknown:         "Unknown",
}

// Name returns the human-readable category name.
func (c Category) Name() string {
	if n, ok := categoryNames[c]; ok {
		return n
	}
	return string(c)
}

// IsTest reports whether the category describes test code.
func (c Category) IsTest() bool {
	switch c {
	case UnitTest, IntegrationTest, PropertyTest, Benchmark, Fuzz, Mock, TestUtility:
		return true
	}
	return false
}

func categoryRank(c Category) int {
	for i, v := range Categories {
		if v == c {
			return i
		}
	}
	return len(Categories)
}
