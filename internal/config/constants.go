package config

// Constants defining default values for application configuration
const (
	DefaultDBPath = "./scraper.db"

	DefaultServerPort = 8080
	DefaultServerHost = "" // Empty string means all interfaces

	DefaultLookbackDays = 7
	DefaultReportLimit  = 20
	DefaultExportLimit  = 30
	DefaultOutputDir    = "./outputs"

	DefaultWorkerCount = 4           // Concurrent channel fetches
	DefaultScrapeCron  = "0 9 * * *" // Daily at 09:00

	DefaultLogLevel = "info"
)

// DefaultResearchHosts are the preprint/paper domains recognized by the
// link classifier when no override is configured.
var DefaultResearchHosts = []string{
	"arxiv.org",
	"openreview.net",
	"aclanthology.org",
	"proceedings.mlr.press",
	"jmlr.org",
	"paperswithcode.com",
	"ieeexplore.ieee.org",
	"link.springer.com",
	"sciencedirect.com",
	"nature.com",
	"science.org",
	"doi.org",
}
