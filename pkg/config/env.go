package config

// Environment constants
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// Binary names, also used as config file names.
const (
	PharmacyService = "pharmacy-service"
	SyncAgent       = "medtrack-sync"
)

func isProductionLike(env string) bool {
	return env == EnvStaging || env == EnvProduction
}
