// Package config loads application configuration from GATEKEEPER_*
// environment variables.
//
// LoadConfig reads every section, applies defaults and validates the
// result. PostgreSQL is mandatory; Redis is optional and its absence
// degrades the permission cache and rate limiter rather than failing
// startup.
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
