// Package config loads and validates gatesync configuration.
//
// Configuration comes from a YAML file, with environment variable
// overrides for deployment and secrets. Load applies defaults, clamps the
// tuning knobs (TTLs, poll interval, timeouts) into sane ranges, and
// rejects configs missing required fields, so the rest of the application
// never sees a zero or nonsense value.
//
// Sensitive values (account password, broker credentials, InfluxDB token)
// should be supplied via environment variables rather than the file, and
// the file itself kept at 0600.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Backend.BaseURL)
package config
