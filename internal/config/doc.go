// Package config provides configuration types and loading for the gateway.
//
// Configuration is read from a YAML file. Values may reference environment
// variables with ${VAR} or ${VAR:-default}; a literal dollar sign is written
// as $$.
//
//	cfg, err := config.LoadConfig("apiguard.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := config.ValidateConfig(cfg); err != nil {
//	    log.Fatal(err)
//	}
//
// Credentials, limits and paths are read once at startup. The Watcher only
// propagates changes that are safe to apply to a running process, which
// today is the log level.
package config
