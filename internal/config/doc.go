// Package config handles configuration loading for the cellular binaries.
//
// # Overview
//
// One Config struct serves cell-router, cell-gateway and cellctl. Each binary
// loads the same file format and calls the Validate method for its role:
//
//   - ValidateRouter: listener, store, signing key, provisioner
//   - ValidateGateway: listener, cell id, store, verification key
//   - ValidateCtl: store, provisioner, pipeline reporter
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from CELLULAR_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/cellular/<binary>.yaml
//  3. ~/.config/cellular/<binary>.yaml
//
// Files ending in .toml are decoded as TOML; everything else is YAML.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  signing_key:
//	    source: static
//	    ref: "${CELLULAR_JWT_SECRET}"
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	orchestrator:
//	  job_timeout: "20m"
package config
