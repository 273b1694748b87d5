// Package config loads, normalizes, and validates hive configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// HIVE_ROOT and HIVE_BACKEND. The Config type centralizes every knob the
// supervisor, the workers, and the CLI need, including the hierarchy policy
// that bounds how deep and how wide the worker fleet may grow.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
