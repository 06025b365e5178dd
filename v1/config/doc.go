// Package config binds the LOCK_* environment variables (and .env files) to
// the manager, cleanup and health configurations. Duration-valued keys are
// expressed in milliseconds.
package config
