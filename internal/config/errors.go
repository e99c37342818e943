package config

import "errors"

var (
	// ErrMissingBaseURL indicates base_url is not configured.
	ErrMissingBaseURL = errors.New("base_url is required in configuration")

	// ErrMissingSupportedVersions indicates supported_versions is empty.
	ErrMissingSupportedVersions = errors.New("supported_versions must list at least one protocol version")

	// ErrMissingStorageDriver indicates database.driver is not configured
	// while auth.authless is false.
	ErrMissingStorageDriver = errors.New("database.driver is required unless auth.authless is true")

	// ErrConfigFileNotFound indicates the config file path does not exist.
	ErrConfigFileNotFound = errors.New("configuration file not found")

	// ErrInvalidConfigFormat indicates the config file could not be parsed.
	ErrInvalidConfigFormat = errors.New("invalid configuration file format")
)
