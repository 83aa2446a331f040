// Package config provides small environment-driven helpers used at process
// start-up: loading .env files and resolving a provider's API key from its
// standard environment variable.
package config
