// Package config loads the server configuration with viper from an
// optional YAML file and INSURANCE_AI_* environment variables, then checks
// it with validator struct tags. Every key has a default, so a bare
// environment is enough to run against local services.
package config
