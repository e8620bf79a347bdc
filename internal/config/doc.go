// Package config provides client configuration.
//
// Loads defaults, then ~/.studyboard/config.yaml if present, then environment
// variable overrides. Validates required fields before anything is wired.
package config
