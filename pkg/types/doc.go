// Package types defines the shared vocabulary of the tracker: entity states,
// tracking tiers, sidecar names, configuration, and the standard errors
// returned by the metadata, tracking, and storage packages.
package types
