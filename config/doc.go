// Package config handles loading and parsing of configuration from YAML files
// and environment variables. It defines the dispatcher settings (gateway,
// retry count, client-side load balancing and polling bounds) together with
// the registry, transport, event log and sidecar server sections.
package config
