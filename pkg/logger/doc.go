// Package logger builds the process-wide slog logger: JSON in production,
// text elsewhere, tagged with the environment and component.
package logger
