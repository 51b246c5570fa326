// Package eventlog records the request, response and http_exception events
// of every dispatch attempt as JSON lines.
//
// Files are written to <path>/<name>/<YYYYMMDD>_<pid>_<name>.log and roll
// over daily. When disabled, Write is a no-op.
package eventlog
