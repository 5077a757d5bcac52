/*
Package log provides structured logging for Paddock using zerolog.

The package wraps zerolog behind a global logger initialized once via
log.Init, with component child loggers (log.WithComponent) and id-scoped
child loggers for requests, machines, templates and correlation ids. Output
is JSON in production and human-readable console format during development.

The scheduler envelope is written to stdout; logs therefore default to
stderr so script-mode invocations stay machine-parseable.
*/
package log
