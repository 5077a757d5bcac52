/*
Package template loads and serves the provisioning templates offered to the
scheduler.

Templates live in one YAML file, validated as a whole at load time so a
single bad entry is reported without serving a partial catalog. Image
aliases (SSM parameter paths) are resolved to concrete image ids on demand
and cached with a TTL, keeping template reads cheap while still tracking
rolling image releases.
*/
package template
