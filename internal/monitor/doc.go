// Package monitor implements the scheduled topic monitor.
//
// A Monitor owns its configuration, a per-cycle channel name cache, the
// resolved identity/notification target and a cron Scheduler. Each cycle
// refreshes the cache, scans the configured channels one after another and
// dispatches a notification for channels whose recent posts mention a
// configured topic. Failures are isolated per channel; only configuration and
// target resolution errors are fatal, and only to Start.
package monitor
