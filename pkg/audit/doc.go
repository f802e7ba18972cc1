// Package audit records administrative actions in app_audit_log.
//
// # Overview
//
// Every mutating API call (settings saves, instance and member changes, user
// invites) writes one Event. Writing is best-effort: a failed insert is
// logged and the action that triggered it still succeeds.
//
// Events carry an optional instance id. Listing for an instance returns that
// instance's events together with global ones (instance_id IS NULL).
//
// # Usage Example
//
//	auditor := audit.NewDBLogger(appPool, logger)
//	auditor.Log(ctx, audit.Event{
//		ActorEmail: user.Email,
//		Action:     audit.ActionSettingsSave,
//		EntityType: audit.EntityInstance,
//		EntityID:   instanceID,
//		InstanceID: instanceID,
//	})
//
// # Retention
//
// Retention runs registered cleanup jobs on a cron schedule. The server
// registers the audit prune job and expired-invite cleanup.
package audit
