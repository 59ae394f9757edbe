// Package audit records security relevant account events: registrations,
// logins and failed logins, logouts, refresh token reuse, password changes and
// resets, account deletion and administrator provisioning.
//
// Events go to one or more Loggers. LogLogger writes them into the structured
// application log under the "audit" field, FileLogger appends JSON lines to a
// dedicated file with size based rotation, and MultiLogger fans out to several.
//
//	auditor := audit.NewMultiLogger(audit.NewLogLogger(logger), fileLogger)
//	auditor.Log(ctx, audit.FromRequest(r, audit.EventLogin, audit.StatusSuccess).WithUser(u.ID))
package audit
