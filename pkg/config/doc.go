// Package config loads the server configuration.
//
// Values are layered: built-in defaults, then an optional YAML file named by
// TASKBOARD_CONFIG_FILE, then TASKBOARD_* environment variables. The process
// refuses to start while any required key is missing; all missing keys are
// reported in a single *MissingError.
//
// Required:
//
//	TASKBOARD_DATABASE_URL="postgres://localhost/taskboard"
//	TASKBOARD_ACCESS_TOKEN_SECRET / TASKBOARD_REFRESH_TOKEN_SECRET  (32+ bytes, distinct)
//	TASKBOARD_ACCESS_TOKEN_EXPIRY="1d"  TASKBOARD_REFRESH_TOKEN_EXPIRY="10d"
//	TASKBOARD_SMTP_HOST, TASKBOARD_SMTP_USERNAME, TASKBOARD_SMTP_PASSWORD, TASKBOARD_MAIL_FROM
//	TASKBOARD_S3_BUCKET, TASKBOARD_S3_ACCESS_KEY_ID, TASKBOARD_S3_SECRET_ACCESS_KEY
//
// Optional settings include TASKBOARD_PORT, TASKBOARD_PUBLIC_URL,
// TASKBOARD_CORS_ORIGIN (comma separated), TASKBOARD_TRUSTED_PROXIES (comma
// separated CIDRs whose X-Forwarded-For is honored), TASKBOARD_COOKIE_SECURE,
// TASKBOARD_REDIS_URL, TASKBOARD_LOG_LEVEL, TASKBOARD_AUDIT_LOG_FILE, TASKBOARD_OPS_PORT,
// TASKBOARD_OTEL_ENABLED, TASKBOARD_TOKEN_PURGE_SCHEDULE and the
// TASKBOARD_RATE_LIMIT_{API,AUTH,EMAIL}_{REQUESTS,WINDOW} budgets.
//
// Durations accept Go syntax ("15m") and whole days ("7d").
package config
