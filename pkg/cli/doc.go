// Package cli holds the command dispatcher of the taskboard binary and the
// operator tasks it exposes.
//
// # Commands
//
//	taskboard serve              run the API server (default)
//	taskboard migrate            apply database migrations and exit
//	taskboard purge-tokens       clear expired verification and reset tokens once
//	taskboard create-admin       create a verified global administrator
//
// Every command reads the same TASKBOARD_* environment as the server.
package cli
