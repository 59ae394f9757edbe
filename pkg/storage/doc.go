// Package storage defines the persisted records of taskboard and the repository
// interfaces the services depend on.
//
// # Implementations
//
//   - storage/postgres: PostgreSQL via database/sql and lib/pq, schema managed by goose
//   - storage/memory: in-process maps guarded by a mutex, used by tests and local runs
//
// # Contracts
//
// Unique constraints are enforced by the store and surface as sentinel errors
// (ErrDuplicateEmail, ErrDuplicateUsername, ErrDuplicateMember, ErrDuplicateBoard,
// ErrDuplicateProject). Soft-deleted tasks, subtasks, boards, notes and projects are
// invisible to every read and surface as ErrNotFound.
//
// Token fields on a user are written with conditional updates:
//
//   - SwapRefreshToken replaces the refresh token only if it still equals the
//     expected value, so two rotations racing on the same token cannot both win.
//   - ConsumeVerificationToken and ConsumeResetToken clear the digest in the same
//     statement that checks it, so a temporary token is usable once.
//
// Membership changes that would leave a project without a project_admin fail with
// ErrLastProjectAdmin inside the same transaction that would have applied them.
package storage
