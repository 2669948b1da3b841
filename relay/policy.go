// Copyright 2026 The Peerlog Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/peerlog-foundation/peerlog/lib/codec"
	"github.com/peerlog-foundation/peerlog/lib/id"
	"github.com/peerlog-foundation/peerlog/lib/sqlitepool"
)

var (
	// ErrNotAuthorized reports a privileged policy operation by a
	// caller whose policy does not grant it.
	ErrNotAuthorized = errors.New("relay: not authorized")

	// ErrUnknownPolicy reports a reference to a policy name that does
	// not exist.
	ErrUnknownPolicy = errors.New("relay: unknown policy")
)

// AdminPolicy grants administrative capabilities. IsAdmin implies
// every other flag.
type AdminPolicy struct {
	IsAdmin             bool `cbor:"1,keyasint,omitempty"`
	CanEditPolicies     bool `cbor:"2,keyasint,omitempty"`
	CanEditUserPolicies bool `cbor:"3,keyasint,omitempty"`
}

// ConnectionPolicy controls session admission.
type ConnectionPolicy struct {
	CanConnect bool `cbor:"1,keyasint,omitempty"`
}

// MessagePolicy limits individual messages. Zero MaxMessageSize means
// unlimited.
type MessagePolicy struct {
	MaxMessageSize int64 `cbor:"1,keyasint,omitempty"`
}

// StoragePolicy limits a recipient's queued bytes. Zero
// MaxStoredBytes means unlimited.
type StoragePolicy struct {
	MaxStoredBytes int64 `cbor:"1,keyasint,omitempty"`
}

// Policy is a named bundle of authorization flags and quota limits
// assignable per user.
type Policy struct {
	Name       string           `cbor:"1,keyasint"`
	Admin      AdminPolicy      `cbor:"2,keyasint,omitempty"`
	Connection ConnectionPolicy `cbor:"3,keyasint,omitempty"`
	Message    MessagePolicy    `cbor:"4,keyasint,omitempty"`
	Storage    StoragePolicy    `cbor:"5,keyasint,omitempty"`
}

// PolicyAssignment binds one user to a named policy.
type PolicyAssignment struct {
	UserId     id.Id  `cbor:"1,keyasint"`
	PolicyName string `cbor:"2,keyasint"`
}

// PolicyStoreConfig holds the parameters for opening a policy store.
type PolicyStoreConfig struct {
	// Path is the filesystem path to the SQLite database file.
	Path string

	// PoolSize is the number of connections in the pool.
	PoolSize int

	// RootId is the relay operator's authority id. Root passes every
	// authorization check regardless of assigned policy.
	RootId id.Id

	// Default is the policy resolved for users with no assignment.
	Default Policy

	// Logger receives operational messages.
	Logger *slog.Logger
}

// PolicyStore persists named policies and per-user assignments, and
// answers the relay's authorization and quota questions. Resolved
// policies are cached per user; any mutation invalidates the cache.
//
// Safe for concurrent use.
type PolicyStore struct {
	pool          *sqlitepool.Pool
	rootId        id.Id
	defaultPolicy Policy
	logger        *slog.Logger

	cacheMu sync.Mutex
	cache   map[id.Id]Policy
}

const policySchema = `
	CREATE TABLE IF NOT EXISTS policies (
		name TEXT PRIMARY KEY,
		body BLOB NOT NULL
	);
	CREATE TABLE IF NOT EXISTS user_policies (
		user_id     BLOB PRIMARY KEY,
		policy_name TEXT NOT NULL
	);
`

// OpenPolicyStore opens or creates the policy store.
func OpenPolicyStore(cfg PolicyStoreConfig) (*PolicyStore, error) {
	if cfg.RootId.IsZero() {
		return nil, fmt.Errorf("relay: RootId is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: cfg.PoolSize,
		Logger:   cfg.Logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, policySchema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("relay: opening policy store: %w", err)
	}

	return &PolicyStore{
		pool:          pool,
		rootId:        cfg.RootId,
		defaultPolicy: cfg.Default,
		logger:        cfg.Logger,
		cache:         make(map[id.Id]Policy),
	}, nil
}

// Close closes the policy store pool.
func (s *PolicyStore) Close() error {
	return s.pool.Close()
}

// SetPolicy creates or replaces a named policy. Requires root or
// CanEditPolicies.
func (s *PolicyStore) SetPolicy(ctx context.Context, callerId id.Id, policy Policy) error {
	if err := s.authorize(ctx, callerId, func(admin AdminPolicy) bool {
		return admin.CanEditPolicies
	}); err != nil {
		return err
	}
	if policy.Name == "" {
		return fmt.Errorf("relay: policy needs a non-empty name")
	}

	body, err := codec.Marshal(policy)
	if err != nil {
		return fmt.Errorf("relay: encoding policy %q: %w", policy.Name, err)
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("relay: set policy: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `INSERT INTO policies (name, body) VALUES (?, ?)
		ON CONFLICT (name) DO UPDATE SET body = excluded.body`, &sqlitex.ExecOptions{
		Args: []any{policy.Name, body},
	})
	if err != nil {
		return fmt.Errorf("relay: set policy %q: %w", policy.Name, err)
	}

	// A policy edit changes the resolution for every user assigned
	// it; drop the whole cache rather than tracking assignments.
	s.cacheMu.Lock()
	s.cache = make(map[id.Id]Policy)
	s.cacheMu.Unlock()

	s.logger.Info("policy updated", "policy", policy.Name, "caller", callerId)
	return nil
}

// GetPolicy returns a named policy. Requires root or CanEditPolicies.
func (s *PolicyStore) GetPolicy(ctx context.Context, callerId id.Id, name string) (Policy, error) {
	if err := s.authorize(ctx, callerId, func(admin AdminPolicy) bool {
		return admin.CanEditPolicies
	}); err != nil {
		return Policy{}, err
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return Policy{}, fmt.Errorf("relay: get policy: %w", err)
	}
	defer s.pool.Put(conn)

	policy, found, err := loadPolicy(conn, name)
	if err != nil {
		return Policy{}, err
	}
	if !found {
		return Policy{}, fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
	}
	return policy, nil
}

// GetPolicies returns all named policies ordered by name. Requires
// root or CanEditPolicies.
func (s *PolicyStore) GetPolicies(ctx context.Context, callerId id.Id) ([]Policy, error) {
	if err := s.authorize(ctx, callerId, func(admin AdminPolicy) bool {
		return admin.CanEditPolicies
	}); err != nil {
		return nil, err
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("relay: get policies: %w", err)
	}
	defer s.pool.Put(conn)

	var policies []Policy
	err = sqlitex.Execute(conn, "SELECT body FROM policies ORDER BY name",
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				var policy Policy
				if err := codec.Unmarshal(columnBytes(stmt, 0), &policy); err != nil {
					return fmt.Errorf("relay: decoding stored policy: %w", err)
				}
				policies = append(policies, policy)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("relay: get policies: %w", err)
	}
	return policies, nil
}

// SetUserPolicy assigns a named policy to a user. The policy must
// exist. Requires root or CanEditUserPolicies.
func (s *PolicyStore) SetUserPolicy(ctx context.Context, callerId, userId id.Id, policyName string) error {
	if err := s.authorize(ctx, callerId, func(admin AdminPolicy) bool {
		return admin.CanEditUserPolicies
	}); err != nil {
		return err
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("relay: set user policy: %w", err)
	}
	defer s.pool.Put(conn)

	_, found, err := loadPolicy(conn, policyName)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %q", ErrUnknownPolicy, policyName)
	}

	err = sqlitex.Execute(conn, `INSERT INTO user_policies (user_id, policy_name) VALUES (?, ?)
		ON CONFLICT (user_id) DO UPDATE SET policy_name = excluded.policy_name`,
		&sqlitex.ExecOptions{Args: []any{userId[:], policyName}})
	if err != nil {
		return fmt.Errorf("relay: set user policy: %w", err)
	}

	s.cacheMu.Lock()
	delete(s.cache, userId)
	s.cacheMu.Unlock()

	s.logger.Info("user policy assigned",
		"user", userId,
		"policy", policyName,
		"caller", callerId,
	)
	return nil
}

// GetUserPolicy returns one user's assignment. Requires root or
// CanEditUserPolicies.
func (s *PolicyStore) GetUserPolicy(ctx context.Context, callerId, userId id.Id) (PolicyAssignment, error) {
	if err := s.authorize(ctx, callerId, func(admin AdminPolicy) bool {
		return admin.CanEditUserPolicies
	}); err != nil {
		return PolicyAssignment{}, err
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return PolicyAssignment{}, fmt.Errorf("relay: get user policy: %w", err)
	}
	defer s.pool.Put(conn)

	name, found, err := loadAssignment(conn, userId)
	if err != nil {
		return PolicyAssignment{}, err
	}
	if !found {
		return PolicyAssignment{}, fmt.Errorf("relay: no policy assigned to %s", userId)
	}
	return PolicyAssignment{UserId: userId, PolicyName: name}, nil
}

// GetUserPolicies returns all assignments ordered by user id.
// Requires root or CanEditUserPolicies.
func (s *PolicyStore) GetUserPolicies(ctx context.Context, callerId id.Id) ([]PolicyAssignment, error) {
	if err := s.authorize(ctx, callerId, func(admin AdminPolicy) bool {
		return admin.CanEditUserPolicies
	}); err != nil {
		return nil, err
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("relay: get user policies: %w", err)
	}
	defer s.pool.Put(conn)

	var assignments []PolicyAssignment
	err = sqlitex.Execute(conn,
		"SELECT user_id, policy_name FROM user_policies ORDER BY user_id",
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				userId, err := columnId(stmt, 0)
				if err != nil {
					return err
				}
				assignments = append(assignments, PolicyAssignment{
					UserId:     userId,
					PolicyName: stmt.ColumnText(1),
				})
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("relay: get user policies: %w", err)
	}
	return assignments, nil
}

// ResolvePolicy returns the effective policy for one user: the
// assigned named policy, or the default when unassigned or the
// assigned name has been deleted out from under the user.
func (s *PolicyStore) ResolvePolicy(ctx context.Context, userId id.Id) (Policy, error) {
	s.cacheMu.Lock()
	cached, hit := s.cache[userId]
	s.cacheMu.Unlock()
	if hit {
		return cached, nil
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return Policy{}, fmt.Errorf("relay: resolve policy: %w", err)
	}
	defer s.pool.Put(conn)

	resolved := s.defaultPolicy
	name, assigned, err := loadAssignment(conn, userId)
	if err != nil {
		return Policy{}, err
	}
	if assigned {
		policy, found, err := loadPolicy(conn, name)
		if err != nil {
			return Policy{}, err
		}
		if found {
			resolved = policy
		} else {
			s.logger.Warn("assigned policy missing, falling back to default",
				"user", userId,
				"policy", name,
			)
		}
	}

	s.cacheMu.Lock()
	s.cache[userId] = resolved
	s.cacheMu.Unlock()
	return resolved, nil
}

// CanConnect reports whether a user's policy admits a relay session.
// Root always connects; resolution errors deny and log.
func (s *PolicyStore) CanConnect(ctx context.Context, userId id.Id) bool {
	if userId == s.rootId {
		return true
	}
	policy, err := s.ResolvePolicy(ctx, userId)
	if err != nil {
		s.logger.Error("policy resolution failed, denying connection",
			"user", userId,
			"error", err,
		)
		return false
	}
	return policy.Connection.CanConnect
}

// MaxMessageSize returns a user's message size limit, zero meaning
// unlimited. Checked before decrypting or storing an inbound payload.
func (s *PolicyStore) MaxMessageSize(ctx context.Context, userId id.Id) int64 {
	policy, err := s.ResolvePolicy(ctx, userId)
	if err != nil {
		s.logger.Error("policy resolution failed, using default message limit",
			"user", userId,
			"error", err,
		)
		return s.defaultPolicy.Message.MaxMessageSize
	}
	return policy.Message.MaxMessageSize
}

// MaxStoredBytes returns a recipient's storage quota, zero meaning
// unlimited. Implements the message store's Quota interface.
func (s *PolicyStore) MaxStoredBytes(ctx context.Context, recipient id.Id) int64 {
	policy, err := s.ResolvePolicy(ctx, recipient)
	if err != nil {
		s.logger.Error("policy resolution failed, using default storage quota",
			"user", recipient,
			"error", err,
		)
		return s.defaultPolicy.Storage.MaxStoredBytes
	}
	return policy.Storage.MaxStoredBytes
}

// authorize passes root unconditionally, then admits callers whose
// resolved policy grants IsAdmin or the specific capability.
func (s *PolicyStore) authorize(ctx context.Context, callerId id.Id, granted func(AdminPolicy) bool) error {
	if callerId == s.rootId {
		return nil
	}
	policy, err := s.ResolvePolicy(ctx, callerId)
	if err != nil {
		return err
	}
	if policy.Admin.IsAdmin || granted(policy.Admin) {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrNotAuthorized, callerId)
}

// loadPolicy reads one named policy row.
func loadPolicy(conn *sqlite.Conn, name string) (Policy, bool, error) {
	var policy Policy
	var found bool
	err := sqlitex.Execute(conn, "SELECT body FROM policies WHERE name = ?",
		&sqlitex.ExecOptions{
			Args: []any{name},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				return codec.Unmarshal(columnBytes(stmt, 0), &policy)
			},
		})
	if err != nil {
		return Policy{}, false, fmt.Errorf("relay: loading policy %q: %w", name, err)
	}
	return policy, found, nil
}

// loadAssignment reads one user's assigned policy name.
func loadAssignment(conn *sqlite.Conn, userId id.Id) (string, bool, error) {
	var name string
	var found bool
	err := sqlitex.Execute(conn,
		"SELECT policy_name FROM user_policies WHERE user_id = ?",
		&sqlitex.ExecOptions{
			Args: []any{userId[:]},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				name = stmt.ColumnText(0)
				return nil
			},
		})
	if err != nil {
		return "", false, fmt.Errorf("relay: loading policy assignment for %s: %w", userId, err)
	}
	return name, found, nil
}
