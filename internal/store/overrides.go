package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lerndmina/Heimdall-sub000/internal/permissions"
)

var _ permissions.OverrideSource = (*Store)(nil)

func scanRoleOverride(scanner rowScanner) (permissions.RoleOverride, error) {
	var (
		ov        permissions.RoleOverride
		raw       sql.NullString
		updatedAt string
	)
	if err := scanner.Scan(&ov.GuildID, &ov.RoleID, &raw, &updatedAt); err != nil {
		return ov, err
	}
	values, err := DecodeJSON[map[string]permissions.Decision](raw)
	if err != nil {
		return ov, fmt.Errorf("decode overrides for role %s: %w", ov.RoleID, err)
	}
	if values == nil {
		values = map[string]permissions.Decision{}
	}
	ov.Values = values
	ov.UpdatedAt = parseTime(updatedAt)
	return ov, nil
}

// ListRoleOverrides returns every override record of a guild.
func (s *Store) ListRoleOverrides(ctx context.Context, guildID string) ([]permissions.RoleOverride, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT guild_id, role_id, overrides, updated_at
		FROM role_overrides
		WHERE guild_id = ?
		ORDER BY role_id`), guildID)
	if err != nil {
		return nil, fmt.Errorf("store: list role overrides: %w", err)
	}
	return scanList(rows, scanRoleOverride, "store: scan role override", "store: iterate role overrides")
}

// GetRoleOverride returns one role's override record.
func (s *Store) GetRoleOverride(ctx context.Context, guildID, roleID string) (permissions.RoleOverride, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT guild_id, role_id, overrides, updated_at
		FROM role_overrides
		WHERE guild_id = ? AND role_id = ?`), guildID, roleID)
	ov, err := scanRoleOverride(row)
	if errors.Is(err, sql.ErrNoRows) {
		return permissions.RoleOverride{}, NotFoundError{Entity: "role override", Key: guildID + "/" + roleID}
	}
	if err != nil {
		return permissions.RoleOverride{}, fmt.Errorf("store: get role override: %w", err)
	}
	return ov, nil
}

// PutRoleOverride validates and upserts a role's override record. An empty
// value map deletes the record.
func (s *Store) PutRoleOverride(ctx context.Context, ov permissions.RoleOverride) error {
	if strings.TrimSpace(ov.GuildID) == "" || strings.TrimSpace(ov.RoleID) == "" {
		return errors.New("store: role override requires guild and role")
	}
	for key, decision := range ov.Values {
		if strings.TrimSpace(key) == "" {
			return errors.New("store: role override has an empty key")
		}
		if !decision.Valid() {
			return fmt.Errorf("store: role override %s has invalid decision %q", key, decision)
		}
	}
	if len(ov.Values) == 0 {
		return s.DeleteRoleOverride(ctx, ov.GuildID, ov.RoleID)
	}

	payload, err := encodeJSON(ov.Values, nullWhenEmptyMap[string, permissions.Decision])
	if err != nil {
		return fmt.Errorf("store: encode role override: %w", err)
	}

	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO role_overrides (guild_id, role_id, overrides, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (guild_id, role_id) DO UPDATE SET
			overrides = excluded.overrides,
			updated_at = excluded.updated_at`),
		ov.GuildID, ov.RoleID, payload, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("store: put role override: %w", err)
	}
	return nil
}

// DeleteRoleOverride removes a role's override record.
func (s *Store) DeleteRoleOverride(ctx context.Context, guildID, roleID string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM role_overrides WHERE guild_id = ? AND role_id = ?`), guildID, roleID)
	if err != nil {
		return fmt.Errorf("store: delete role override: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return NotFoundError{Entity: "role override", Key: guildID + "/" + roleID}
	}
	return nil
}

// ReplaceRoleOverrides atomically replaces every override record of a guild.
func (s *Store) ReplaceRoleOverrides(ctx context.Context, guildID string, overrides []permissions.RoleOverride) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM role_overrides WHERE guild_id = ?`), guildID); err != nil {
			return fmt.Errorf("store: clear role overrides: %w", err)
		}
		now := formatTime(time.Now())
		for _, ov := range overrides {
			if len(ov.Values) == 0 {
				continue
			}
			for key, decision := range ov.Values {
				if !decision.Valid() {
					return fmt.Errorf("store: role override %s has invalid decision %q", key, decision)
				}
			}
			payload, err := encodeJSON(ov.Values, nullWhenEmptyMap[string, permissions.Decision])
			if err != nil {
				return fmt.Errorf("store: encode role override: %w", err)
			}
			if _, err := tx.ExecContext(ctx, s.rebind(`
				INSERT INTO role_overrides (guild_id, role_id, overrides, updated_at)
				VALUES (?, ?, ?, ?)`), guildID, ov.RoleID, payload, now); err != nil {
				return fmt.Errorf("store: insert role override %s: %w", ov.RoleID, err)
			}
		}
		return nil
	})
}
