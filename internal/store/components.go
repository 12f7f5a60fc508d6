package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lerndmina/Heimdall-sub000/internal/components"
)

const componentColumns = `custom_id, handler_id, component_type, metadata, message_id, channel_id, guild_id, created_at`

func scanComponent(scanner rowScanner) (components.Record, error) {
	var (
		rec                         components.Record
		kind                        string
		metadata                    sql.NullString
		messageID, channelID, guild sql.NullString
		createdAt                   string
	)
	if err := scanner.Scan(&rec.CustomID, &rec.HandlerID, &kind, &metadata, &messageID, &channelID, &guild, &createdAt); err != nil {
		return rec, err
	}
	md, err := DecodeJSON[map[string]any](metadata)
	if err != nil {
		return rec, fmt.Errorf("decode metadata for %s: %w", rec.CustomID, err)
	}
	rec.ComponentType = components.Kind(kind)
	rec.Metadata = md
	rec.MessageID = messageID.String
	rec.ChannelID = channelID.String
	rec.GuildID = guild.String
	rec.CreatedAt = parseTime(createdAt)
	return rec, nil
}

// SaveComponent inserts or replaces a persistent component binding.
func (s *Store) SaveComponent(ctx context.Context, rec components.Record) error {
	if rec.CustomID == "" || rec.HandlerID == "" {
		return errors.New("store: component requires custom id and handler id")
	}
	metadata, err := encodeJSON(rec.Metadata, nullWhenEmptyMap[string, any])
	if err != nil {
		return fmt.Errorf("store: encode component metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO persistent_components (`+componentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (custom_id) DO UPDATE SET
			handler_id = excluded.handler_id,
			component_type = excluded.component_type,
			metadata = excluded.metadata,
			message_id = excluded.message_id,
			channel_id = excluded.channel_id,
			guild_id = excluded.guild_id`),
		rec.CustomID, rec.HandlerID, string(rec.ComponentType), metadata,
		nullString(rec.MessageID), nullString(rec.ChannelID), nullString(rec.GuildID),
		formatTime(rec.CreatedAt))
	if err != nil {
		return fmt.Errorf("store: save component %s: %w", rec.CustomID, err)
	}
	return nil
}

// GetComponent loads one binding; ok is false when it does not exist.
func (s *Store) GetComponent(ctx context.Context, customID string) (components.Record, bool, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+componentColumns+` FROM persistent_components WHERE custom_id = ?`), customID)
	rec, err := scanComponent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return components.Record{}, false, nil
	}
	if err != nil {
		return components.Record{}, false, fmt.Errorf("store: get component %s: %w", customID, err)
	}
	return rec, true, nil
}

// ListComponents returns every persistent binding.
func (s *Store) ListComponents(ctx context.Context) ([]components.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+componentColumns+` FROM persistent_components ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("store: list components: %w", err)
	}
	return scanList(rows, scanComponent, "store: scan component", "store: iterate components")
}

// AttachComponentMessage records the message context of a binding.
func (s *Store) AttachComponentMessage(ctx context.Context, customID, guildID, channelID, messageID string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE persistent_components
		SET guild_id = ?, channel_id = ?, message_id = ?
		WHERE custom_id = ?`),
		nullString(guildID), nullString(channelID), nullString(messageID), customID)
	if err != nil {
		return fmt.Errorf("store: attach component %s: %w", customID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return NotFoundError{Entity: "component", Key: customID}
	}
	return nil
}

// DeleteComponent removes one binding. Deleting a missing binding is not an error.
func (s *Store) DeleteComponent(ctx context.Context, customID string) error {
	if _, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM persistent_components WHERE custom_id = ?`), customID); err != nil {
		return fmt.Errorf("store: delete component %s: %w", customID, err)
	}
	return nil
}

// DeleteComponentsByMessage removes every binding posted in messageID and
// returns their ids.
func (s *Store) DeleteComponentsByMessage(ctx context.Context, messageID string) ([]string, error) {
	return s.deleteComponentsWhere(ctx, "message_id", messageID)
}

// DeleteComponentsByChannel removes every binding posted in channelID and
// returns their ids.
func (s *Store) DeleteComponentsByChannel(ctx context.Context, channelID string) ([]string, error) {
	return s.deleteComponentsWhere(ctx, "channel_id", channelID)
}

func (s *Store) deleteComponentsWhere(ctx context.Context, column, value string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`DELETE FROM persistent_components WHERE `+column+` = ? RETURNING custom_id`), value)
	if err != nil {
		return nil, fmt.Errorf("store: delete components by %s: %w", column, err)
	}
	return scanList(rows, func(sc rowScanner) (string, error) {
		var id string
		err := sc.Scan(&id)
		return id, err
	}, "store: scan deleted component", "store: iterate deleted components")
}

var _ components.Store = (*Store)(nil)
