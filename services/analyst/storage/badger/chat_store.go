// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

// =============================================================================
// ChatStore — Session and Turn Persistence
// =============================================================================
//
// Storage layout:
//
//	chat/session/v1/{sessionID}            →  JSON SessionRecord
//	chat/turn/v1/{sessionID}/{seq:%010d}   →  JSON TurnRecord
//
// Turn keys embed a zero-padded sequence number so a prefix iteration
// returns turns in append order without sorting. Credentials are NEVER
// written here — only the conversation text and session metadata.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

const (
	sessionKeyPrefix = "chat/session/v1/"
	turnKeyPrefix    = "chat/turn/v1/"
)

// ErrSessionNotFound is returned when a session id has no record.
var ErrSessionNotFound = errors.New("session not found")

// SessionRecord is the persisted metadata of one chat session.
type SessionRecord struct {
	ID        string    `json:"id"`
	Ticker    string    `json:"ticker"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	TurnCount int       `json:"turn_count"`
}

// TurnRecord is one persisted conversation turn.
type TurnRecord struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ChatStore persists sessions and conversation turns.
//
// Description:
//
//	Sessions survive disconnects: a client that reconnects with its
//	session id gets its history back and the conversation continues.
//	The store borrows the DB handle and does not own its lifecycle.
//
// Thread Safety: Safe for concurrent use.
type ChatStore struct {
	db *DB
}

// NewChatStore creates a chat store on an opened DB.
func NewChatStore(db *DB) *ChatStore {
	if db == nil {
		panic("NewChatStore: db must not be nil")
	}
	return &ChatStore{db: db}
}

func sessionKey(id string) []byte {
	return []byte(sessionKeyPrefix + id)
}

func turnKey(sessionID string, seq int) []byte {
	return []byte(fmt.Sprintf("%s%s/%010d", turnKeyPrefix, sessionID, seq))
}

// CreateSession creates a new session and returns its record.
//
// Inputs:
//   - ctx: Context for cancellation.
//   - ticker: The stock ticker this session analyzes.
//
// Outputs:
//   - *SessionRecord: The created session with a fresh UUID.
//   - error: Non-nil on storage failure.
func (s *ChatStore) CreateSession(ctx context.Context, ticker string) (*SessionRecord, error) {
	now := time.Now().UTC()
	record := &SessionRecord{
		ID:        uuid.NewString(),
		Ticker:    ticker,
		CreatedAt: now,
		UpdatedAt: now,
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("chat store: encode session: %w", err)
	}
	err = s.db.WithWriteTxn(ctx, func(txn *dgbadger.Txn) error {
		return txn.Set(sessionKey(record.ID), raw)
	})
	if err != nil {
		return nil, fmt.Errorf("chat store: create session: %w", err)
	}
	return record, nil
}

// GetSession loads a session record by id.
//
// Outputs:
//   - *SessionRecord: The session.
//   - error: ErrSessionNotFound when the id is unknown.
func (s *ChatStore) GetSession(ctx context.Context, id string) (*SessionRecord, error) {
	var record SessionRecord
	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		item, err := txn.Get(sessionKey(id))
		if errors.Is(err, dgbadger.ErrKeyNotFound) {
			return ErrSessionNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &record)
		})
	})
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("chat store: get session %q: %w", id, err)
	}
	return &record, nil
}

// AppendTurn appends one turn to a session and bumps its metadata.
//
// Description:
//
//	The turn's sequence number is the session's current TurnCount, so
//	turn keys sort in append order. Session record and turn are written
//	in one transaction; a concurrent append to the same session retries
//	via BadgerDB's conflict detection at the caller's discretion — the
//	session channel serializes queries, so in practice appends per
//	session are sequential.
func (s *ChatStore) AppendTurn(ctx context.Context, sessionID, role, content string) error {
	err := s.db.WithWriteTxn(ctx, func(txn *dgbadger.Txn) error {
		item, err := txn.Get(sessionKey(sessionID))
		if errors.Is(err, dgbadger.ErrKeyNotFound) {
			return ErrSessionNotFound
		}
		if err != nil {
			return err
		}
		var record SessionRecord
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &record)
		}); err != nil {
			return err
		}

		turn := TurnRecord{Role: role, Content: content, CreatedAt: time.Now().UTC()}
		turnRaw, err := json.Marshal(turn)
		if err != nil {
			return err
		}
		if err := txn.Set(turnKey(sessionID, record.TurnCount), turnRaw); err != nil {
			return err
		}

		record.TurnCount++
		record.UpdatedAt = turn.CreatedAt
		sessionRaw, err := json.Marshal(&record)
		if err != nil {
			return err
		}
		return txn.Set(sessionKey(sessionID), sessionRaw)
	})
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("chat store: append turn to %q: %w", sessionID, err)
	}
	return nil
}

// LoadTurns returns all turns of a session in append order.
func (s *ChatStore) LoadTurns(ctx context.Context, sessionID string) ([]TurnRecord, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	prefix := []byte(turnKeyPrefix + sessionID + "/")
	var turns []TurnRecord
	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var turn TurnRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &turn)
			}); err != nil {
				return err
			}
			turns = append(turns, turn)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("chat store: load turns for %q: %w", sessionID, err)
	}
	return turns, nil
}

// ListSessions returns all sessions, most recently updated first.
func (s *ChatStore) ListSessions(ctx context.Context) ([]SessionRecord, error) {
	prefix := []byte(sessionKeyPrefix)
	var sessions []SessionRecord
	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var record SessionRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &record)
			}); err != nil {
				return err
			}
			sessions = append(sessions, record)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("chat store: list sessions: %w", err)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
	return sessions, nil
}
