// Package session contains the agent execution engine: the per-turn agent
// loop, stream processing, context compaction, and the coordinator that
// serializes user turns.
package session

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/bladecode/blade/internal/event"
	"github.com/bladecode/blade/internal/fileaccess"
	"github.com/bladecode/blade/internal/permission"
	"github.com/bladecode/blade/internal/provider"
	"github.com/bladecode/blade/internal/snapshot"
	"github.com/bladecode/blade/internal/storage"
	"github.com/bladecode/blade/internal/tool"
	"github.com/bladecode/blade/pkg/types"
)

// Processor drives sessions: it owns persistence and orchestrates the agent
// loop over the provider registry and tool dispatcher.
type Processor struct {
	storage    *storage.Storage
	providers  *provider.Registry
	dispatcher *tool.Dispatcher
	checker    *permission.Checker
	tracker    *fileaccess.Tracker
	bus        *event.Bus

	cfg          *types.Config
	snapshotBase string
	workspace    string
}

// ProcessorOptions bundles the processor's collaborators; all are explicit,
// injectable services.
type ProcessorOptions struct {
	Storage      *storage.Storage
	Providers    *provider.Registry
	Dispatcher   *tool.Dispatcher
	Checker      *permission.Checker
	Tracker      *fileaccess.Tracker
	Bus          *event.Bus
	Config       *types.Config
	SnapshotBase string
	Workspace    string
}

// NewProcessor creates a session processor.
func NewProcessor(opts ProcessorOptions) *Processor {
	cfg := opts.Config
	if cfg == nil {
		cfg = &types.Config{PermissionMode: types.ModeDefault}
	}
	return &Processor{
		storage:      opts.Storage,
		providers:    opts.Providers,
		dispatcher:   opts.Dispatcher,
		checker:      opts.Checker,
		tracker:      opts.Tracker,
		bus:          opts.Bus,
		cfg:          cfg,
		snapshotBase: opts.SnapshotBase,
		workspace:    opts.Workspace,
	}
}

var (
	idMu      sync.Mutex
	idEntropy = ulid.Monotonic(rand.Reader, 0)
)

// NewID generates a ULID for sessions, messages, and calls. Monotonic
// entropy keeps ids generated within the same millisecond in order, which
// the storage scan relies on for the message log.
func NewID() string {
	idMu.Lock()
	defer idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), idEntropy).String()
}

// CreateSession starts a new session rooted in the workspace.
func (p *Processor) CreateSession(ctx context.Context) (*types.Session, error) {
	now := time.Now().UnixMilli()
	sess := &types.Session{
		ID:             NewID(),
		Directory:      p.workspace,
		PermissionMode: p.cfg.PermissionMode,
		Time:           types.SessionTime{Created: now, Updated: now},
	}
	if p.snapshotBase != "" {
		sess.SnapshotRoot = snapshot.SessionDir(p.snapshotBase, sess.ID)
	}

	if err := p.saveSession(ctx, sess); err != nil {
		return nil, err
	}
	if p.bus != nil {
		p.bus.Publish(event.Event{Type: event.SessionCreated, Data: event.SessionData{Info: sess}})
	}
	return sess, nil
}

// LoadSession retrieves a persisted session.
func (p *Processor) LoadSession(ctx context.Context, id string) (*types.Session, error) {
	var sess types.Session
	if err := p.storage.Get(ctx, []string{"session", id}, &sess); err != nil {
		return nil, fmt.Errorf("session not found: %w", err)
	}
	return &sess, nil
}

func (p *Processor) saveSession(ctx context.Context, sess *types.Session) error {
	sess.Time.Updated = time.Now().UnixMilli()
	return p.storage.Put(ctx, []string{"session", sess.ID}, sess)
}

// Messages loads the ordered message log of a session.
func (p *Processor) Messages(ctx context.Context, sessionID string) ([]*types.Message, error) {
	var messages []*types.Message
	err := p.storage.Scan(ctx, []string{"message", sessionID}, func(key string, data json.RawMessage) error {
		var msg types.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			return err
		}
		messages = append(messages, &msg)
		return nil
	})
	return messages, err
}

// appendMessage persists a message; ULID keys keep scan order equal to
// creation order.
func (p *Processor) appendMessage(ctx context.Context, msg *types.Message) error {
	if msg.ID == "" {
		msg.ID = NewID()
	}
	if msg.Time.Created == 0 {
		msg.Time.Created = time.Now().UnixMilli()
	}
	if err := p.storage.Put(ctx, []string{"message", msg.SessionID, msg.ID}, msg); err != nil {
		return err
	}
	if p.bus != nil {
		p.bus.Publish(event.Event{Type: event.MessageCreated, Data: event.MessageData{Info: msg}})
	}
	return nil
}

func (p *Processor) updateMessage(ctx context.Context, msg *types.Message) error {
	now := time.Now().UnixMilli()
	msg.Time.Updated = &now
	if err := p.storage.Put(ctx, []string{"message", msg.SessionID, msg.ID}, msg); err != nil {
		return err
	}
	if p.bus != nil {
		p.bus.Publish(event.Event{Type: event.MessageUpdated, Data: event.MessageData{Info: msg}})
	}
	return nil
}

// replaceMessages swaps a session's whole log (compaction).
func (p *Processor) replaceMessages(ctx context.Context, sessionID string, messages []*types.Message) error {
	if err := p.storage.DeleteAll(ctx, []string{"message", sessionID}); err != nil {
		return err
	}
	for _, msg := range messages {
		msg.ID = NewID() // fresh ULIDs preserve the new ordering
		if err := p.storage.Put(ctx, []string{"message", sessionID, msg.ID}, msg); err != nil {
			return err
		}
	}
	return nil
}

// ClearSession wipes the message log and per-session state.
func (p *Processor) ClearSession(ctx context.Context, sess *types.Session) error {
	if err := p.storage.DeleteAll(ctx, []string{"message", sess.ID}); err != nil {
		return err
	}
	if p.tracker != nil {
		p.tracker.ClearSession(sess.ID)
	}
	sess.Tokens = types.TokenUsage{}
	return p.saveSession(ctx, sess)
}

// WriteRecording exports the session transcript to recordings/<id>.json.
func (p *Processor) WriteRecording(ctx context.Context, sess *types.Session, recordingsDir string) error {
	messages, err := p.Messages(ctx, sess.ID)
	if err != nil {
		return err
	}
	recording := struct {
		Session  *types.Session   `json:"session"`
		Messages []*types.Message `json:"messages"`
	}{Session: sess, Messages: messages}

	rec := storage.New(recordingsDir)
	return rec.Put(ctx, []string{sess.ID}, recording)
}

// snapshotStore returns the per-session snapshot store.
func (p *Processor) snapshotStore(sess *types.Session) *snapshot.Store {
	if p.snapshotBase == "" {
		return nil
	}
	return snapshot.NewStore(p.snapshotBase, sess.ID)
}
