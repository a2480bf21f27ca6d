package server

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/alimasry/go-docwatch/docstore"
	"github.com/alimasry/go-docwatch/logger"
	"github.com/alimasry/go-docwatch/reactive"
	"github.com/alimasry/go-docwatch/store"
)

// watch is one WatchDocs handle opened by a client.
type watch struct {
	collection string
	refs       *reactive.Value[[]string]
	handle     *reactive.Handle[[]docstore.Snapshot[store.Record]]
	cancel     func()
}

func (w *watch) stop() {
	w.cancel()
	w.handle.Stop()
}

// Session serves the requests of one client. All requests are handled by a
// single goroutine, in arrival order; snapshots are pushed from backend
// goroutines.
type Session struct {
	hub    *Hub
	client *Client
	log    logger.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	watches map[string]*watch

	incoming chan ClientMessage
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func newSession(hub *Hub, c *Client) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		hub:      hub,
		client:   c,
		log:      c.log,
		ctx:      ctx,
		cancel:   cancel,
		watches:  make(map[string]*watch),
		incoming: make(chan ClientMessage, 64),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run is the session's main loop. It serializes all requests.
func (s *Session) Run() {
	defer close(s.done)
	defer s.closeWatches()
	for {
		select {
		case msg := <-s.incoming:
			s.handle(msg)
		case <-s.stop:
			return
		}
	}
}

// Close stops the session and waits for its loop to exit. Open watches are
// stopped.
func (s *Session) Close() {
	s.stopOnce.Do(func() {
		s.cancel()
		close(s.stop)
	})
	<-s.done
}

func (s *Session) handle(msg ClientMessage) {
	switch msg.Type {
	case MsgWatch:
		s.handleWatch(msg)
	case MsgUnwatch:
		s.handleUnwatch(msg)
	case MsgGet:
		s.handleGet(msg)
	case MsgSet:
		s.handleSet(msg)
	case MsgUpdate:
		s.handleUpdate(msg)
	case MsgDelete:
		s.handleDelete(msg)
	case MsgCollections:
		s.client.sendMsg(ServerMessage{
			Type:      MsgCollections,
			RequestID: msg.RequestID,
			Paths:     s.hub.registry.Paths(),
			Schemas:   s.hub.registry.Schemas(),
		})
	default:
		s.client.sendError(msg.RequestID, "unknown message type: "+msg.Type)
	}
}

// handleWatch opens a watch, or replaces the references of an existing one.
func (s *Session) handleWatch(msg ClientMessage) {
	if msg.WatchID == "" {
		s.client.sendError(msg.RequestID, "watchId is required")
		return
	}
	if w, ok := s.watches[msg.WatchID]; ok {
		if w.collection == msg.Collection {
			w.refs.Set(msg.Refs)
			return
		}
		w.stop()
		delete(s.watches, msg.WatchID)
	}

	refs := reactive.NewValue(msg.Refs)
	h := docstore.WatchDocs[store.Record](s.hub.registry,
		func() ([]docstore.Ref, error) {
			ids := refs.Get()
			out := make([]docstore.Ref, len(ids))
			for i, id := range ids {
				out[i] = docstore.ID(id)
			}
			return out, nil
		},
		docstore.InCollection(msg.Collection),
		docstore.WithDebounce(s.hub.debounce),
		docstore.DependsOn(refs),
	)

	// mu orders the initial send against listener sends so a client never
	// receives an older list after a newer one.
	var mu sync.Mutex
	watchID := msg.WatchID
	publish := func(snaps []docstore.Snapshot[store.Record]) {
		m := ServerMessage{Type: MsgSnapshots, WatchID: watchID, Docs: docInfos(snaps)}
		if err := h.Err(); err != nil {
			m.Message = err.Error()
		}
		s.client.sendMsg(m)
	}
	cancel := h.Listen(func(snaps []docstore.Snapshot[store.Record]) {
		mu.Lock()
		defer mu.Unlock()
		publish(snaps)
	})
	mu.Lock()
	publish(h.Get())
	mu.Unlock()

	s.watches[watchID] = &watch{collection: msg.Collection, refs: refs, handle: h, cancel: cancel}
	s.log.Debug("watch opened", zap.String("watch", watchID), zap.String("collection", msg.Collection))
}

func (s *Session) handleUnwatch(msg ClientMessage) {
	w, ok := s.watches[msg.WatchID]
	if !ok {
		s.client.sendError(msg.RequestID, "unknown watch: "+msg.WatchID)
		return
	}
	w.stop()
	delete(s.watches, msg.WatchID)
	s.ack(msg, msg.DocID)
}

func (s *Session) closeWatches() {
	for id, w := range s.watches {
		w.stop()
		delete(s.watches, id)
	}
}

func (s *Session) doc(msg ClientMessage) docstore.Doc[store.Record] {
	id := msg.DocID
	return docstore.DocAt[store.Record](s.hub.registry, func() docstore.Ref { return docstore.ID(id) }, msg.Collection)
}

func (s *Session) handleGet(msg ClientMessage) {
	d := s.doc(msg)
	data, err := d.Get(s.ctx)
	if err != nil {
		s.fail(msg, err)
		return
	}
	info := DocInfo{ID: d.ID(), Exists: data != nil}
	if data != nil {
		info.Data = *data
	}
	s.client.sendMsg(ServerMessage{Type: MsgDoc, RequestID: msg.RequestID, DocID: msg.DocID, Doc: &info})
}

// handleSet writes msg.Data. Without a docId the document is added with a
// generated id, which is returned in the ack.
func (s *Session) handleSet(msg ClientMessage) {
	if msg.Data == nil {
		s.client.sendError(msg.RequestID, "data is required")
		return
	}
	if msg.DocID == "" {
		c, err := docstore.Lookup[store.Record](s.hub.registry, msg.Collection)
		if err != nil {
			s.fail(msg, err)
			return
		}
		d, err := c.Add(s.ctx, msg.Data)
		if err != nil {
			s.fail(msg, err)
			return
		}
		s.ack(msg, d.ID())
		return
	}
	if err := s.doc(msg).Set(s.ctx, msg.Data); err != nil {
		s.fail(msg, err)
		return
	}
	s.ack(msg, msg.DocID)
}

func (s *Session) handleUpdate(msg ClientMessage) {
	if len(msg.Fields) == 0 {
		s.client.sendError(msg.RequestID, "fields are required")
		return
	}
	if err := s.doc(msg).Update(s.ctx, msg.Fields); err != nil {
		s.fail(msg, err)
		return
	}
	s.ack(msg, msg.DocID)
}

func (s *Session) handleDelete(msg ClientMessage) {
	if err := s.doc(msg).Delete(s.ctx); err != nil {
		s.fail(msg, err)
		return
	}
	s.ack(msg, msg.DocID)
}

func (s *Session) ack(msg ClientMessage, docID string) {
	s.client.sendMsg(ServerMessage{Type: MsgAck, RequestID: msg.RequestID, WatchID: msg.WatchID, DocID: docID})
}

func (s *Session) fail(msg ClientMessage, err error) {
	if !errors.Is(err, context.Canceled) {
		s.log.Warn("request failed", zap.String("type", msg.Type), zap.String("doc", msg.DocID), zap.Error(err))
	}
	s.client.sendError(msg.RequestID, err.Error())
}
