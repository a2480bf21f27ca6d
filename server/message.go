package server

import (
	"encoding/json"

	"github.com/alimasry/go-docwatch/docstore"
	"github.com/alimasry/go-docwatch/store"
)

// Message types exchanged over WebSocket.
const (
	// client → server
	MsgWatch       = "watch"
	MsgUnwatch     = "unwatch"
	MsgGet         = "get"
	MsgSet         = "set"
	MsgUpdate      = "update"
	MsgDelete      = "delete"
	MsgCollections = "collections"

	// server → client
	MsgSnapshots = "snapshots"
	MsgDoc       = "doc"
	MsgAck       = "ack"
	MsgError     = "error"
)

// ClientMessage is a message from client to server.
//
// Documents are addressed by DocID, either bare and resolved against
// Collection, or qualified as "collection/path/id" when Collection is empty.
type ClientMessage struct {
	Type       string         `json:"type"`
	RequestID  string         `json:"requestId,omitempty"`
	WatchID    string         `json:"watchId,omitempty"`
	Collection string         `json:"collection,omitempty"`
	Refs       []string       `json:"refs,omitempty"`
	DocID      string         `json:"docId,omitempty"`
	Data       store.Record   `json:"data,omitempty"`
	Fields     map[string]any `json:"fields,omitempty"`
}

// ServerMessage is a message from server to client.
type ServerMessage struct {
	Type      string                     `json:"type"`
	RequestID string                     `json:"requestId,omitempty"`
	WatchID   string                     `json:"watchId,omitempty"`
	DocID     string                     `json:"docId,omitempty"`
	Doc       *DocInfo                   `json:"doc,omitempty"`
	Docs      []DocInfo                  `json:"docs,omitempty"`
	Paths     []string                   `json:"paths,omitempty"`
	Schemas   map[string]docstore.Schema `json:"schemas,omitempty"`
	Message   string                     `json:"message,omitempty"`
}

// DocInfo is the wire form of a document snapshot.
type DocInfo struct {
	ID      string       `json:"id"`
	Exists  bool         `json:"exists"`
	Loading bool         `json:"loading,omitempty"`
	Data    store.Record `json:"data,omitempty"`
}

func docInfo(s docstore.Snapshot[store.Record]) DocInfo {
	info := DocInfo{ID: s.ID, Exists: s.Exists(), Loading: s.Loading}
	if s.Data != nil {
		info.Data = *s.Data
	}
	return info
}

func docInfos(snaps []docstore.Snapshot[store.Record]) []DocInfo {
	out := make([]DocInfo, len(snaps))
	for i, s := range snaps {
		out[i] = docInfo(s)
	}
	return out
}

// Encode serializes a ServerMessage to JSON bytes.
func (m ServerMessage) Encode() []byte {
	b, _ := json.Marshal(m)
	return b
}
