package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/cadmalab/flowstore/internal/docval"
	"github.com/cadmalab/flowstore/internal/flow"
)

// metaView is the JSON-facing shape of flow metadata.
type metaView struct {
	ID           string        `json:"id"`
	Name         string        `json:"name,omitempty"`
	Status       string        `json:"status,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	Cursor       int64         `json:"cursor"`
	Version      int64         `json:"version"`
	ParentID     string        `json:"parent_flow_id,omitempty"`
	ParentCursor *int64        `json:"parent_cursor,omitempty"`
	Metadata     docval.Object `json:"metadata,omitempty"`
}

func viewMeta(m flow.Meta) metaView {
	v := metaView{
		ID:        m.ID,
		Name:      m.Name,
		Status:    m.Status,
		CreatedAt: m.CreatedAt.UTC(),
		Cursor:    m.Cursor,
		Version:   m.Version,
		ParentID:  m.ParentID,
		Metadata:  m.Metadata,
	}
	if m.IsBranch() {
		pc := m.ParentCursor
		v.ParentCursor = &pc
	}
	return v
}

func (v metaView) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "id:      %s\n", v.ID)
	if v.Name != "" {
		fmt.Fprintf(&b, "name:    %s\n", v.Name)
	}
	if v.Status != "" {
		fmt.Fprintf(&b, "status:  %s\n", v.Status)
	}
	fmt.Fprintf(&b, "cursor:  %d\n", v.Cursor)
	fmt.Fprintf(&b, "version: %d\n", v.Version)
	if v.ParentID != "" {
		fmt.Fprintf(&b, "parent:  %s @ %d\n", v.ParentID, *v.ParentCursor)
	}
	fmt.Fprintf(&b, "created: %s", v.CreatedAt.Format(time.RFC3339))
	return b.String()
}

// recordView is the JSON-facing shape of one record.
type recordView struct {
	ID        string        `json:"id"`
	Cursor    int64         `json:"cursor"`
	Key       string        `json:"key"`
	Payload   docval.Object `json:"payload"`
	Metadata  docval.Object `json:"metadata,omitempty"`
	CommandID string        `json:"command_id,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

func viewRecord(r flow.Record) recordView {
	return recordView{
		ID:        r.ID,
		Cursor:    r.Cursor,
		Key:       r.Key,
		Payload:   r.Payload,
		Metadata:  r.Metadata,
		CommandID: r.CommandID,
		CreatedAt: r.CreatedAt.UTC(),
	}
}

func renderRecords(records []flow.Record) string {
	if len(records) == 0 {
		return "no records"
	}
	var b strings.Builder
	for i, r := range records {
		if i > 0 {
			b.WriteByte('\n')
		}
		payload, err := docval.MarshalCanonical(r.Payload)
		if err != nil {
			payload = []byte("<unencodable>")
		}
		fmt.Fprintf(&b, "%4d  %-30s %s", r.Cursor, r.Key, payload)
	}
	return b.String()
}

// parseDoc parses a command-line JSON object argument. An empty string
// yields nil so the repository's "absent" semantics apply.
func parseDoc(arg string) (docval.Object, error) {
	if arg == "" {
		return nil, nil
	}
	obj, err := docval.DecodeObject([]byte(arg))
	if err != nil {
		return nil, fmt.Errorf("parse JSON object: %w", err)
	}
	return obj, nil
}
