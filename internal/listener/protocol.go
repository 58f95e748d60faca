// Package listener implements the query/command API: a Unix
// socket (or loopback TCP with a bearer token) accepting a stream of
// newline-delimited JSON request/response frames (marshal, append
// '\n', write; read with bufio.Scanner on the other end). Every write from a client becomes an Event submitted to the
// Runtime; every read is a snapshot taken under state.View's RLock.
package listener

import (
	"encoding/json"
	"fmt"
)

// Request is the envelope every client frame arrives in: Type selects
// which concrete request struct Payload decodes into.
type Request struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response is the envelope every frame the listener writes back uses.
type Response struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	OK      bool            `json:"ok"`
	Error   *ErrorInfo      `json:"error,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ErrorInfo carries the ojerr.Category alongside a human string so a CLI
// can map it to an exit code without string-matching the message.
type ErrorInfo struct {
	Category string `json:"category"`
	Message  string `json:"message"`
}

func ok(id, typ string, payload any) Response {
	raw, err := json.Marshal(payload)
	if err != nil {
		return errResponse(id, typ, fmt.Errorf("marshal response: %w", err))
	}
	return Response{ID: id, Type: typ, OK: true, Payload: raw}
}

func errResponse(id, typ string, err error) Response {
	return Response{ID: id, Type: typ, OK: false, Error: &ErrorInfo{
		Category: string(categoryOf(err)),
		Message:  err.Error(),
	}}
}

// Request payload types. Ref
// fields accept full IDs or any unambiguous >=4-char prefix,
// resolved against ids.Resolver before becoming an event.

type HelloRequest struct {
	Version int `json:"version"`
}

type RunCommandRequest struct {
	Project string            `json:"project"`
	Cwd     string            `json:"cwd"`
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Vars    map[string]string `json:"vars,omitempty"`
}

// JobRefRequest addresses one job by Ref, several by Refs, or every
// eligible job with All (for resume, cancel and suspend). Bulk forms return a partition
// summary instead of a single id.
type JobRefRequest struct {
	Ref     string            `json:"ref,omitempty"`
	Refs    []string          `json:"refs,omitempty"`
	All     bool              `json:"all,omitempty"`
	Message string            `json:"message,omitempty"`
	Vars    map[string]string `json:"vars,omitempty"`
	Kill    bool              `json:"kill,omitempty"`
}

// BulkSummary partitions a bulk operation's inputs by outcome.
type BulkSummary struct {
	OK       []string `json:"ok"`
	Skipped  []string `json:"skipped"`
	NotFound []string `json:"not_found"`
}

type JobListRequest struct {
	Project string `json:"project,omitempty"`
	All     bool   `json:"all,omitempty"`
}

type JobPruneRequest struct {
	Project string `json:"project,omitempty"`
}

type AgentSendRequest struct {
	Ref   string `json:"ref"`
	Input string `json:"input"`
}

type AgentRefRequest struct {
	Ref string `json:"ref"`
}

type AgentResumeRequest struct {
	Ref     string `json:"ref"`
	Message string `json:"message,omitempty"`
}

type WorkerStartRequest struct {
	Project string `json:"project"`
	Name    string `json:"name"`
}

type WorkerStopRequest struct {
	Project string `json:"project"`
	Name    string `json:"name"`
}

type WorkerListRequest struct {
	Project string `json:"project,omitempty"`
}

type CronStartRequest struct {
	Project string `json:"project"`
	Name    string `json:"name"`
}

type CronStopRequest struct {
	Project string `json:"project"`
	Name    string `json:"name"`
}

type CronOnceRequest struct {
	Project string `json:"project"`
	Name    string `json:"name"`
}

type CronListRequest struct {
	Project string `json:"project,omitempty"`
}

type QueuePushRequest struct {
	Project string            `json:"project"`
	Queue   string            `json:"queue"`
	Data    map[string]string `json:"data"`
}

type QueueListRequest struct {
	Project string `json:"project"`
	Queue   string `json:"queue"`
}

type QueueItemRequest struct {
	Project string `json:"project"`
	Queue   string `json:"queue"`
	ItemID  string `json:"item_id"`
}

// QueueDrainRequest removes every pending item from a queue.
type QueueDrainRequest struct {
	Project string `json:"project"`
	Queue   string `json:"queue"`
}

// QueuePruneRequest removes finished (completed or dead) items.
type QueuePruneRequest struct {
	Project string `json:"project"`
	Queue   string `json:"queue"`
}

// CrewPruneRequest deletes terminal standalone-agent runs and their
// agent records.
type CrewPruneRequest struct {
	Project string `json:"project,omitempty"`
}

type WorkspaceListRequest struct {
	Project string `json:"project,omitempty"`
}

type WorkspaceDropRequest struct {
	Ref string `json:"ref"`
}

type DecisionResolveRequest struct {
	Ref     string   `json:"ref"`
	Choices []string `json:"choices"`
	Message string   `json:"message,omitempty"`
}

// QueryRequest is the catch-all read path: Kind selects the entity
// collection, Ref optionally narrows it (for "queues", Ref is the
// "project/queue" scoped name).
type QueryRequest struct {
	Kind string `json:"kind"` // jobs|agents|workers|crons|queues|workspaces|decisions|status
	Ref  string `json:"ref,omitempty"`
}
