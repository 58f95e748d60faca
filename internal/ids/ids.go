// Package ids defines the daemon's opaque identifier types and the
// prefix-resolution helper the Listener uses to let CLI clients refer to
// entities by a short, unambiguous prefix.
package ids

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// JobID, AgentID, CrewID, WorkspaceID, SessionID, DecisionID, and TimerID
// are distinct string newtypes. They are all opaque strings by
// contract; the Go type distinction exists purely to prevent accidentally
// passing one kind of ID where another is expected.
type (
	JobID       string
	AgentID     string
	CrewID      string
	WorkspaceID string
	SessionID   string
	DecisionID  string
	TimerID     string
)

// ShortLen is the display length used for short-form IDs.
const ShortLen = 8

// MinPrefixLen is the minimum prefix length accepted for CLI-friendly
// lookups.
const MinPrefixLen = 4

func newID() string {
	return uuid.NewString()
}

func NewJobID() JobID             { return JobID(newID()) }
func NewAgentID() AgentID         { return AgentID(newID()) }
func NewCrewID() CrewID           { return CrewID(newID()) }
func NewWorkspaceID() WorkspaceID { return WorkspaceID(newID()) }
func NewSessionID() SessionID     { return SessionID(newID()) }
func NewDecisionID() DecisionID   { return DecisionID(newID()) }

// Short returns the first ShortLen characters of id, for display.
func Short(id string) string {
	if len(id) <= ShortLen {
		return id
	}
	return id[:ShortLen]
}

// OwnerKind distinguishes the two variants of OwnerId (the polymorphic
// owner of agents/decisions/workspaces).
type OwnerKind string

const (
	OwnerJob  OwnerKind = "job"
	OwnerCrew OwnerKind = "crew"
)

// OwnerID is the tagged Job(JobId) | Crew(CrewId) union. Only one
// of JobID/CrewID is meaningful, selected by Kind.
type OwnerID struct {
	Kind   OwnerKind
	JobID  JobID
	CrewID CrewID
}

func OwnerOfJob(id JobID) OwnerID   { return OwnerID{Kind: OwnerJob, JobID: id} }
func OwnerOfCrew(id CrewID) OwnerID { return OwnerID{Kind: OwnerCrew, CrewID: id} }

// String returns the underlying entity ID regardless of kind, for use as
// a map key or log field.
func (o OwnerID) String() string {
	switch o.Kind {
	case OwnerJob:
		return string(o.JobID)
	case OwnerCrew:
		return string(o.CrewID)
	default:
		return ""
	}
}

// TimerKey builds a TimerId string from a TimerKind (event.TimerKind's
// string value) and its owning parts, prefix-tagged so TimerStart{id}
// can be routed without a side table.
func TimerKey(kind string, parts ...string) TimerID {
	return TimerID(kind + ":" + strings.Join(parts, ":"))
}

// ParseTimerKind splits a TimerId into its leading kind tag and the
// remaining colon-joined parts.
func ParseTimerKind(id string) (kind string, rest string) {
	i := strings.IndexByte(id, ':')
	if i < 0 {
		return id, ""
	}
	return id[:i], id[i+1:]
}

// Resolver resolves a (possibly short) ID prefix to the single matching
// full ID, implementing the "unique prefixes of >= 4 chars must resolve
// to a single entity" contract.
type Resolver struct {
	// All are the full IDs of one entity kind currently known to state.
	All []string
}

// ErrAmbiguous is returned when a prefix matches more than one ID.
type ErrAmbiguous struct {
	Prefix  string
	Matches []string
}

func (e *ErrAmbiguous) Error() string {
	return fmt.Sprintf("prefix %q is ambiguous: matches %s", e.Prefix, strings.Join(e.Matches, ", "))
}

// ErrNoMatch is returned when a prefix matches no known ID.
type ErrNoMatch struct {
	Prefix string
}

func (e *ErrNoMatch) Error() string {
	return fmt.Sprintf("no entity matches prefix %q", e.Prefix)
}

// Resolve finds the single full ID that prefix uniquely identifies.
// An exact full-length match always wins even if, pathologically, it is
// also a prefix of another ID: the exact-match pass runs before any
// prefix matching, and an input shorter than MinPrefixLen that matches
// no ID exactly is rejected.
func (r Resolver) Resolve(prefix string) (string, error) {
	for _, id := range r.All {
		if id == prefix {
			return id, nil
		}
	}
	if len(prefix) < MinPrefixLen {
		return "", &ErrNoMatch{Prefix: prefix}
	}
	var matches []string
	for _, id := range r.All {
		if strings.HasPrefix(id, prefix) {
			matches = append(matches, id)
		}
	}
	switch len(matches) {
	case 0:
		return "", &ErrNoMatch{Prefix: prefix}
	case 1:
		return matches[0], nil
	default:
		return "", &ErrAmbiguous{Prefix: prefix, Matches: matches}
	}
}
