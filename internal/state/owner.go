package state

// OwnerKind distinguishes the two variants of the polymorphic owner
// (OwnerId = Job(JobId) | Crew(CrewId)).
type OwnerKind string

const (
	OwnerKindJob  OwnerKind = "job"
	OwnerKindCrew OwnerKind = "crew"
)

// Owner is the state package's lightweight rendering of OwnerId, used as
// a struct field and map value throughout agents/workspaces/decisions.
type Owner struct {
	Kind OwnerKind
	ID   string
}

func OwnerOfJob(id string) Owner  { return Owner{Kind: OwnerKindJob, ID: id} }
func OwnerOfCrew(id string) Owner { return Owner{Kind: OwnerKindCrew, ID: id} }

// String renders "kind:id", used as a deterministic map/log key.
func (o Owner) String() string { return string(o.Kind) + ":" + o.ID }

func ownerFromKindID(kind, id string) Owner {
	return Owner{Kind: OwnerKind(kind), ID: id}
}
