package domain

// ChangeSet groups the records one store mutation writes, so a persister can commit them atomically.
// A persister may overwrite NewDepartment with the durable row when the name is already taken.
type ChangeSet struct {
	NewThread         *Thread
	UpdatedThread     *Thread
	NewDepartment     *Department
	UpdatedDepartment *Department
	DeletedDepartment *Department
	Messages          []Message
}

// Snapshot is the durable state loaded at startup.
type Snapshot struct {
	Threads     []Thread
	Messages    []Message
	Departments []Department
}

// SeqSource allocates the next store-wide sequence number.
type SeqSource func() (uint64, error)

// LockedChange derives the records to commit from the durable copy of a locked thread.
type LockedChange func(current Thread, next SeqSource) (ChangeSet, error)
