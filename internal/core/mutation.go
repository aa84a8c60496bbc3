package core

import (
	"fmt"
	"slices"
	"time"

	"github.com/valter-silva-au/tasksync/pkg/models"
)

// MutationKind identifies the kind of optimistic mutation.
type MutationKind string

const (
	MutationCreate MutationKind = "create"
	MutationUpdate MutationKind = "update"
	MutationDelete MutationKind = "delete"
)

// Phase is the lifecycle state of a Transaction.
type Phase int

const (
	PhaseIdle Phase = iota
	PhasePending
	PhaseSucceeded
	PhaseFailed
	// PhaseSuperseded marks a transaction whose outcome was discarded because
	// a newer mutation on the same task was issued.
	PhaseSuperseded
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhasePending:
		return "pending"
	case PhaseSucceeded:
		return "succeeded"
	case PhaseFailed:
		return "failed"
	case PhaseSuperseded:
		return "superseded"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// entitySnapshot is the cache content for one task id taken before a
// mutation was applied.
type entitySnapshot struct {
	present    bool
	task       models.Task
	index      int
	hasDetail  bool
	detail     models.Task
	listLoaded bool
}

// Transaction is one optimistic mutation. Apply changes the cache, then
// exactly one of Commit, Rollback or Supersede settles it.
type Transaction struct {
	Kind   MutationKind
	ID     string
	Draft  models.TaskDraft
	Update models.TaskUpdate

	phase      Phase
	before     entitySnapshot
	optimistic models.Task
	server     *models.Task
	failed     bool
	now        time.Time
}

// NewCreateTransaction returns a create of draft under the temporary id.
func NewCreateTransaction(tempID string, draft models.TaskDraft, now time.Time) *Transaction {
	return &Transaction{Kind: MutationCreate, ID: tempID, Draft: draft, now: now}
}

// NewUpdateTransaction returns a partial update of task id.
func NewUpdateTransaction(id string, update models.TaskUpdate) *Transaction {
	return &Transaction{Kind: MutationUpdate, ID: id, Update: update}
}

// NewDeleteTransaction returns a removal of task id.
func NewDeleteTransaction(id string) *Transaction {
	return &Transaction{Kind: MutationDelete, ID: id}
}

// Phase returns the current phase.
func (tx *Transaction) Phase() Phase {
	return tx.phase
}

// Optimistic returns the task as it was written to the cache by Apply. It is
// the zero Task for deletes and for updates of uncached tasks.
func (tx *Transaction) Optimistic() models.Task {
	return tx.optimistic
}

// Apply snapshots the affected entity and writes the optimistic change.
func (tx *Transaction) Apply(st *CacheState) {
	if tx.phase != PhaseIdle {
		return
	}
	tx.before = captureEntity(st, tx.ID)

	switch tx.Kind {
	case MutationCreate:
		tx.optimistic = models.Task{
			ID:          tx.ID,
			Title:       tx.Draft.Title,
			Description: tx.Draft.Description,
			Priority:    tx.Draft.Priority,
			Completed:   tx.Draft.Completed,
			CreatedAt:   tx.now.UTC().Format(time.RFC3339),
			DueDate:     tx.Draft.DueDate,
		}
		if tx.optimistic.Priority == "" {
			tx.optimistic.Priority = models.PriorityNone
		}
		if !st.Loaded {
			st.Tasks = nil
			st.Loaded = true
		}
		st.Tasks = append(st.Tasks, tx.optimistic)

	case MutationUpdate:
		if tx.before.present {
			tx.optimistic = tx.Update.ApplyTo(tx.before.task)
			st.Tasks[tx.before.index] = tx.optimistic
		}
		if tx.before.hasDetail {
			merged := tx.Update.ApplyTo(tx.before.detail)
			st.Details[tx.ID] = merged
			if !tx.before.present {
				tx.optimistic = merged
			}
		}

	case MutationDelete:
		if tx.before.present {
			st.Tasks = slices.Delete(st.Tasks, tx.before.index, tx.before.index+1)
		}
		delete(st.Details, tx.ID)
	}

	st.markPending(tx.ID)
	tx.phase = PhasePending
}

// Commit replaces the optimistic entry with the server's entity.
func (tx *Transaction) Commit(st *CacheState, server models.Task) {
	if tx.phase != PhasePending {
		return
	}
	st.clearPending(tx.ID)

	switch tx.Kind {
	case MutationCreate:
		if i := st.indexOf(tx.ID); i >= 0 {
			st.Tasks[i] = server
		}
		st.setDetail(server)
	case MutationUpdate:
		if i := st.indexOf(tx.ID); i >= 0 {
			st.Tasks[i] = server
		}
		if _, ok := st.Details[tx.ID]; ok {
			st.setDetail(server)
		}
	case MutationDelete:
		delete(st.StaleDetails, tx.ID)
	}

	if tx.Kind != MutationDelete {
		tx.server = &server
	}
	tx.phase = PhaseSucceeded
}

// Rollback restores the entity snapshot taken by Apply. A create on a
// collection that was never loaded clears the collection instead.
func (tx *Transaction) Rollback(st *CacheState) {
	if tx.phase != PhasePending {
		return
	}
	st.clearPending(tx.ID)
	tx.restore(st)
	tx.failed = true
	tx.phase = PhaseFailed
}

// Supersede settles a transaction whose outcome is discarded. The cache is
// left untouched apart from the pending marker.
func (tx *Transaction) Supersede(st *CacheState, server *models.Task, failed bool) {
	if tx.phase != PhasePending {
		return
	}
	st.clearPending(tx.ID)
	tx.discard(server, failed)
}

// discard marks tx superseded without touching any cache state.
func (tx *Transaction) discard(server *models.Task, failed bool) {
	if tx.phase != PhasePending {
		return
	}
	tx.failed = failed
	if !failed {
		tx.server = server
	}
	tx.phase = PhaseSuperseded
}

// rebase carries the outcome of a superseded predecessor on the same id
// into tx, so that a later rollback of tx restores what the server holds
// rather than the predecessor's optimistic state.
func (tx *Transaction) rebase(prev *Transaction) {
	if prev.failed {
		tx.before = prev.before
		return
	}
	if prev.Kind == MutationDelete {
		tx.before.present = false
		tx.before.hasDetail = false
		return
	}
	if prev.server == nil {
		return
	}
	if tx.before.present {
		tx.before.task = *prev.server
	}
	if tx.before.hasDetail {
		tx.before.detail = *prev.server
	}
}

func (tx *Transaction) restore(st *CacheState) {
	b := tx.before

	if tx.Kind == MutationCreate {
		if i := st.indexOf(tx.ID); i >= 0 {
			st.Tasks = slices.Delete(st.Tasks, i, i+1)
		}
		if !b.listLoaded {
			st.Tasks = nil
			st.Loaded = false
		}
		return
	}

	i := st.indexOf(tx.ID)
	switch {
	case b.present && i >= 0:
		st.Tasks[i] = b.task
	case b.present:
		at := min(b.index, len(st.Tasks))
		st.Tasks = slices.Insert(st.Tasks, at, b.task)
	case i >= 0:
		st.Tasks = slices.Delete(st.Tasks, i, i+1)
	}

	if b.hasDetail {
		st.setDetail(b.detail)
	} else {
		delete(st.Details, tx.ID)
	}
}

func captureEntity(st *CacheState, id string) entitySnapshot {
	snap := entitySnapshot{index: -1, listLoaded: st.Loaded}
	if i := st.indexOf(id); i >= 0 {
		snap.present = true
		snap.task = st.Tasks[i]
		snap.index = i
	}
	if d, ok := st.Details[id]; ok {
		snap.hasDetail = true
		snap.detail = d
	}
	return snap
}
