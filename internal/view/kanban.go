// ABOUTME: Pure projection of a Snapshot into the Kanban board representation
// ABOUTME: Stateless and side-effect free; safe under any concurrent reads

package view

import (
	"sort"

	"github.com/pipedeck/pipedeck/internal/state"
)

// KanbanColumn is one pipeline stage with the leads currently in it.
type KanbanColumn struct {
	Ordinal int      `json:"ordinal"`
	Name    string   `json:"name"`
	Goal    string   `json:"goal"`
	Tags    []string `json:"tags"`
	LeadIDs []string `json:"leadIds"`
}

// KanbanBoard is the board projection of a snapshot.
type KanbanBoard struct {
	BusinessName string         `json:"businessName"`
	Columns      []KanbanColumn `json:"columns"`
	TotalLeads   int            `json:"totalLeads"`
}

// ToKanban groups leads by current stage. Columns are in ordinal order;
// within a column leads are ordered by CreatedAt ascending, with the lead ID
// as a deterministic tiebreak. Leads whose stage has no column (possible
// only on corrupted input) are dropped rather than invented a column.
func ToKanban(snap *state.Snapshot) *KanbanBoard {
	board := &KanbanBoard{
		BusinessName: snap.Profile.Name,
		TotalLeads:   len(snap.Leads),
	}
	if snap.Pipeline == nil {
		return board
	}

	leads := make([]*state.LeadRecord, 0, len(snap.Leads))
	for _, lead := range snap.Leads {
		leads = append(leads, lead)
	}
	sort.Slice(leads, func(i, j int) bool {
		if !leads[i].CreatedAt.Equal(leads[j].CreatedAt) {
			return leads[i].CreatedAt.Before(leads[j].CreatedAt)
		}
		return leads[i].ID < leads[j].ID
	})

	board.Columns = make([]KanbanColumn, 0, snap.Pipeline.StageCount())
	for _, st := range snap.Pipeline.Stages {
		col := KanbanColumn{
			Ordinal: st.Ordinal,
			Name:    st.Name,
			Goal:    st.Goal,
			Tags:    append([]string(nil), st.Tags...),
			LeadIDs: []string{},
		}
		for _, lead := range leads {
			if lead.CurrentStage == st.Ordinal {
				col.LeadIDs = append(col.LeadIDs, lead.ID)
			}
		}
		board.Columns = append(board.Columns, col)
	}
	return board
}
