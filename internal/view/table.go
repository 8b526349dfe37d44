// ABOUTME: Pure projection of a Snapshot into the flat lead table
// ABOUTME: Fixed column set with an explicit placeholder for absent fields

package view

import (
	"sort"
	"strconv"

	"github.com/pipedeck/pipedeck/internal/state"
)

// Placeholder substitutes for any field absent on a lead record.
const Placeholder = "—"

// TableColumns is the fixed column set of the lead table, in render order.
var TableColumns = []string{"Name", "Type", "Company", "Website", "Phone", "Email", "Address", "Requirements", "Notes", "Stage"}

// TableRow is one lead flattened to the fixed column set.
type TableRow struct {
	LeadID string            `json:"leadId"`
	Cells  map[string]string `json:"cells"`
}

// ToLeadTable flattens every lead into a row. Rows are ordered by CreatedAt
// ascending with lead ID as tiebreak, matching the Kanban ordering.
func ToLeadTable(snap *state.Snapshot) []TableRow {
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

	rows := make([]TableRow, 0, len(leads))
	for _, lead := range leads {
		rows = append(rows, leadRow(lead))
	}
	return rows
}

func leadRow(lead *state.LeadRecord) TableRow {
	cells := make(map[string]string, len(TableColumns))

	name := lead.DisplayName
	if name == "" {
		name = lead.Contact["name"]
	}
	cells["Name"] = orPlaceholder(name)
	cells["Type"] = orPlaceholder(lead.Contact["type"])
	cells["Company"] = orPlaceholder(lead.Contact["company"])
	cells["Website"] = orPlaceholder(lead.Contact["website"])
	cells["Phone"] = orPlaceholder(lead.Contact["phone"])
	cells["Email"] = orPlaceholder(lead.Contact["email"])
	cells["Address"] = orPlaceholder(lead.Contact["address"])
	cells["Requirements"] = orPlaceholder(lead.Contact["requirements"])
	cells["Notes"] = orPlaceholder(lead.Contact["notes"])
	cells["Stage"] = strconv.Itoa(lead.CurrentStage)

	return TableRow{LeadID: lead.ID, Cells: cells}
}

func orPlaceholder(s string) string {
	if s == "" {
		return Placeholder
	}
	return s
}
