package service

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"marketplace/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	dateLayout = "2006-01-02"
	// amountPlaces matches the decimal(18,2) money columns.
	amountPlaces = 2
)

// MilestoneInput is a milestone as submitted with a proposal or a negotiation edit.
// Sequence is the requested position; zero keeps submission order.
type MilestoneInput struct {
	ID          string `json:"id"`
	Sequence    int    `json:"sequence"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Amount      string `json:"amount"`
	DueDate     string `json:"due_date"` // YYYY-MM-DD or RFC3339
}

type MilestoneResponse struct {
	ID                    string  `json:"id,omitempty"`
	Sequence              int     `json:"sequence"`
	Title                 string  `json:"title"`
	Description           string  `json:"description"`
	Amount                string  `json:"amount"`
	DueDate               string  `json:"due_date"`
	Status                string  `json:"status,omitempty"`
	DeliverableApprovedAt *string `json:"deliverable_approved_at,omitempty"`
}

// startOfDay truncates t to local midnight.
func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func parseDueDate(raw string, loc *time.Location) (time.Time, error) {
	if t, err := time.ParseInLocation(dateLayout, raw, loc); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, err
	}
	return startOfDay(t.In(loc)), nil
}

// parseMilestones converts inputs to milestones, recording every problem on v.
// Entries that fail are still returned (zero-valued fields) so sums and
// sequencing can be checked in the same pass.
func parseMilestones(inputs []MilestoneInput, today time.Time, v *ValidationError) []model.Milestone {
	if len(inputs) == 0 {
		v.Add("milestones", "at least one milestone is required")
		return nil
	}

	out := make([]model.Milestone, 0, len(inputs))
	for i, in := range inputs {
		field := fmt.Sprintf("milestones[%d]", i)
		m := model.Milestone{
			Sequence:    in.Sequence,
			Title:       strings.TrimSpace(in.Title),
			Description: strings.TrimSpace(in.Description),
			Status:      model.MilestonePending,
		}

		if in.ID != "" {
			id, err := uuid.Parse(in.ID)
			if err != nil {
				v.Add(field+".id", "invalid milestone id")
			} else {
				m.ID = id
			}
		}
		if in.Sequence < 0 {
			v.Add(field+".sequence", "sequence must not be negative")
		}
		if m.Title == "" {
			v.Add(field+".title", "title is required")
		}
		if m.Description == "" {
			v.Add(field+".description", "description is required")
		}

		if amount, ok := parseAmount(in.Amount, field+".amount", "amount", v); ok {
			if amount.IsPositive() {
				m.Amount = amount
			} else {
				v.Add(field+".amount", "amount must be greater than 0")
			}
		}

		if strings.TrimSpace(in.DueDate) == "" {
			v.Add(field+".due_date", "due date is required")
		} else if due, err := parseDueDate(strings.TrimSpace(in.DueDate), today.Location()); err != nil {
			v.Add(field+".due_date", "due date must be formatted as YYYY-MM-DD")
		} else if due.Before(today) {
			v.Add(field+".due_date", "due date %s is in the past", due.Format(dateLayout))
		} else {
			m.DueDate = due
		}

		out = append(out, m)
	}
	return out
}

// parseAmount parses a money value, recording a failure under field when raw is
// not a decimal or carries more places than the money columns store.
func parseAmount(raw, field, label string, v *ValidationError) (decimal.Decimal, bool) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		v.Add(field, "%s must be a decimal number", label)
		return decimal.Zero, false
	}
	if !d.Round(amountPlaces).Equal(d) {
		v.Add(field, "%s %s has more than %d decimal places", label, d.String(), amountPlaces)
		return decimal.Zero, false
	}
	return d, true
}

// checkTotal records a failure when the milestone amounts do not add up to expected.
// Both totals are cited so the parties can see the gap.
func checkTotal(milestones []model.Milestone, expected decimal.Decimal, expectedName string, v *ValidationError) {
	total := sumAmounts(milestones)
	if !total.Equal(expected) {
		v.Add("milestones", "total milestone amount %s does not match %s %s", total.String(), expectedName, expected.String())
	}
}

func sumAmounts(milestones []model.Milestone) decimal.Decimal {
	total := decimal.Zero
	for _, m := range milestones {
		total = total.Add(m.Amount)
	}
	return total
}

// Resequence orders milestones by requested sequence (unsequenced entries keep
// their relative order after sequenced ones) and renumbers them 1..n.
func Resequence(milestones []model.Milestone) []model.Milestone {
	out := make([]model.Milestone, len(milestones))
	copy(out, milestones)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Sequence, out[j].Sequence
		if a == 0 || b == 0 {
			return a != 0 && b == 0
		}
		return a < b
	})
	for i := range out {
		out[i].Sequence = i + 1
	}
	return out
}

func toMilestoneResponse(m model.Milestone) MilestoneResponse {
	resp := MilestoneResponse{
		Sequence:    m.Sequence,
		Title:       m.Title,
		Description: m.Description,
		Amount:      m.Amount.StringFixed(2),
		DueDate:     m.DueDate.Format(dateLayout),
		Status:      m.Status,
	}
	if m.ID != uuid.Nil {
		resp.ID = m.ID.String()
	}
	if m.DeliverableApprovedAt != nil {
		s := m.DeliverableApprovedAt.Format(time.RFC3339)
		resp.DeliverableApprovedAt = &s
	}
	return resp
}

func toMilestoneResponses(ms []model.Milestone) []MilestoneResponse {
	out := make([]MilestoneResponse, 0, len(ms))
	for _, m := range ms {
		out = append(out, toMilestoneResponse(m))
	}
	return out
}

func parseID(raw, field string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		v := &ValidationError{}
		v.Add(field, "must be a valid UUID")
		return uuid.Nil, v
	}
	return id, nil
}
