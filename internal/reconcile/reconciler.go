// ABOUTME: Converts flattened agent reply fields into validated pipeline and lead state
// ABOUTME: The only place untyped agent output crosses into the typed data model

package reconcile

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/pipedeck/pipedeck/internal/state"
)

// ErrMalformedPipeline indicates the agent's flattened payload did not meet
// the structural contract. The pipeline is left unchanged.
var ErrMalformedPipeline = errors.New("malformed pipeline payload")

// ErrInvalidStageTransition indicates a lead update targeted a stage ordinal
// outside 1..stageCount. The lead is left unchanged.
var ErrInvalidStageTransition = errors.New("invalid stage transition")

// totalStagesKey in a builder reply signals the pipeline is complete and
// triggers extraction regardless of conversational framing.
const totalStagesKey = "total_stages"

// Contact field keys recognized in interactor replies, in table column order.
var contactKeys = []string{"type", "company", "website", "phone", "email", "address", "requirements", "notes"}

// Reconciler merges structured completion payloads out of raw agent replies
// into the state store under invariant checks.
type Reconciler struct {
	store  *state.Store
	logger *slog.Logger
}

// New creates a Reconciler. Pass nil logger for the default.
func New(store *state.Store, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		store:  store,
		logger: logger.With("component", "reconciler"),
	}
}

// PipelineComplete reports whether a builder reply carries the completion
// marker.
func PipelineComplete(fields map[string]any) bool {
	_, ok := fields[totalStagesKey]
	return ok
}

// ReconcilePipeline extracts a PipelineDefinition from flattened builder
// fields and atomically installs it. The swap is all-or-nothing: on any
// validation failure the store's pipeline is left exactly as it was.
func (r *Reconciler) ReconcilePipeline(fields map[string]any) (*state.PipelineDefinition, error) {
	def, err := BuildPipeline(fields)
	if err != nil {
		r.logger.Warn("pipeline payload rejected", "error", err)
		return nil, err
	}

	if _, err := r.store.InstallPipeline(def); err != nil {
		return nil, err
	}

	r.logger.Info("pipeline installed", "stages", def.StageCount())
	return def, nil
}

// BuildPipeline reconstructs a PipelineDefinition from flattened
// stage_<i>_* keys. Missing names and goals get explicit placeholders so
// downstream views never branch on absence.
func BuildPipeline(fields map[string]any) (*state.PipelineDefinition, error) {
	total, err := intField(fields, totalStagesKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPipeline, err)
	}
	if total < 1 {
		return nil, fmt.Errorf("%w: total_stages %d < 1", ErrMalformedPipeline, total)
	}

	def := &state.PipelineDefinition{
		Stages:    make([]state.StageSpec, 0, total),
		CreatedAt: time.Now().UTC(),
	}
	for i := 1; i <= total; i++ {
		spec, err := buildStage(fields, i)
		if err != nil {
			return nil, err
		}
		def.Stages = append(def.Stages, spec)
	}
	return def, nil
}

func buildStage(fields map[string]any, ordinal int) (state.StageSpec, error) {
	prefix := fmt.Sprintf("stage_%d_", ordinal)

	name, err := optionalString(fields, prefix+"stage_name", fmt.Sprintf("Stage %d", ordinal))
	if err != nil {
		return state.StageSpec{}, err
	}
	goal, err := optionalString(fields, prefix+"brief_stage_goal", "No goal provided")
	if err != nil {
		return state.StageSpec{}, err
	}
	entry, err := optionalString(fields, prefix+"entry_condition", "")
	if err != nil {
		return state.StageSpec{}, err
	}

	tags, err := tagSet(fields, prefix+"user_tags", ordinal)
	if err != nil {
		return state.StageSpec{}, err
	}

	specFields, err := fieldSpecs(fields, prefix+"fields")
	if err != nil {
		return state.StageSpec{}, err
	}

	return state.StageSpec{
		Ordinal:        ordinal,
		Name:           name,
		Goal:           goal,
		EntryCondition: entry,
		Tags:           tags,
		Fields:         specFields,
	}, nil
}

// LeadUpdate is the typed result of reconciling an interactor reply against
// a lead record.
type LeadUpdate struct {
	LeadID       string
	Fields       []string // names of fields that changed
	StageChanged bool
	FromStage    int
	ToStage      int
}

// Changed reports whether the reply carried any recognized lead field.
func (u *LeadUpdate) Changed() bool {
	return u != nil && (len(u.Fields) > 0 || u.StageChanged)
}

// ReconcileLead merges recognized lead fields from an interactor reply into
// the addressed lead, field by field. An explicit stage field moves the
// lead; a target ordinal outside 1..stageCount fails with
// ErrInvalidStageTransition and leaves the record unchanged.
func (r *Reconciler) ReconcileLead(leadID string, fields map[string]any) (*LeadUpdate, error) {
	if len(fields) == 0 {
		return &LeadUpdate{LeadID: leadID}, nil
	}

	update := &LeadUpdate{LeadID: leadID}
	_, err := r.store.Mutate(func(snap *state.Snapshot) error {
		lead, ok := snap.Leads[leadID]
		if !ok {
			return state.ErrLeadNotFound
		}
		if lead.Contact == nil {
			lead.Contact = make(map[string]string)
		}

		if raw, ok := fields["stage"]; ok {
			target, err := intValue(raw)
			if err != nil {
				return fmt.Errorf("%w: stage: %v", ErrInvalidStageTransition, err)
			}
			if target < 1 || target > snap.Pipeline.StageCount() {
				return fmt.Errorf("%w: stage %d outside 1..%d", ErrInvalidStageTransition, target, snap.Pipeline.StageCount())
			}
			if target != lead.CurrentStage {
				update.StageChanged = true
				update.FromStage = lead.CurrentStage
				update.ToStage = target
				lead.CurrentStage = target
			}
		}

		if name, ok := stringValue(fields["name"]); ok && name != "" {
			lead.DisplayName = name
			lead.Contact["name"] = name
			update.Fields = append(update.Fields, "name")
		}
		for _, key := range contactKeys {
			if v, ok := stringValue(fields[key]); ok {
				lead.Contact[key] = v
				update.Fields = append(update.Fields, key)
			}
		}
		if raw, ok := fields["user_tags"]; ok {
			tags, err := stringSlice(raw)
			if err != nil {
				return fmt.Errorf("%w: user_tags: %v", ErrMalformedPipeline, err)
			}
			lead.Tags = tags
			update.Fields = append(update.Fields, "user_tags")
		}

		if update.Changed() {
			lead.LastUpdatedAt = time.Now().UTC()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if update.StageChanged {
		r.logger.Info("lead moved",
			"lead_id", leadID,
			"from_stage", update.FromStage,
			"to_stage", update.ToStage,
		)
	}
	return update, nil
}

// intField pulls a required integer from the flattened payload.
func intField(fields map[string]any, key string) (int, error) {
	raw, ok := fields[key]
	if !ok {
		return 0, fmt.Errorf("missing %s", key)
	}
	n, err := intValue(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %v", key, err)
	}
	return n, nil
}

// intValue accepts the integer shapes JSON decoding produces. The original
// flattening emitted stage numbers as floats like 1.0, so integral floats
// are accepted.
func intValue(raw any) (int, error) {
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("%v is not an integer", v)
		}
		return int(v), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("%q is not an integer", v)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("unexpected type %T", raw)
	}
}

func stringValue(raw any) (string, bool) {
	s, ok := raw.(string)
	return s, ok
}

func optionalString(fields map[string]any, key, fallback string) (string, error) {
	raw, ok := fields[key]
	if !ok || raw == nil {
		return fallback, nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s is %T, want string", ErrMalformedPipeline, key, raw)
	}
	if strings.TrimSpace(s) == "" {
		return fallback, nil
	}
	return s, nil
}

// tagSet decodes a tag collection, synthesizing {stage_<i>, active} when the
// agent omitted one.
func tagSet(fields map[string]any, key string, ordinal int) ([]string, error) {
	raw, ok := fields[key]
	if !ok || raw == nil {
		return []string{fmt.Sprintf("stage_%d", ordinal), "active"}, nil
	}
	tags, err := stringSlice(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedPipeline, key, err)
	}
	return tags, nil
}

func stringSlice(raw any) ([]string, error) {
	switch v := raw.(type) {
	case []string:
		return append([]string(nil), v...), nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("element %v is %T, want string", item, item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("value is %T, want a collection of strings", raw)
	}
}

// fieldSpecs decodes a stage's field list. Agents emit either bare field
// names or {name, description} objects.
func fieldSpecs(fields map[string]any, key string) ([]state.FieldSpec, error) {
	raw, ok := fields[key]
	if !ok || raw == nil {
		return nil, nil
	}

	items, ok := raw.([]any)
	if !ok {
		if names, err := stringSlice(raw); err == nil {
			return namesToSpecs(names), nil
		}
		return nil, fmt.Errorf("%w: %s is %T, want a list", ErrMalformedPipeline, key, raw)
	}

	out := make([]state.FieldSpec, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case string:
			out = append(out, state.FieldSpec{Name: v})
		case map[string]any:
			name, _ := stringValue(v["name"])
			if name == "" {
				return nil, fmt.Errorf("%w: %s: field object missing name", ErrMalformedPipeline, key)
			}
			desc, _ := stringValue(v["description"])
			out = append(out, state.FieldSpec{Name: name, Description: desc})
		default:
			return nil, fmt.Errorf("%w: %s: element is %T", ErrMalformedPipeline, key, item)
		}
	}
	return out, nil
}

func namesToSpecs(names []string) []state.FieldSpec {
	out := make([]state.FieldSpec, len(names))
	for i, n := range names {
		out[i] = state.FieldSpec{Name: n}
	}
	return out
}
