package api

// PlanVersion identifies the dry-run plan document layout.
const PlanVersion = "v1"

// Options is the full configuration surface of a denormalization run.
// The CLI resolves flags/env/config-file layers into this struct; embedders
// construct it directly.
type Options struct {
	// KGArchive is a tar.gz containing *_nodes.tsv and *_edges.tsv.
	// Mutually exclusive with a pre-populated Database.
	KGArchive string `json:"kg_archive,omitempty"`
	// Database is the SQLite workspace path. Without KGArchive it must
	// already contain nodes and edges tables.
	Database string `json:"database"`
	// ClosureFile is the three-column closure-triple TSV.
	ClosureFile string `json:"closure_file"`

	EdgesOutput string `json:"edges_output,omitempty"`
	NodesOutput string `json:"nodes_output,omitempty"`

	// ExpandFields get label/category/namespace plus closure columns.
	ExpandFields []string `json:"expand_fields"`
	// LabelFields get label/category/namespace only.
	LabelFields []string `json:"label_fields,omitempty"`
	// NodeFields name edge predicates aggregated onto subject nodes.
	NodeFields []string `json:"node_fields,omitempty"`

	GroupingFields    []string `json:"grouping_fields"`
	EvidenceFields    []string `json:"evidence_fields"`
	MultivaluedFields []string `json:"multivalued_fields"`

	// NodeFilter is an optional constraint applied to denormalized edges
	// before node aggregation, e.g. "negated is null or negated = false".
	NodeFilter string `json:"node_filter,omitempty"`
	// PredicatePrefix qualifies NodeFields when matching edge predicates.
	PredicatePrefix string `json:"predicate_prefix"`

	ExportEdges bool `json:"export_edges"`
	ExportNodes bool `json:"export_nodes"`
	DryRun      bool `json:"dry_run,omitempty"`
}

// Defaults returns the stock configuration: expand subject/object, group
// on subject/negated/predicate/object, and treat the usual KGX evidence
// and taxon columns as multivalued.
func Defaults() Options {
	return Options{
		Database:          "kg.db",
		EdgesOutput:       "denormalized_edges.tsv",
		NodesOutput:       "denormalized_nodes.tsv",
		ExpandFields:      []string{"subject", "object"},
		GroupingFields:    []string{"subject", "negated", "predicate", "object"},
		EvidenceFields:    []string{"has_evidence", "publications"},
		MultivaluedFields: []string{"has_evidence", "publications", "in_taxon", "in_taxon_label"},
		PredicatePrefix:   "biolink",
		ExportEdges:       true,
		ExportNodes:       true,
	}
}

// Plan is the dry-run artifact: the work a run would perform, before any
// schema inspection or store access.
type Plan struct {
	Version    string `json:"version"`
	Source     string `json:"source"`
	SourceKind string `json:"source_kind"` // "archive" or "database"
	Closure    string `json:"closure"`

	Expansions        []FieldPlan       `json:"expansions"`
	GroupingFields    []string          `json:"grouping_fields"`
	EvidenceFields    []string          `json:"evidence_fields"`
	MultivaluedFields []string          `json:"multivalued_fields"`
	NodeAggregations  []NodeAggregation `json:"node_aggregations,omitempty"`
	NodeFilter        string            `json:"node_filter,omitempty"`
	Exports           []ExportPlan      `json:"exports,omitempty"`
}

// FieldPlan is one requested edge-field expansion.
type FieldPlan struct {
	Field string `json:"field"`
	// Closure is false for label-only fields.
	Closure bool `json:"closure"`
}

// NodeAggregation is one requested predicate aggregation onto nodes.
type NodeAggregation struct {
	Field string `json:"field"`
	// Predicate is the namespace-qualified form matched against edges.
	Predicate string `json:"predicate"`
}

// ExportPlan is one table the run would write out.
type ExportPlan struct {
	Table string `json:"table"`
	Path  string `json:"path"`
}
