package domain

// Alert is the verdict a single rule script computes for one account. The
// ScriptName identifies the script (source filename without extension or
// path) and is the field key used by the EvaluationResults record.
type Alert struct {
	ScriptName string  `bson:"ScriptName" json:"script_name"`
	Passed     bool    `bson:"Passed" json:"passed"`
	Links      []*Link `bson:"Links,omitempty" json:"links,omitempty"`
	Validated  bool    `bson:"Validated" json:"validated"`
	SubTitle   string  `bson:"SubTitle,omitempty" json:"subtitle,omitempty"`
	Outcome    string  `bson:"Outcome,omitempty" json:"outcome,omitempty"`
	Reason     string  `bson:"Reason,omitempty" json:"reason,omitempty"`
	Weight     float64 `bson:"Weight,omitempty" json:"weight,omitempty"`
	Sequence   int32   `bson:"Sequence,omitempty" json:"sequence,omitempty"`
}

// NewAlert constructs the fresh alert handed to a script before it runs.
func NewAlert(scriptName string) *Alert {
	return &Alert{ScriptName: scriptName}
}

// Link is a structured citation pointing an alert's reasoning at supporting
// evidence. Links nest: a link may carry sublinks of the same shape.
type Link struct {
	LinkText              string  `bson:"LinkText" json:"link_text"`
	DocumentID            string  `bson:"DocumentId,omitempty" json:"document_id,omitempty"`
	Code                  string  `bson:"Code,omitempty" json:"code,omitempty"`
	DiscreteValueID       string  `bson:"DiscreteValueId,omitempty" json:"discrete_value_id,omitempty"`
	DiscreteValueName     string  `bson:"DiscreteValueName,omitempty" json:"discrete_value_name,omitempty"`
	MedicationID          string  `bson:"MedicationId,omitempty" json:"medication_id,omitempty"`
	MedicationName        string  `bson:"MedicationName,omitempty" json:"medication_name,omitempty"`
	LatestDiscreteValueID string  `bson:"LatestDiscreteValueId,omitempty" json:"latest_discrete_value_id,omitempty"`
	IsValidated           bool    `bson:"IsValidated" json:"is_validated"`
	UserNotes             string  `bson:"UserNotes,omitempty" json:"user_notes,omitempty"`
	Links                 []*Link `bson:"Links,omitempty" json:"links,omitempty"`
	Sequence              int32   `bson:"Sequence" json:"sequence"`
	Hidden                bool    `bson:"Hidden" json:"hidden"`
}

// Equal reports deep equality with another alert, including the full nested
// links tree. Reconciliation uses this to decide whether a freshly computed
// alert differs from the persisted one.
func (a *Alert) Equal(other *Alert) bool {
	if a == nil || other == nil {
		return a == other
	}
	if a.ScriptName != other.ScriptName ||
		a.Passed != other.Passed ||
		a.Validated != other.Validated ||
		a.SubTitle != other.SubTitle ||
		a.Outcome != other.Outcome ||
		a.Reason != other.Reason ||
		a.Weight != other.Weight ||
		a.Sequence != other.Sequence {
		return false
	}
	return linksEqual(a.Links, other.Links)
}

// Equal reports deep equality with another link, recursing into sublinks.
func (l *Link) Equal(other *Link) bool {
	if l == nil || other == nil {
		return l == other
	}
	if l.LinkText != other.LinkText ||
		l.DocumentID != other.DocumentID ||
		l.Code != other.Code ||
		l.DiscreteValueID != other.DiscreteValueID ||
		l.DiscreteValueName != other.DiscreteValueName ||
		l.MedicationID != other.MedicationID ||
		l.MedicationName != other.MedicationName ||
		l.LatestDiscreteValueID != other.LatestDiscreteValueID ||
		l.IsValidated != other.IsValidated ||
		l.UserNotes != other.UserNotes ||
		l.Sequence != other.Sequence ||
		l.Hidden != other.Hidden {
		return false
	}
	return linksEqual(l.Links, other.Links)
}

func linksEqual(a, b []*Link) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}
