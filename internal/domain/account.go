// Package domain holds the clinical record types shared by every layer of the
// engine. Field names mirror the CAC document store schema, so these types
// (de)serialize directly against the accounts, discreteValues, EvaluationQueue
// and EvaluationResults collections.
package domain

import "time"

// Account is the case record for one patient encounter under CDI review.
// It exclusively owns its raw lists; the derived caches below are read-only
// views into those same entries and are rebuilt on every load.
type Account struct {
	ID                string                 `bson:"_id" json:"id"`
	AdmitDateTime     time.Time              `bson:"AdmitDateTime,omitempty" json:"admit_date_time,omitempty"`
	DischargeDateTime time.Time              `bson:"DischargeDateTime,omitempty" json:"discharge_date_time,omitempty"`
	Patient           *Patient               `bson:"Patient,omitempty" json:"patient,omitempty"`
	PatientType       string                 `bson:"PatientType,omitempty" json:"patient_type,omitempty"`
	AdmitSource       string                 `bson:"AdmitSource,omitempty" json:"admit_source,omitempty"`
	AdmitType         string                 `bson:"AdmitType,omitempty" json:"admit_type,omitempty"`
	HospitalService   string                 `bson:"HospitalService,omitempty" json:"hospital_service,omitempty"`
	Building          string                 `bson:"Building,omitempty" json:"building,omitempty"`
	Documents         []*Document            `bson:"Documents,omitempty" json:"documents,omitempty"`
	Medications       []*Medication          `bson:"Medications,omitempty" json:"medications,omitempty"`
	DiscreteValues    []*DiscreteValue       `bson:"DiscreteValues,omitempty" json:"discrete_values,omitempty"`
	CdiAlerts         []*Alert               `bson:"CdiAlerts,omitempty" json:"cdi_alerts,omitempty"`
	WorkingHistory    []*WorkingHistoryEntry `bson:"WorkingHistory,omitempty" json:"working_history,omitempty"`

	// Derived caches. Never persisted; rebuilt by BuildCaches on every load.
	byDiscreteName       map[string][]*DiscreteValue
	byMedicationCategory map[string][]*Medication
	byDocumentType       map[string][]*Document
	byCode               map[string][]CodeReferenceWithDocument
	workingHistoryByCode map[string]struct{}
}

// Patient carries the demographics attached to an account. The engine treats
// it as opaque; it exists so scripts can read it.
type Patient struct {
	MRN        string    `bson:"MRN,omitempty" json:"mrn,omitempty"`
	FirstName  string    `bson:"FirstName,omitempty" json:"first_name,omitempty"`
	MiddleName string    `bson:"MiddleName,omitempty" json:"middle_name,omitempty"`
	LastName   string    `bson:"LastName,omitempty" json:"last_name,omitempty"`
	Gender     string    `bson:"Gender,omitempty" json:"gender,omitempty"`
	BirthDate  time.Time `bson:"BirthDate,omitempty" json:"birthdate,omitempty"`
}

// Document is a single clinical document with its coded and abstraction
// references. Both reference lists share the CodeReference shape.
type Document struct {
	DocumentID            string           `bson:"DocumentId" json:"document_id"`
	DocumentType          string           `bson:"DocumentType,omitempty" json:"document_type,omitempty"`
	DocumentDate          time.Time        `bson:"DocumentDate,omitempty" json:"document_date,omitempty"`
	ContentType           string           `bson:"ContentType,omitempty" json:"content_type,omitempty"`
	CodeReferences        []*CodeReference `bson:"CodeReferences,omitempty" json:"code_references,omitempty"`
	AbstractionReferences []*CodeReference `bson:"AbstractionReferences,omitempty" json:"abstraction_references,omitempty"`
}

// CodeReference is one occurrence of a code on a document, with the optional
// span locating the supporting phrase in the document text.
type CodeReference struct {
	Code        string `bson:"Code" json:"code"`
	Value       string `bson:"Value,omitempty" json:"value,omitempty"`
	Description string `bson:"Description,omitempty" json:"description,omitempty"`
	Phrase      string `bson:"Phrase,omitempty" json:"phrase,omitempty"`
	Start       int32  `bson:"Start,omitempty" json:"start,omitempty"`
	Length      int32  `bson:"Length,omitempty" json:"length,omitempty"`
}

// CodeReferenceWithDocument pairs a code reference with the document that
// carries it. Both pointers alias entries owned by the account's raw lists.
type CodeReferenceWithDocument struct {
	Document      *Document      `json:"document"`
	CodeReference *CodeReference `json:"code_reference"`
}

// DiscreteValue is a single lab or observation result.
type DiscreteValue struct {
	UniqueID   string    `bson:"UniqueId" json:"unique_id"`
	Name       string    `bson:"Name,omitempty" json:"name,omitempty"`
	Result     string    `bson:"Result,omitempty" json:"result,omitempty"`
	ResultDate time.Time `bson:"ResultDate,omitempty" json:"result_date,omitempty"`
}

// NewDiscreteValue constructs a discrete value with just an id and name, the
// form scripts build synthetic values in.
func NewDiscreteValue(uniqueID, name string) *DiscreteValue {
	return &DiscreteValue{UniqueID: uniqueID, Name: name}
}

// Medication is one medication order on the account.
type Medication struct {
	ExternalID string    `bson:"ExternalId" json:"external_id"`
	Medication string    `bson:"Medication,omitempty" json:"medication,omitempty"`
	Dosage     string    `bson:"Dosage,omitempty" json:"dosage,omitempty"`
	Route      string    `bson:"Route,omitempty" json:"route,omitempty"`
	StartDate  time.Time `bson:"StartDate,omitempty" json:"start_date,omitempty"`
	EndDate    time.Time `bson:"EndDate,omitempty" json:"end_date,omitempty"`
	Status     string    `bson:"Status,omitempty" json:"status,omitempty"`
	Category   string    `bson:"Category,omitempty" json:"category,omitempty"`
}

// WorkingHistoryEntry is a diagnosis or procedure code captured on an earlier
// encounter. Scripts use these for membership checks only.
type WorkingHistoryEntry struct {
	Code        string `bson:"Code" json:"code"`
	CodeType    string `bson:"CodeType,omitempty" json:"code_type,omitempty"`
	Description string `bson:"Description,omitempty" json:"description,omitempty"`
}

// QueueEntry is one pending evaluation in the EvaluationQueue collection.
// Created by producers or by the compensating requeue path; destroyed exactly
// once by an atomic dequeue.
type QueueEntry struct {
	ID         string    `bson:"_id" json:"id"`
	TimeQueued time.Time `bson:"TimeQueued" json:"time_queued"`
	Source     string    `bson:"Source" json:"source"`
}

// Queue entry sources.
const (
	QueueSourcePoll    = "poll"
	QueueSourceRequeue = "Requeue"
	QueueSourceTest    = "test"
)
