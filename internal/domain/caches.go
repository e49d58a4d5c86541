package domain

import (
	"sort"
	"time"
)

// BuildCaches rebuilds the account's derived lookup caches from its raw lists.
// The caches are a pure function of the raw lists plus the two retention
// windows: rebuilding on unchanged input yields identical maps. Entries with a
// missing key or date are excluded from the affected index but stay in the raw
// list, as do entries older than the retention cutoff.
func (a *Account) BuildCaches(now time.Time, dvRetentionDays, medRetentionDays int) {
	dvCutoff := now.AddDate(0, 0, -dvRetentionDays)
	medCutoff := now.AddDate(0, 0, -medRetentionDays)

	a.byDiscreteName = make(map[string][]*DiscreteValue)
	for _, dv := range a.DiscreteValues {
		if dv.Name == "" || dv.ResultDate.IsZero() || dv.ResultDate.Before(dvCutoff) {
			continue
		}
		a.byDiscreteName[dv.Name] = append(a.byDiscreteName[dv.Name], dv)
	}
	for _, group := range a.byDiscreteName {
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].ResultDate.After(group[j].ResultDate)
		})
	}

	a.byMedicationCategory = make(map[string][]*Medication)
	for _, med := range a.Medications {
		if med.Category == "" || med.StartDate.IsZero() || med.StartDate.Before(medCutoff) {
			continue
		}
		a.byMedicationCategory[med.Category] = append(a.byMedicationCategory[med.Category], med)
	}
	for _, group := range a.byMedicationCategory {
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].StartDate.After(group[j].StartDate)
		})
	}

	// Documents and code references are not time-filtered. A code appearing
	// on multiple documents accumulates one pair per occurrence.
	a.byDocumentType = make(map[string][]*Document)
	a.byCode = make(map[string][]CodeReferenceWithDocument)
	for _, doc := range a.Documents {
		a.byDocumentType[doc.DocumentType] = append(a.byDocumentType[doc.DocumentType], doc)

		for _, ref := range doc.CodeReferences {
			a.byCode[ref.Code] = append(a.byCode[ref.Code], CodeReferenceWithDocument{
				Document:      doc,
				CodeReference: ref,
			})
		}
		for _, ref := range doc.AbstractionReferences {
			a.byCode[ref.Code] = append(a.byCode[ref.Code], CodeReferenceWithDocument{
				Document:      doc,
				CodeReference: ref,
			})
		}
	}

	a.workingHistoryByCode = make(map[string]struct{}, len(a.WorkingHistory))
	for _, entry := range a.WorkingHistory {
		if entry.Code != "" {
			a.workingHistoryByCode[entry.Code] = struct{}{}
		}
	}
}

// FindDiscreteValues returns the discrete values sharing the given name,
// newest first, restricted to the discrete-value retention window.
func (a *Account) FindDiscreteValues(name string) []*DiscreteValue {
	return a.byDiscreteName[name]
}

// FindMedications returns the medications in the given category, newest
// first, restricted to the medication retention window.
func (a *Account) FindMedications(category string) []*Medication {
	return a.byMedicationCategory[category]
}

// FindDocuments returns the documents of the given type.
func (a *Account) FindDocuments(documentType string) []*Document {
	return a.byDocumentType[documentType]
}

// FindCodeReferences returns every (document, reference) pair carrying the
// given code, across both coded and abstraction references.
func (a *Account) FindCodeReferences(code string) []CodeReferenceWithDocument {
	return a.byCode[code]
}

// UniqueDiscreteValueNames lists the distinct discrete value names present in
// the keyed cache.
func (a *Account) UniqueDiscreteValueNames() []string {
	return sortedKeys(a.byDiscreteName)
}

// UniqueMedicationCategories lists the distinct medication categories present
// in the keyed cache.
func (a *Account) UniqueMedicationCategories() []string {
	return sortedKeys(a.byMedicationCategory)
}

// UniqueDocumentTypes lists the distinct document types on the account.
func (a *Account) UniqueDocumentTypes() []string {
	return sortedKeys(a.byDocumentType)
}

// UniqueCodes lists the distinct codes referenced by the account's documents.
func (a *Account) UniqueCodes() []string {
	return sortedKeys(a.byCode)
}

// HasWorkingHistoryCode reports whether a prior encounter captured the code.
func (a *Account) HasWorkingHistoryCode(code string) bool {
	_, ok := a.workingHistoryByCode[code]
	return ok
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
