package sandbox

import (
	"time"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"cdi-alert-engine/internal/domain"
)

// Lua type names registered on every interpreter state. Alerts and links
// come in two flavors: the mutable ones backing the script's own Result, and
// read-only ones for alerts the account already carries, which are shared
// across concurrent executions and must never be written.
const (
	luaAccountType     = "cdi.account"
	luaPatientType     = "cdi.patient"
	luaDocumentType    = "cdi.document"
	luaCodeRefType     = "cdi.code_reference"
	luaCodeRefDocType  = "cdi.code_reference_with_document"
	luaDiscreteType    = "cdi.discrete_value"
	luaMedicationType  = "cdi.medication"
	luaAlertType       = "cdi.alert"
	luaLinkType        = "cdi.link"
	luaSharedAlertType = "cdi.shared_alert"
	luaSharedLinkType  = "cdi.shared_link"
)

// loggerGlobal carries the per-execution zap logger into the log functions.
const loggerGlobal = "__cdi_logger"

func registerTypes(L *lua.LState) {
	registerType(L, luaAccountType, accountIndex, readOnlyNewIndex)
	registerType(L, luaPatientType, patientIndex, readOnlyNewIndex)
	registerType(L, luaDocumentType, documentIndex, readOnlyNewIndex)
	registerType(L, luaCodeRefType, codeRefIndex, readOnlyNewIndex)
	registerType(L, luaCodeRefDocType, codeRefDocIndex, readOnlyNewIndex)
	registerType(L, luaDiscreteType, discreteIndex, discreteNewIndex)
	registerType(L, luaMedicationType, medicationIndex, readOnlyNewIndex)
	registerType(L, luaAlertType, alertIndexWith(luaLinkType), alertNewIndex)
	registerType(L, luaLinkType, linkIndexWith(luaLinkType), linkNewIndex)
	registerType(L, luaSharedAlertType, alertIndexWith(luaSharedLinkType), readOnlyNewIndex)
	registerType(L, luaSharedLinkType, linkIndexWith(luaSharedLinkType), readOnlyNewIndex)

	registerHelpers(L)
}

func registerType(L *lua.LState, name string, index, newIndex lua.LGFunction) {
	mt := L.NewTypeMetatable(name)
	L.SetField(mt, "__index", L.NewFunction(index))
	L.SetField(mt, "__newindex", L.NewFunction(newIndex))
}

// registerHelpers installs the value constructors and logging hooks scripts
// may use: cdi.link(), cdi.discrete_value(id, name), and log.debug/info/
// warn/error.
func registerHelpers(L *lua.LState) {
	cdi := L.NewTable()
	L.SetField(cdi, "link", L.NewFunction(func(L *lua.LState) int {
		L.Push(newUserData(L, luaLinkType, &domain.Link{}))
		return 1
	}))
	L.SetField(cdi, "discrete_value", L.NewFunction(func(L *lua.LState) int {
		dv := domain.NewDiscreteValue(L.CheckString(1), L.CheckString(2))
		L.Push(newUserData(L, luaDiscreteType, dv))
		return 1
	}))
	L.SetGlobal("cdi", cdi)

	logTable := L.NewTable()
	L.SetField(logTable, "debug", L.NewFunction(luaLog((*zap.Logger).Debug)))
	L.SetField(logTable, "info", L.NewFunction(luaLog((*zap.Logger).Info)))
	L.SetField(logTable, "warn", L.NewFunction(luaLog((*zap.Logger).Warn)))
	L.SetField(logTable, "error", L.NewFunction(luaLog((*zap.Logger).Error)))
	L.SetGlobal("log", logTable)
}

func luaLog(emit func(*zap.Logger, string, ...zap.Field)) lua.LGFunction {
	return func(L *lua.LState) int {
		msg := L.CheckString(1)
		if ud, ok := L.GetGlobal(loggerGlobal).(*lua.LUserData); ok {
			if logger, ok := ud.Value.(*zap.Logger); ok {
				emit(logger, msg)
			}
		}
		return 0
	}
}

func newUserData(L *lua.LState, typeName string, value any) *lua.LUserData {
	ud := L.NewUserData()
	ud.Value = value
	L.SetMetatable(ud, L.GetTypeMetatable(typeName))
	return ud
}

func readOnlyNewIndex(L *lua.LState) int {
	L.RaiseError("attempt to modify a read-only value (field %q)", L.CheckString(2))
	return 0
}

// pushOptString pushes nil for the empty string, so scripts can test absent
// optional fields with `== nil` like any other missing value.
func pushOptString(L *lua.LState, s string) {
	if s == "" {
		L.Push(lua.LNil)
		return
	}
	L.Push(lua.LString(s))
}

// pushTime pushes a date as an RFC 3339 string, or nil when unset.
func pushTime(L *lua.LState, t time.Time) {
	if t.IsZero() {
		L.Push(lua.LNil)
		return
	}
	L.Push(lua.LString(t.UTC().Format(time.RFC3339)))
}

func pushStrings(L *lua.LState, values []string) {
	tbl := L.CreateTable(len(values), 0)
	for i, v := range values {
		tbl.RawSetInt(i+1, lua.LString(v))
	}
	L.Push(tbl)
}

func pushUserDataList[T any](L *lua.LState, typeName string, values []T) {
	tbl := L.CreateTable(len(values), 0)
	for i, v := range values {
		tbl.RawSetInt(i+1, newUserData(L, typeName, v))
	}
	L.Push(tbl)
}

// collectLinks gathers link userdata out of a Lua table, skipping anything
// else, mirroring how scripts hand back their links collections.
func collectLinks(tbl *lua.LTable) []*domain.Link {
	var links []*domain.Link
	tbl.ForEach(func(_, value lua.LValue) {
		if ud, ok := value.(*lua.LUserData); ok {
			if link, ok := ud.Value.(*domain.Link); ok {
				links = append(links, link)
			}
		}
	})
	return links
}

// ---------------------------------------------------------------------------
// Account

var accountMethods = map[string]lua.LGFunction{
	"find_code_references": func(L *lua.LState) int {
		account := checkAccount(L)
		pushUserDataList(L, luaCodeRefDocType, account.FindCodeReferences(L.CheckString(2)))
		return 1
	},
	"find_documents": func(L *lua.LState) int {
		account := checkAccount(L)
		pushUserDataList(L, luaDocumentType, account.FindDocuments(L.CheckString(2)))
		return 1
	},
	"find_discrete_values": func(L *lua.LState) int {
		account := checkAccount(L)
		pushUserDataList(L, luaDiscreteType, account.FindDiscreteValues(L.CheckString(2)))
		return 1
	},
	"find_medications": func(L *lua.LState) int {
		account := checkAccount(L)
		pushUserDataList(L, luaMedicationType, account.FindMedications(L.CheckString(2)))
		return 1
	},
	"get_unique_code_references": func(L *lua.LState) int {
		pushStrings(L, checkAccount(L).UniqueCodes())
		return 1
	},
	"get_unique_documents": func(L *lua.LState) int {
		pushStrings(L, checkAccount(L).UniqueDocumentTypes())
		return 1
	},
	"get_unique_discrete_values": func(L *lua.LState) int {
		pushStrings(L, checkAccount(L).UniqueDiscreteValueNames())
		return 1
	},
	"get_unique_medications": func(L *lua.LState) int {
		pushStrings(L, checkAccount(L).UniqueMedicationCategories())
		return 1
	},
	"has_working_history": func(L *lua.LState) int {
		L.Push(lua.LBool(checkAccount(L).HasWorkingHistoryCode(L.CheckString(2))))
		return 1
	},
}

func checkAccount(L *lua.LState) *domain.Account {
	ud := L.CheckUserData(1)
	if account, ok := ud.Value.(*domain.Account); ok {
		return account
	}
	L.ArgError(1, "account expected")
	return nil
}

func accountIndex(L *lua.LState) int {
	account := checkAccount(L)
	key := L.CheckString(2)

	if method, ok := accountMethods[key]; ok {
		L.Push(L.NewFunction(method))
		return 1
	}

	switch key {
	case "id":
		L.Push(lua.LString(account.ID))
	case "admit_date_time":
		pushTime(L, account.AdmitDateTime)
	case "discharge_date_time":
		pushTime(L, account.DischargeDateTime)
	case "patient":
		if account.Patient == nil {
			L.Push(lua.LNil)
		} else {
			L.Push(newUserData(L, luaPatientType, account.Patient))
		}
	case "patient_type":
		pushOptString(L, account.PatientType)
	case "admit_source":
		pushOptString(L, account.AdmitSource)
	case "admit_type":
		pushOptString(L, account.AdmitType)
	case "hospital_service":
		pushOptString(L, account.HospitalService)
	case "building":
		pushOptString(L, account.Building)
	case "documents":
		pushUserDataList(L, luaDocumentType, account.Documents)
	case "medications":
		pushUserDataList(L, luaMedicationType, account.Medications)
	case "discrete_values":
		pushUserDataList(L, luaDiscreteType, account.DiscreteValues)
	case "cdi_alerts":
		pushUserDataList(L, luaSharedAlertType, account.CdiAlerts)
	default:
		L.Push(lua.LNil)
	}
	return 1
}

// ---------------------------------------------------------------------------
// Patient

func patientIndex(L *lua.LState) int {
	ud := L.CheckUserData(1)
	patient, ok := ud.Value.(*domain.Patient)
	if !ok {
		L.ArgError(1, "patient expected")
	}

	switch L.CheckString(2) {
	case "mrn":
		pushOptString(L, patient.MRN)
	case "first_name":
		pushOptString(L, patient.FirstName)
	case "middle_name":
		pushOptString(L, patient.MiddleName)
	case "last_name":
		pushOptString(L, patient.LastName)
	case "gender":
		pushOptString(L, patient.Gender)
	case "birthdate":
		pushTime(L, patient.BirthDate)
	default:
		L.Push(lua.LNil)
	}
	return 1
}

// ---------------------------------------------------------------------------
// Document

func documentIndex(L *lua.LState) int {
	ud := L.CheckUserData(1)
	doc, ok := ud.Value.(*domain.Document)
	if !ok {
		L.ArgError(1, "document expected")
	}

	switch L.CheckString(2) {
	case "document_id":
		L.Push(lua.LString(doc.DocumentID))
	case "document_type":
		pushOptString(L, doc.DocumentType)
	case "document_date":
		pushTime(L, doc.DocumentDate)
	case "content_type":
		pushOptString(L, doc.ContentType)
	case "code_references":
		pushUserDataList(L, luaCodeRefType, doc.CodeReferences)
	case "abstraction_references":
		pushUserDataList(L, luaCodeRefType, doc.AbstractionReferences)
	default:
		L.Push(lua.LNil)
	}
	return 1
}

// ---------------------------------------------------------------------------
// CodeReference

func codeRefIndex(L *lua.LState) int {
	ud := L.CheckUserData(1)
	ref, ok := ud.Value.(*domain.CodeReference)
	if !ok {
		L.ArgError(1, "code reference expected")
	}

	switch L.CheckString(2) {
	case "code":
		L.Push(lua.LString(ref.Code))
	case "value":
		pushOptString(L, ref.Value)
	case "description":
		pushOptString(L, ref.Description)
	case "phrase":
		pushOptString(L, ref.Phrase)
	case "start":
		L.Push(lua.LNumber(ref.Start))
	case "length":
		L.Push(lua.LNumber(ref.Length))
	default:
		L.Push(lua.LNil)
	}
	return 1
}

func codeRefDocIndex(L *lua.LState) int {
	ud := L.CheckUserData(1)
	pair, ok := ud.Value.(domain.CodeReferenceWithDocument)
	if !ok {
		L.ArgError(1, "code reference pair expected")
	}

	switch L.CheckString(2) {
	case "document":
		L.Push(newUserData(L, luaDocumentType, pair.Document))
	case "code_reference":
		L.Push(newUserData(L, luaCodeRefType, pair.CodeReference))
	default:
		L.Push(lua.LNil)
	}
	return 1
}

// ---------------------------------------------------------------------------
// DiscreteValue

func checkDiscrete(L *lua.LState) *domain.DiscreteValue {
	ud := L.CheckUserData(1)
	if dv, ok := ud.Value.(*domain.DiscreteValue); ok {
		return dv
	}
	L.ArgError(1, "discrete value expected")
	return nil
}

func discreteIndex(L *lua.LState) int {
	dv := checkDiscrete(L)
	switch L.CheckString(2) {
	case "unique_id":
		L.Push(lua.LString(dv.UniqueID))
	case "name":
		pushOptString(L, dv.Name)
	case "result":
		pushOptString(L, dv.Result)
	case "result_date":
		pushTime(L, dv.ResultDate)
	default:
		L.Push(lua.LNil)
	}
	return 1
}

func discreteNewIndex(L *lua.LState) int {
	dv := checkDiscrete(L)
	key := L.CheckString(2)
	switch key {
	case "unique_id":
		dv.UniqueID = L.CheckString(3)
	case "name":
		dv.Name = L.OptString(3, "")
	case "result":
		dv.Result = L.OptString(3, "")
	default:
		L.RaiseError("discrete value has no settable field %q", key)
	}
	return 0
}

// ---------------------------------------------------------------------------
// Medication

func medicationIndex(L *lua.LState) int {
	ud := L.CheckUserData(1)
	med, ok := ud.Value.(*domain.Medication)
	if !ok {
		L.ArgError(1, "medication expected")
	}

	switch L.CheckString(2) {
	case "external_id":
		L.Push(lua.LString(med.ExternalID))
	case "medication":
		pushOptString(L, med.Medication)
	case "dosage":
		pushOptString(L, med.Dosage)
	case "route":
		pushOptString(L, med.Route)
	case "start_date":
		pushTime(L, med.StartDate)
	case "end_date":
		pushTime(L, med.EndDate)
	case "status":
		pushOptString(L, med.Status)
	case "category":
		pushOptString(L, med.Category)
	default:
		L.Push(lua.LNil)
	}
	return 1
}

// ---------------------------------------------------------------------------
// Alert

func checkAlert(L *lua.LState) *domain.Alert {
	ud := L.CheckUserData(1)
	if alert, ok := ud.Value.(*domain.Alert); ok {
		return alert
	}
	L.ArgError(1, "alert expected")
	return nil
}

// alertIndexWith builds the alert reader; linkType decides whether the links
// it hands out are mutable or shared read-only views.
func alertIndexWith(linkType string) lua.LGFunction {
	return func(L *lua.LState) int {
		alert := checkAlert(L)
		switch L.CheckString(2) {
		case "script_name":
			L.Push(lua.LString(alert.ScriptName))
		case "passed":
			L.Push(lua.LBool(alert.Passed))
		case "validated":
			L.Push(lua.LBool(alert.Validated))
		case "subtitle":
			pushOptString(L, alert.SubTitle)
		case "outcome":
			pushOptString(L, alert.Outcome)
		case "reason":
			pushOptString(L, alert.Reason)
		case "weight":
			L.Push(lua.LNumber(alert.Weight))
		case "sequence":
			L.Push(lua.LNumber(alert.Sequence))
		case "links":
			pushUserDataList(L, linkType, alert.Links)
		default:
			L.Push(lua.LNil)
		}
		return 1
	}
}

func alertNewIndex(L *lua.LState) int {
	alert := checkAlert(L)
	key := L.CheckString(2)
	switch key {
	// script_name is the alert's identity and is immutable once set.
	case "script_name":
		L.RaiseError("script_name is immutable")
	case "passed":
		alert.Passed = L.CheckBool(3)
	case "validated":
		alert.Validated = L.CheckBool(3)
	case "subtitle":
		alert.SubTitle = L.OptString(3, "")
	case "outcome":
		alert.Outcome = L.OptString(3, "")
	case "reason":
		alert.Reason = L.OptString(3, "")
	case "weight":
		alert.Weight = float64(L.CheckNumber(3))
	case "sequence":
		alert.Sequence = int32(L.CheckInt(3))
	case "links":
		alert.Links = collectLinks(L.CheckTable(3))
	default:
		L.RaiseError("alert has no settable field %q", key)
	}
	return 0
}

// ---------------------------------------------------------------------------
// Link

func checkLink(L *lua.LState) *domain.Link {
	ud := L.CheckUserData(1)
	if link, ok := ud.Value.(*domain.Link); ok {
		return link
	}
	L.ArgError(1, "link expected")
	return nil
}

func linkIndexWith(linkType string) lua.LGFunction {
	return func(L *lua.LState) int {
		link := checkLink(L)
		switch L.CheckString(2) {
		case "link_text":
			L.Push(lua.LString(link.LinkText))
		case "document_id":
			pushOptString(L, link.DocumentID)
		case "code":
			pushOptString(L, link.Code)
		case "discrete_value_id":
			pushOptString(L, link.DiscreteValueID)
		case "discrete_value_name":
			pushOptString(L, link.DiscreteValueName)
		case "medication_id":
			pushOptString(L, link.MedicationID)
		case "medication_name":
			pushOptString(L, link.MedicationName)
		case "latest_discrete_value_id":
			pushOptString(L, link.LatestDiscreteValueID)
		case "is_validated":
			L.Push(lua.LBool(link.IsValidated))
		case "user_notes":
			pushOptString(L, link.UserNotes)
		case "links":
			pushUserDataList(L, linkType, link.Links)
		case "sequence":
			L.Push(lua.LNumber(link.Sequence))
		case "hidden":
			L.Push(lua.LBool(link.Hidden))
		default:
			L.Push(lua.LNil)
		}
		return 1
	}
}

func linkNewIndex(L *lua.LState) int {
	link := checkLink(L)
	key := L.CheckString(2)
	switch key {
	case "link_text":
		link.LinkText = L.CheckString(3)
	case "document_id":
		link.DocumentID = L.OptString(3, "")
	case "code":
		link.Code = L.OptString(3, "")
	case "discrete_value_id":
		link.DiscreteValueID = L.OptString(3, "")
	case "discrete_value_name":
		link.DiscreteValueName = L.OptString(3, "")
	case "medication_id":
		link.MedicationID = L.OptString(3, "")
	case "medication_name":
		link.MedicationName = L.OptString(3, "")
	case "latest_discrete_value_id":
		link.LatestDiscreteValueID = L.OptString(3, "")
	case "is_validated":
		link.IsValidated = L.CheckBool(3)
	case "user_notes":
		link.UserNotes = L.OptString(3, "")
	case "links":
		link.Links = collectLinks(L.CheckTable(3))
	case "sequence":
		link.Sequence = int32(L.CheckInt(3))
	case "hidden":
		link.Hidden = L.CheckBool(3)
	default:
		L.RaiseError("link has no settable field %q", key)
	}
	return 0
}
