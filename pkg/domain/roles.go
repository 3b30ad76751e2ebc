package domain

// Role is the client-selected screen persona. It is a label, not a security boundary.
type Role string

// Known roles.
const (
	RoleReceptionist      Role = "receptionist"
	RoleDoctor            Role = "doctor"
	RoleClinicalAssistant Role = "clinicalAssistant"
	RolePatient           Role = "patient"
)

// Roles lists the known roles in display order.
var Roles = []Role{RoleReceptionist, RoleDoctor, RoleClinicalAssistant, RolePatient}

var roleLabels = map[Role]string{
	RoleReceptionist:      "Receptionist",
	RoleDoctor:            "Doctor",
	RoleClinicalAssistant: "Clinical Assistant",
	RolePatient:           "Patient",
}

// Known reports whether r is one of the four roles.
func (r Role) Known() bool {
	_, ok := roleLabels[r]
	return ok
}

// Label returns the display label, or "Unknown Role".
func (r Role) Label() string {
	if label, ok := roleLabels[r]; ok {
		return label
	}
	return "Unknown Role"
}

// AssessmentKind names one of the fixed assessment slots.
type AssessmentKind string

// Assessment kinds.
const (
	AssessmentPRS          AssessmentKind = "prs"
	AssessmentFNON         AssessmentKind = "fnon"
	AssessmentEEG          AssessmentKind = "eeg"
	AssessmentBrainMapping AssessmentKind = "brainMapping"
)

// AssessmentKinds lists every slot in summary order.
var AssessmentKinds = []AssessmentKind{AssessmentPRS, AssessmentFNON, AssessmentEEG, AssessmentBrainMapping}

// PlanPrerequisites are the assessments a doctor completes before authoring a plan.
// EEG is recorded separately and is not part of the gate.
var PlanPrerequisites = []AssessmentKind{AssessmentFNON, AssessmentPRS, AssessmentBrainMapping}

var assessmentLabels = map[AssessmentKind]string{
	AssessmentPRS:          "PRS",
	AssessmentFNON:         "FNON",
	AssessmentEEG:          "EEG",
	AssessmentBrainMapping: "Brain Mapping",
}

// ParseAssessmentKind resolves a slot name, rejecting unknown kinds.
func ParseAssessmentKind(s string) (AssessmentKind, bool) {
	kind := AssessmentKind(s)
	_, ok := assessmentLabels[kind]
	return kind, ok
}

// Label returns the display label for the kind.
func (k AssessmentKind) Label() string {
	if label, ok := assessmentLabels[k]; ok {
		return label
	}
	return string(k)
}

// Device is a neuromodulation device.
type Device string

// Devices available for plans and sessions.
const (
	DeviceTPS  Device = "TPS"
	DeviceTDCS Device = "tDCS"
	DeviceTACS Device = "tACS"
)

// Devices lists the supported devices.
var Devices = []Device{DeviceTPS, DeviceTDCS, DeviceTACS}
