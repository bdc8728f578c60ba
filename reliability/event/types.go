package event

// SchemaVersion is the envelope schema version stamped on new events.
const SchemaVersion = "1"

// Event types emitted across the platform.
const (
	TypeStoryStepCompleted         = "story_step_completed"
	TypeStoryCompleted             = "story_completed"
	TypeStoryFailed                = "story_failed"
	TypeEpicCompleted              = "epic_completed"
	TypeComplianceCheckPassed      = "compliance_check_passed"
	TypeAPICallSuccess             = "api_call_success"
	TypeAASCreated                 = "aas_created"
	TypeAASUpdated                 = "aas_updated"
	TypeAASSubmodelAdded           = "aas_submodel_added"
	TypeAASSubmodelPatched         = "aas_submodel_patched"
	TypeAASXUploaded               = "aasx_uploaded"
	TypeEDCNegotiationCompleted    = "edc_negotiation_completed"
	TypeEDCTransferCompleted       = "edc_transfer_completed"
	TypeEDCNegotiationStateChanged = "edc_negotiation_state_changed"
	TypeEDCTransferStateChanged    = "edc_transfer_state_changed"
	TypeGapReported                = "gap_reported"
)

// DefaultSourceService is used when an event is built without a source.
const DefaultSourceService = "unknown"
