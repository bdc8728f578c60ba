package protocol

// Negotiation states.
const (
	NegotiationInitial    State = "INITIAL"
	NegotiationRequesting State = "REQUESTING"
	NegotiationRequested  State = "REQUESTED"
	NegotiationOffered    State = "OFFERED"
	NegotiationAccepted   State = "ACCEPTED"
	NegotiationAgreed     State = "AGREED"
	NegotiationVerified   State = "VERIFIED"
	NegotiationFinalized  State = "FINALIZED"
	NegotiationTerminated State = "TERMINATED"
)

// Transfer states.
const (
	TransferInitial      State = "INITIAL"
	TransferProvisioning State = "PROVISIONING"
	TransferProvisioned  State = "PROVISIONED"
	TransferRequesting   State = "REQUESTING"
	TransferRequested    State = "REQUESTED"
	TransferStarted      State = "STARTED"
	TransferCompleted    State = "COMPLETED"
	TransferTerminated   State = "TERMINATED"
)

// NegotiationMachine is the contract negotiation table.
var NegotiationMachine = mustMachine("negotiation", NegotiationInitial, map[State][]State{
	NegotiationInitial:    {NegotiationRequesting},
	NegotiationRequesting: {NegotiationRequested, NegotiationTerminated},
	NegotiationRequested:  {NegotiationOffered, NegotiationTerminated},
	NegotiationOffered:    {NegotiationAccepted, NegotiationTerminated},
	NegotiationAccepted:   {NegotiationAgreed},
	NegotiationAgreed:     {NegotiationVerified},
	NegotiationVerified:   {NegotiationFinalized},
}, NegotiationFinalized, NegotiationTerminated)

// TransferMachine is the transfer process table.
var TransferMachine = mustMachine("transfer", TransferInitial, map[State][]State{
	TransferInitial:      {TransferProvisioning},
	TransferProvisioning: {TransferProvisioned, TransferTerminated},
	TransferProvisioned:  {TransferRequesting},
	TransferRequesting:   {TransferRequested, TransferTerminated},
	TransferRequested:    {TransferStarted, TransferTerminated},
	TransferStarted:      {TransferCompleted, TransferTerminated},
}, TransferCompleted, TransferTerminated)

// NegotiationActions maps negotiation verbs to their target states. Every
// verb except terminate is subject to the usage policy.
var NegotiationActions = mustRegistry(NegotiationMachine,
	Action{Name: "request", Target: NegotiationRequesting, CheckPolicy: true},
	Action{Name: "requested", Target: NegotiationRequested, CheckPolicy: true},
	Action{Name: "offer", Target: NegotiationOffered, CheckPolicy: true},
	Action{Name: "accept", Target: NegotiationAccepted, CheckPolicy: true},
	Action{Name: "agree", Target: NegotiationAgreed, CheckPolicy: true},
	Action{Name: "verify", Target: NegotiationVerified, CheckPolicy: true},
	Action{Name: "finalize", Target: NegotiationFinalized, CheckPolicy: true},
	Action{Name: "terminate", Target: NegotiationTerminated},
)

// TransferActions maps transfer verbs to their target states.
var TransferActions = mustRegistry(TransferMachine,
	Action{Name: "provision", Target: TransferProvisioning},
	Action{Name: "provisioned", Target: TransferProvisioned},
	Action{Name: "request", Target: TransferRequesting},
	Action{Name: "requested", Target: TransferRequested},
	Action{Name: "start", Target: TransferStarted},
	Action{Name: "complete", Target: TransferCompleted},
	Action{Name: "terminate", Target: TransferTerminated},
)
