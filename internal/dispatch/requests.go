// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package dispatch implements the request dispatcher (section 4.5): decode
// a batch request header, route to a typed handler by request type, run it
// through the cross-cutting middleware chain, and produce a tagged reply.
package dispatch

// RequestType is the closed enum of batch request names (section 4.5's
// verbatim list).
type RequestType string

const (
	Connect       RequestType = "Connect"
	Disconnect    RequestType = "Disconnect"
	Authenticate  RequestType = "Authenticate"
	Cred          RequestType = "Cred"
	QueueJob      RequestType = "QueueJob"
	JobScript     RequestType = "JobScript"
	RdyToCommit   RequestType = "RdyToCommit"
	Commit        RequestType = "Commit"
	DeleteJob     RequestType = "DeleteJob"
	DeleteJobList RequestType = "DeleteJobList"
	HoldJob       RequestType = "HoldJob"
	ReleaseJob    RequestType = "ReleaseJob"

	ModifyJob      RequestType = "ModifyJob"
	ModifyJobAsync RequestType = "ModifyJob_Async"
	MoveJob        RequestType = "MoveJob"
	OrderJob       RequestType = "OrderJob"

	RunJob       RequestType = "RunJob"
	AsyrunJob    RequestType = "AsyrunJob"
	AsyrunJobAck RequestType = "AsyrunJob_ack"

	SignalJob   RequestType = "SignalJob"
	MessageJob  RequestType = "MessageJob"
	PySpawn     RequestType = "PySpawn"
	RelnodesJob RequestType = "RelnodesJob"

	LocateJob   RequestType = "LocateJob"
	TrackJob    RequestType = "TrackJob"
	Rerun       RequestType = "Rerun"
	RegisterDep RequestType = "RegisterDep"

	StatusJob   RequestType = "StatusJob"
	StatusQue   RequestType = "StatusQue"
	StatusSvr   RequestType = "StatusSvr"
	StatusSched RequestType = "StatusSched"

	StatusNode RequestType = "StatusNode"
	StatusRsc  RequestType = "StatusRsc"
	StatusHook RequestType = "StatusHook"
	StatusResv RequestType = "StatusResv"

	SelectJobs RequestType = "SelectJobs"
	SelStat    RequestType = "SelStat"
	Manager    RequestType = "Manager"
	Shutdown   RequestType = "Shutdown"

	Rescq       RequestType = "Rescq"
	ReserveResc RequestType = "ReserveResc"
	ReleaseResc RequestType = "ReleaseResc"

	SubmitResv  RequestType = "SubmitResv"
	ModifyResv  RequestType = "ModifyResv"
	DeleteResv  RequestType = "DeleteResv"
	ConfirmResv RequestType = "ConfirmResv"

	BeginResv    RequestType = "BeginResv"
	ResvOccurEnd RequestType = "ResvOccurEnd"

	CopyFiles     RequestType = "CopyFiles"
	DelFiles      RequestType = "DelFiles"
	CopyFilesCred RequestType = "CopyFiles_Cred"
	DelFilesCred  RequestType = "DelFiles_Cred"

	CopyHookFile RequestType = "CopyHookFile"
	DelHookFile  RequestType = "DelHookFile"
	HookPeriodic RequestType = "HookPeriodic"

	JobObit      RequestType = "JobObit"
	FailOver     RequestType = "FailOver"
	PreemptJobs  RequestType = "PreemptJobs"
	DefSchReply  RequestType = "DefSchReply"
	RegisterSched RequestType = "RegisterSched"
	ModifyVnode  RequestType = "ModifyVnode"
)

// allRequestTypes lists every recognized RequestType, used to validate an
// incoming header's request-type field (section 4.5: "Unknown type ->
// error reply + close").
var allRequestTypes = map[RequestType]struct{}{
	Connect: {}, Disconnect: {}, Authenticate: {}, Cred: {},
	QueueJob: {}, JobScript: {}, RdyToCommit: {}, Commit: {},
	DeleteJob: {}, DeleteJobList: {}, HoldJob: {}, ReleaseJob: {},
	ModifyJob: {}, ModifyJobAsync: {}, MoveJob: {}, OrderJob: {},
	RunJob: {}, AsyrunJob: {}, AsyrunJobAck: {},
	SignalJob: {}, MessageJob: {}, PySpawn: {}, RelnodesJob: {},
	LocateJob: {}, TrackJob: {}, Rerun: {}, RegisterDep: {},
	StatusJob: {}, StatusQue: {}, StatusSvr: {}, StatusSched: {},
	StatusNode: {}, StatusRsc: {}, StatusHook: {}, StatusResv: {},
	SelectJobs: {}, SelStat: {}, Manager: {}, Shutdown: {},
	Rescq: {}, ReserveResc: {}, ReleaseResc: {},
	SubmitResv: {}, ModifyResv: {}, DeleteResv: {}, ConfirmResv: {},
	BeginResv: {}, ResvOccurEnd: {},
	CopyFiles: {}, DelFiles: {}, CopyFilesCred: {}, DelFilesCred: {},
	CopyHookFile: {}, DelHookFile: {}, HookPeriodic: {},
	JobObit: {}, FailOver: {}, PreemptJobs: {}, DefSchReply: {},
	RegisterSched: {}, ModifyVnode: {},
}

// Valid reports whether rt is one of the 61 recognized request types.
func (rt RequestType) Valid() bool {
	_, ok := allRequestTypes[rt]
	return ok
}

// QueueJobBody is QueueJob's request body (original_source's
// batch_request.h rq_queuejob: job attributes plus destination queue),
// field-grounded on §3.1.
type QueueJobBody struct {
	JobID      string
	Queue      string
	Attributes []AttrEntry
}

// AttrEntry is the wire-level (name, resource, value, op) tuple carried in
// many request bodies (section 4.2).
type AttrEntry struct {
	Name     string
	Resource string
	Value    string
	Op       string
}

// DeleteJobListBody carries one or more job IDs and an optional message,
// grounded on rq_deletejoblist's array-of-jobid shape.
type DeleteJobListBody struct {
	JobIDs []string
	Text   string
}

// HoldReleaseBody is shared by HoldJob/ReleaseJob (a job ID plus a hold
// type mask).
type HoldReleaseBody struct {
	JobID    string
	HoldType string
}

// RunJobBody is RunJob/AsyrunJob's body: a job ID, the destination
// exec-vnode string chosen by the scheduler, and the primary/sister MoM
// endpoints the exec fan-out (section 4.9, C8) dials. Sisters is empty
// for a single-vnode job.
type RunJobBody struct {
	JobID     string
	ExecVnode string
	Primary   ExecHost
	Sisters   []ExecHost
}

// SignalJobBody carries a job ID and a signal name.
type SignalJobBody struct {
	JobID  string
	Signal string
}

// JobScriptBody carries JobScript's script body, sent as the second step
// of the QueueJob/JobScript/Commit partial-submit sequence.
type JobScriptBody struct {
	JobID  string
	Script string
}

// JobIDBody is shared by the request types that carry nothing but a job
// ID: Commit, RdyToCommit, Rerun.
type JobIDBody struct {
	JobID string
}

// MoveJobBody carries a job ID and its new destination queue, local or
// remote (a remote destination names the "@host" suffix, section 4.7).
type MoveJobBody struct {
	JobID       string
	Destination string
}

// ModifyJobBody carries a job ID and the attribute changes to merge.
type ModifyJobBody struct {
	JobID      string
	Attributes []AttrEntry
}

// StatusBody is shared by every StatusXxx request: an optional object ID
// (empty selects all) and a requested attribute name list.
type StatusBody struct {
	ObjectID string
	AttrNames []string
}

// ManagerBody is the generic qmgr command body (create/delete/set/unset/
// list across any object type).
type ManagerBody struct {
	Command    string
	ObjectType string
	ObjectName string
	Attributes []AttrEntry
}

// SubmitResvBody is SubmitResv's body (a reservation window plus the
// resource/attribute list).
type SubmitResvBody struct {
	ResvID     string
	Queue      string
	Attributes []AttrEntry
}

// ResvIDBody is shared by the reservation request types that carry
// nothing but a reservation ID: BeginResv, DeleteResv, ResvOccurEnd.
type ResvIDBody struct {
	ResvID string
}

// ConfirmResvBody is ConfirmResv's body: the scheduler's chosen exec-vnode
// and the confirmed occurrence window.
type ConfirmResvBody struct {
	ResvID    string
	ExecVnode string
	StartTime int64
	EndTime   int64
}

// RegisterSchedBody is RegisterSched's body: the connecting scheduler's
// name, used as the Registration key (section 4.6).
type RegisterSchedBody struct {
	Name string
}

// DefSchReplyBody is DefSchReply's body: the scheduler's cycle-close
// verdict for one deferred job (section 4.6).
type DefSchReplyBody struct {
	SchedName string
	JobID     string
	Accept    bool
}

// PreemptJobsBody carries the victim job IDs a scheduler asks the server
// to preempt, plus the priority level selecting which row of the 21-entry
// preempt-order table to try (section 4.6).
type PreemptJobsBody struct {
	SchedName string
	JobIDs    []string
	Priority  int
}

// JobObitBody is JobObit's body: the mother MoM reporting a job's final
// exit status (section 4.9).
type JobObitBody struct {
	JobID      string
	ExitStatus int
}

// Request is the decoded, typed batch request the dispatcher hands to a
// Handler.
type Request struct {
	Type RequestType
	User string
	Body any
}
