package approval

// StateInfo is display metadata for an artifact status. It carries no logic;
// UIs render it verbatim.
type StateInfo struct {
	Label       string `json:"label"`
	Color       string `json:"color"`
	Description string `json:"description"`
}

// ApprovalStatusInfo is display metadata for an approval status.
type ApprovalStatusInfo struct {
	Label string `json:"label"`
	Color string `json:"color"`
}

var stateInfo = map[ArtifactStatus]StateInfo{
	StatusDraft:         {Label: "Draft", Color: "gray", Description: "Being edited, not yet submitted"},
	StatusGenerating:    {Label: "Generating", Color: "blue", Description: "Content generation in progress"},
	StatusGenerated:     {Label: "Generated", Color: "blue", Description: "Content generated, awaiting edits"},
	StatusPendingReview: {Label: "Pending Review", Color: "yellow", Description: "Awaiting approver decision"},
	StatusApproved:      {Label: "Approved", Color: "green", Description: "Approved, ready to publish"},
	StatusRejected:      {Label: "Rejected", Color: "red", Description: "Rejected by an approver"},
	StatusPublished:     {Label: "Published", Color: "green", Description: "Live"},
	StatusArchived:      {Label: "Archived", Color: "gray", Description: "No longer active"},
}

var approvalStatusInfo = map[ApprovalStatus]ApprovalStatusInfo{
	ApprovalPending:       {Label: "Pending", Color: "yellow"},
	ApprovalApproved:      {Label: "Approved", Color: "green"},
	ApprovalRejected:      {Label: "Rejected", Color: "red"},
	ApprovalNeedsRevision: {Label: "Needs Revision", Color: "orange"},
}

// GetStateInfo returns display metadata for an artifact status. Unknown
// statuses get a generic entry rather than an error.
func GetStateInfo(status ArtifactStatus) StateInfo {
	if info, ok := stateInfo[status]; ok {
		return info
	}
	return StateInfo{Label: string(status), Color: "gray", Description: "Unknown status"}
}

// GetApprovalStatusInfo returns display metadata for an approval status.
func GetApprovalStatusInfo(status ApprovalStatus) ApprovalStatusInfo {
	if info, ok := approvalStatusInfo[status]; ok {
		return info
	}
	return ApprovalStatusInfo{Label: string(status), Color: "gray"}
}
