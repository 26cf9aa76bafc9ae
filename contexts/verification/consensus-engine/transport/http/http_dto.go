package http

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type RegisterEvidenceRequest struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	ContentHash string `json:"content_hash"`
	MimeType    string `json:"mime_type,omitempty"`
	MediaType   string `json:"media_type,omitempty"`
}

type ListEvidenceRequest struct {
	UploaderID string
	Status     string
	Limit      int
}

type TallyResponse struct {
	Total    int `json:"total"`
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`
	Flagged  int `json:"flagged"`
}

type EvidenceResponse struct {
	EvidenceID  string        `json:"evidence_id"`
	ContentHash string        `json:"content_hash"`
	Status      string        `json:"status"`
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	MediaType   string        `json:"media_type"`
	UploaderID  string        `json:"uploader_id"`
	CreatedAt   string        `json:"created_at"`
	UpdatedAt   string        `json:"updated_at"`
	Votes       TallyResponse `json:"votes"`
}

type ListEvidenceResponse struct {
	Items []EvidenceResponse `json:"items"`
}

type EvidenceStatusResponse struct {
	EvidenceID string `json:"evidence_id"`
	Status     string `json:"status"`
}

type SubmitVerificationRequest struct {
	Type       string `json:"type,omitempty"`
	Decision   string `json:"decision"`
	Confidence int    `json:"confidence"`
	Comment    string `json:"comment,omitempty"`
}

type VerificationResponse struct {
	VoteID     string `json:"vote_id"`
	EvidenceID string `json:"evidence_id"`
	VerifierID string `json:"verifier_id"`
	Type       string `json:"type"`
	Decision   string `json:"decision"`
	Confidence int    `json:"confidence"`
	Comment    string `json:"comment,omitempty"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

type SubmitVerificationResponse struct {
	Verification   VerificationResponse `json:"verification"`
	PreviousStatus string               `json:"previous_status"`
	Status         string               `json:"status"`
	StatusChanged  bool                 `json:"status_changed"`
	Reason         string               `json:"reason"`
	Votes          TallyResponse        `json:"votes"`
	WasUpdate      bool                 `json:"was_update"`
	Replayed       bool                 `json:"replayed"`
}

type ListVerificationsResponse struct {
	EvidenceID string                 `json:"evidence_id"`
	Status     string                 `json:"status"`
	Votes      TallyResponse          `json:"votes"`
	Items      []VerificationResponse `json:"items"`
}
