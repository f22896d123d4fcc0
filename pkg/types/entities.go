package types

import "time"

// Person is a contact or team member attached to a client or case.
type Person struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Role  string `json:"role,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Client is the master record of a client entity as served by the master
// entity store collaborator.
type Client struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	Name         string    `json:"name"`
	LegalForm    string    `json:"legal_form,omitempty"`
	Industry     string    `json:"industry,omitempty"`
	Jurisdiction string    `json:"jurisdiction,omitempty"`
	Status       string    `json:"status,omitempty"`
	People       []Person  `json:"people,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Case is the master record of a case entity. Every case belongs to exactly
// one client.
type Case struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	ClientID  string    `json:"client_id"`
	Title     string    `json:"title"`
	Matter    string    `json:"matter,omitempty"`
	Stage     string    `json:"stage,omitempty"`
	Status    string    `json:"status,omitempty"`
	Team      []Person  `json:"team,omitempty"`
	OpenedAt  time.Time `json:"opened_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Document is a stored document as served by the document store collaborator.
type Document struct {
	ID               string    `json:"id"`
	TenantID         string    `json:"tenant_id"`
	FileName         string    `json:"file_name"`
	Kind             string    `json:"kind,omitempty"`
	ExtractionStatus string    `json:"extraction_status,omitempty"`
	Summary          string    `json:"summary,omitempty"`
	Content          string    `json:"content,omitempty"`
	UploadedAt       time.Time `json:"uploaded_at"`
}

// Email is a single email message as served by the communication store.
type Email struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	Subject    string    `json:"subject"`
	From       string    `json:"from"`
	To         []string  `json:"to,omitempty"`
	Snippet    string    `json:"snippet,omitempty"`
	Body       string    `json:"body,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// Thread is a conversation thread summary as served by the communication store.
type Thread struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	Topic        string    `json:"topic"`
	Summary      string    `json:"summary,omitempty"`
	MessageCount int       `json:"message_count"`
	LastActivity time.Time `json:"last_activity"`
}
