package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/paddock/pkg/domain"
)

// TemplateRef addresses one template with a machine count in an acquire
// order
type TemplateRef struct {
	TemplateID     string            `json:"templateId"`
	MachineCount   int               `json:"machineCount"`
	TimeoutSeconds int               `json:"timeout,omitempty"`
	Tags           map[string]string `json:"tags,omitempty"`
}

// RequestRef addresses one request in a status poll
type RequestRef struct {
	RequestID string `json:"requestId"`
}

// MachineRef addresses one machine in a return order
type MachineRef struct {
	MachineID string `json:"machineId"`
	Name      string `json:"name,omitempty"`
}

// Input is the scheduler-facing input envelope. Each operation reads the
// fields it needs and ignores the rest.
type Input struct {
	Template      *TemplateRef `json:"template,omitempty"`
	Requests      []RequestRef `json:"requests,omitempty"`
	Machines      []MachineRef `json:"machines,omitempty"`
	All           bool         `json:"all,omitempty"`
	Long          bool         `json:"long,omitempty"`
	CorrelationID string       `json:"correlationId,omitempty"`
}

// Metadata rides on every response
type Metadata struct {
	CorrelationID string `json:"correlation_id,omitempty"`
	Timestamp     string `json:"timestamp,omitempty"`
	RequestID     string `json:"request_id,omitempty"`
	ErrorType     string `json:"error_type,omitempty"`
}

// MachineReport is the scheduler-facing view of one machine
type MachineReport struct {
	MachineID        string `json:"machineId"`
	Name             string `json:"name"`
	Status           string `json:"status"`
	InstanceType     string `json:"instanceType,omitempty"`
	PrivateIPAddress string `json:"privateIpAddress,omitempty"`
	PublicIPAddress  string `json:"publicIpAddress,omitempty"`
	Result           string `json:"result"`
	LaunchTime       int64  `json:"launchtime"`
	Message          string `json:"message,omitempty"`
}

// RequestReport is the scheduler-facing view of one request
type RequestReport struct {
	RequestID   string          `json:"requestId"`
	Status      string          `json:"status"`
	Message     string          `json:"message,omitempty"`
	Machines    []MachineReport `json:"machines,omitempty"`
	GracePeriod int             `json:"gracePeriod,omitempty"`
}

// RequestError is one per-request failure inside a multi-request operation
type RequestError struct {
	RequestID string `json:"requestId"`
	Message   string `json:"message"`
	ErrorType string `json:"error_type"`
}

// TemplateReport is the scheduler-facing view of one template
type TemplateReport struct {
	domain.Template
	ResolvedImageID string `json:"resolvedImageId,omitempty"`
}

// Output is the scheduler-facing output envelope. Success carries the
// operation payload; failure carries Error and Message only.
type Output struct {
	Templates []TemplateReport `json:"templates,omitempty"`
	RequestID *string          `json:"requestId,omitempty"`
	Requests  []RequestReport  `json:"requests,omitempty"`
	Errors    []RequestError   `json:"errors,omitempty"`
	Message   string           `json:"message,omitempty"`

	Error    string   `json:"error,omitempty"`
	Metadata Metadata `json:"metadata"`
}

// successMetadata stamps the response metadata for a successful operation
func successMetadata(correlationID, requestID string) Metadata {
	return Metadata{
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		RequestID:     requestID,
	}
}

// errorOutput renders an error as the failure envelope with its stable
// error type tag
func errorOutput(correlationID string, err error) *Output {
	return &Output{
		Error:   err.Error(),
		Message: err.Error(),
		Metadata: Metadata{
			CorrelationID: correlationID,
			ErrorType:     domain.ErrorType(err),
		},
	}
}

// machineReport renders one machine
func machineReport(m *domain.Machine) MachineReport {
	name := m.Name
	if name == "" {
		name = m.ID
	}
	report := MachineReport{
		MachineID:        m.ID,
		Name:             name,
		Status:           string(m.Status),
		InstanceType:     m.Type,
		PrivateIPAddress: m.PrivateIP,
		PublicIPAddress:  m.PublicIP,
		Result:           m.Result(),
		LaunchTime:       m.LaunchedAt.Unix(),
	}
	if reason, ok := m.StatusReasons[string(m.Status)]; ok {
		report.Message = reason
	}
	return report
}

// requestReport renders one request with its machines
func requestReport(req *domain.Request, machines []*domain.Machine) RequestReport {
	report := RequestReport{
		RequestID: req.ID,
		Status:    string(req.Status),
		Message:   req.Message,
	}
	for _, m := range machines {
		report.Machines = append(report.Machines, machineReport(m))
	}
	return report
}

// newCorrelationID fills a correlation id when the scheduler sent none
func newCorrelationID(in *Input) string {
	if in != nil && in.CorrelationID != "" {
		return in.CorrelationID
	}
	return uuid.NewString()
}
