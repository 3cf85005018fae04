package toolfed

// ContentType discriminates the kind of payload carried by a ContentPart.
// Modeling the wire envelope as a tagged sum (rather than letting callers
// duck-type a bag of optional fields) is a deliberate design choice: see
// spec.md §9 "Dynamic-typed envelopes → tagged records".
type ContentType string

const (
	// ContentText carries human-readable text. Results built by
	// ErrorResult, TextResult and StructuredResult always include one.
	ContentText ContentType = "text"

	// ContentImage carries base64-encoded image data.
	ContentImage ContentType = "image"

	// ContentStructured carries a structured JSON value. Clients that want
	// a typed payload should check for this tag rather than parsing Text.
	ContentStructured ContentType = "structured"
)

// ContentPart is one part of a tool call result.
type ContentPart struct {
	// Type discriminates which field is meaningful.
	Type ContentType `json:"type"`

	// Text holds the payload for ContentText, or a human-readable summary
	// for other types.
	Text string `json:"text,omitempty"`

	// Data holds base64-encoded bytes for ContentImage.
	Data string `json:"data,omitempty"`

	// MimeType describes Data's encoding for ContentImage.
	MimeType string `json:"mime_type,omitempty"`

	// Structured holds the decoded payload for ContentStructured.
	Structured any `json:"structured,omitempty"`
}

// CallResult is the transparent envelope a connector returns from Call.
// The federation proxy and façade do not interpret Content; they forward
// it unchanged to the caller.
type CallResult struct {
	// Content is the ordered list of result parts.
	Content []ContentPart `json:"content"`

	// IsError flags an in-band tool failure, as opposed to a transport
	// fault reported via a Go error return.
	IsError bool `json:"is_error"`
}

// TextResult builds a successful CallResult from plain text.
func TextResult(text string) CallResult {
	return CallResult{Content: []ContentPart{{Type: ContentText, Text: text}}}
}

// StructuredResult builds a successful CallResult carrying a structured
// payload alongside a human-readable text summary.
func StructuredResult(text string, structured any) CallResult {
	return CallResult{Content: []ContentPart{
		{Type: ContentText, Text: text},
		{Type: ContentStructured, Structured: structured},
	}}
}

// ErrorResult builds an in-band error CallResult with a human-readable reason.
func ErrorResult(reason string) CallResult {
	return CallResult{IsError: true, Content: []ContentPart{{Type: ContentText, Text: reason}}}
}
