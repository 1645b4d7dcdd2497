package ai

// GenerateRequest is a single prompt over one uploaded media file.
type GenerateRequest struct {
	FileURI  string
	MIMEType string
	Prompt   string
}

// Part is one content part of the first candidate. Thought parts carry the
// model's internal reasoning.
type Part struct {
	Text    string
	Thought bool
}
