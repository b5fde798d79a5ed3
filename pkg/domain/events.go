package domain

// Guidance is a typed AI guidance instruction for the consuming layer.
// TimeoutSeconds is advisory only; the consumer uses it to auto-dismiss UI.
type Guidance struct {
	Kind             string `json:"type"`
	Text             string `json:"textContent"`
	Audio            string `json:"audioContent,omitempty"`
	ExpectedResponse string `json:"expectedResponse,omitempty"`
	TargetBodyPart   string `json:"targetBodyPart,omitempty"`
	TimeoutSeconds   int    `json:"timeout,omitempty"`
}

// Detection is a typed AI detection event. Timestamp is epoch milliseconds.
type Detection struct {
	Kind       string  `json:"type"`
	Label      string  `json:"detected"`
	Confidence float64 `json:"confidence"`
	Timestamp  int64   `json:"timestamp"`
}

// AIResponse is a conversational response from the AI service.
type AIResponse struct {
	Text  string `json:"textContent"`
	Audio string `json:"audioContent,omitempty"`
}

// AnalysisProgress reports a step of the post-session analysis pipeline.
type AnalysisProgress struct {
	Step       string `json:"step"`
	Percentage int    `json:"percentage"`
	Message    string `json:"message,omitempty"`
}

// AnalysisComplete signals that the analysis result is available for fetch.
type AnalysisComplete struct {
	ResultID string `json:"resultId,omitempty"`
	Summary  string `json:"summary,omitempty"`
}
