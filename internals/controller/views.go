package controller

// ActionResult is what executing one action reports back to the agent.
type ActionResult struct {
	IsDone           bool   `json:"is_done,omitempty"`
	Success          *bool  `json:"success,omitempty"`
	ExtractedContent string `json:"extracted_content,omitempty"`
	Error            string `json:"error,omitempty"`
	IncludeInMemory  bool   `json:"include_in_memory"`
}

func NewActionResult() *ActionResult {
	return &ActionResult{}
}

type DoneAction struct {
	Text    string `json:"text" jsonschema:"description=final answer or summary of what was achieved,required"`
	Success bool   `json:"success" jsonschema:"description=true only when the whole task is finished,required"`
}
