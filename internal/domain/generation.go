package domain

// GenerationRequest is the provider-neutral instruction sent to a text generator.
type GenerationRequest struct {
	System string
	Prompt string
	// JSONOutput asks the provider to constrain its reply to a JSON object.
	JSONOutput bool
}
