package app

// PromptState is the question the prompt is currently showing.
type PromptState int

const (
	AskOutputDir PromptState = iota
	AskSelection
	Done
	Cancelled
)
