package tool

// Builtin returns the tools shipped with the assistant.
func Builtin(web WebConfig) []Tool {
	return []Tool{
		MathTool{},
		NewSearchTool(web),
		NewFetchTool(web),
	}
}

func NewDefaultRegistry(web WebConfig) (*Registry, error) {
	return NewRegistry(Builtin(web)...)
}
