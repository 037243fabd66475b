package llm

// ModelInfo describes one model in the catalog exposed to clients.
type ModelInfo struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	ContextWindow int    `json:"contextWindow"`
	Speed         string `json:"speed"`
	Cost          string `json:"cost"`
}

// GroqModels is the catalog of models served through the default provider.
var GroqModels = []ModelInfo{
	{
		ID:            "llama-3.1-70b-versatile",
		Name:          "Llama 3.1 70B Versatile",
		Description:   "High-quality model for general conversations",
		ContextWindow: 128000,
		Speed:         "medium",
		Cost:          "medium",
	},
	{
		ID:            "mixtral-8x7b-32768",
		Name:          "Mixtral 8x7B",
		Description:   "Fast and efficient for quick responses",
		ContextWindow: 32768,
		Speed:         "fast",
		Cost:          "low",
	},
	{
		ID:            "llama-3.1-8b-instant",
		Name:          "Llama 3.1 8B Instant",
		Description:   "Ultra-fast responses for casual chat",
		ContextWindow: 131072,
		Speed:         "fast",
		Cost:          "low",
	},
	{
		ID:            "gemma-7b-it",
		Name:          "Gemma 7B",
		Description:   "Google's efficient model",
		ContextWindow: 8192,
		Speed:         "fast",
		Cost:          "low",
	},
}

// RecommendedModel picks a model for the caller's subscription tier when the
// request names none.
func RecommendedModel(tier string) string {
	switch tier {
	case "premium":
		return "llama-3.1-70b-versatile"
	default:
		return "llama-3.1-8b-instant"
	}
}
