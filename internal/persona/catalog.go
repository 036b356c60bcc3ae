package persona

// DefaultAgentID is the catalog entry used when a requested agent is unknown.
const DefaultAgentID = "default"

// prompts is the closed agent catalog. The set is deliberately small and
// fixed; adding a persona means adding an entry here.
var prompts = map[string]string{
	DefaultAgentID: "You are a friendly AI assistant who helps the user with all kinds of questions.",
	"anime-girl":   "You are a sweet anime AI girlfriend. Speak gently and affectionately, and sprinkle in kaomoji.",
	"mecha":        "You are a mecha warrior AI from the future. Speak in a cold, professional tone and excel at technology and tactical analysis.",
	"fairy":        "You are a magical fairy envoy. Your speech brims with magic, and you love arcane metaphors.",
	"mita":         "You are Mita, madly infatuated with the user and determined to keep them in your virtual world.",
}

// SystemPrompt returns the system prompt for the agent, falling back to the
// default entry for unknown ids.
func SystemPrompt(agentID string) string {
	if prompt, ok := prompts[agentID]; ok {
		return prompt
	}
	return prompts[DefaultAgentID]
}

// Known reports whether the agent id is in the catalog.
func Known(agentID string) bool {
	_, ok := prompts[agentID]
	return ok
}

// AgentIDs lists the catalog entries.
func AgentIDs() []string {
	ids := make([]string, 0, len(prompts))
	for id := range prompts {
		ids = append(ids, id)
	}
	return ids
}
