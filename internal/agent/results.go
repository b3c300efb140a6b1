package agent

// Per-node result payloads (§4.7 "Per-node contracts"). Each is
// marshalled into wire.AgentUpdateData.Payload and persisted as-is via
// PersistenceGateway.AgentResultWrite.

type SummarizeResult struct {
	Summary      string `json:"summary"`
	CustomerIssue string `json:"customer_issue"`
	AgentAction  string `json:"agent_action"`
}

type IntentResult struct {
	IntentLabel string  `json:"intent_label"`
	Confidence  float64 `json:"confidence"`
	Explanation string  `json:"explanation"`
}

type SentimentResult struct {
	SentimentLabel string  `json:"sentiment_label"`
	SentimentScore float64 `json:"sentiment_score"`
	Explanation    string  `json:"explanation"`
}

type DraftReplyResult struct {
	ShortReply string   `json:"short_reply"`
	Keywords   []string `json:"keywords"`
}

type RiskResult struct {
	RiskFlags   []string `json:"risk_flags"`
	Explanation string   `json:"explanation"`
}

type FAQResult struct {
	FAQs    []FAQEntry `json:"faqs"`
	CacheHit bool      `json:"cache_hit"`
}

type FAQEntry struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

type RAGPolicyResult struct {
	Recommendations []PolicyRecommendation `json:"recommendations"`
	Skipped         bool                   `json:"skipped"`
}

type PolicyRecommendation struct {
	Title          string                 `json:"title"`
	Content        string                 `json:"content"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	RelevanceScore float64                `json:"relevance_score"`
}

// knownIntents lists intent labels this package recognises. Nothing
// reads it, and the intent prompt does not restrict the model's
// intent_label to this set.
var knownIntents = []string{"plan inquiry", "cancel", "membership", "billing", "technical_support", "general"}

// intentConfidenceFloor gates rag_policy (§4.7: "skipped=true if
// intent is below a confidence floor").
const intentConfidenceFloor = 0.45
