// Package guard defines the write-guard decision vocabulary.
package guard

// Action is the guard's verdict on a proposed write.
type Action string

const (
	ActionAdd    Action = "ADD"
	ActionUpdate Action = "UPDATE"
	ActionNoop   Action = "NOOP"
	ActionDelete Action = "DELETE"
	ActionBypass Action = "BYPASS"
)

// Method tags which classifier produced the verdict.
type Method string

const (
	MethodEmbedding Method = "embedding"
	MethodKeyword   Method = "keyword"
	MethodLLM       Method = "llm"
	MethodBypass    Method = "bypass"
	MethodFallback  Method = "fallback"
)

// Verdict is the guard's full decision for one proposed write.
type Verdict struct {
	Action     Action  `json:"action"`
	TargetID   string  `json:"target_id,omitempty"`
	TargetURI  string  `json:"target_uri,omitempty"`
	Method     Method  `json:"method"`
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
}

// Add returns the default verdict when no duplicate signal was found.
func Add(method Method, reason string, confidence float64) Verdict {
	return Verdict{Action: ActionAdd, Method: method, Reason: reason, Confidence: confidence}
}

// Bypass returns the verdict for metadata-only updates, which skip the
// decision ladder entirely.
func Bypass() Verdict {
	return Verdict{Action: ActionBypass, Method: MethodBypass, Reason: "metadata-only update", Confidence: 1.0}
}
