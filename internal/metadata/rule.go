package metadata

// Rule types.
const (
	RuleField      = "field"
	RuleExpression = "expression"
)

// Rule is a write-time validation attached to a content type.
//
// Field rules compare one attribute with Operator (min, max, min_length,
// max_length, pattern). Expression rules are violated when Expression
// evaluates to true against {record, old, action}.
type Rule struct {
	Type       string `json:"type"`
	Field      string `json:"field,omitempty"`
	Operator   string `json:"operator,omitempty"`
	Value      any    `json:"value,omitempty"`
	Expression string `json:"expression,omitempty"`
	Message    string `json:"message,omitempty"`
	StopOnFail bool   `json:"stop_on_fail,omitempty"`
}
