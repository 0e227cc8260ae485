package event

import "encoding/json"

// PredictionNA is the sentinel prediction emitted when the model could not
// score an event.
const PredictionNA = "N/A"

// Envelope is the payload shape carried on the classification stream.
// Prediction is either an integer in {0, 1} or the PredictionNA sentinel.
type Envelope struct {
	EventData  json.RawMessage `json:"event_data"`
	Prediction any             `json:"prediction"`
	Score      float64         `json:"score"`
}

// Spam reports whether the envelope carries a positive spam verdict.
func (e Envelope) Spam() bool {
	switch p := e.Prediction.(type) {
	case int:
		return p == 1
	case float64:
		return p == 1
	case json.Number:
		return p.String() == "1"
	default:
		return false
	}
}
