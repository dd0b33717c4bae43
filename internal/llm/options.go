package llm

import "encoding/json"

const (
	DefaultTemperature = 0.7
	DefaultNumPredict  = 2048
)

// Options are the sampling parameters sent with a generation request.
// Extra carries additional scalar parameters (top_k, seed, stop, ...);
// non-scalar values are dropped when encoding.
type Options struct {
	Temperature float64
	NumPredict  int
	Extra       map[string]interface{}
}

// DefaultOptions returns the generation defaults used by the chat engine.
func DefaultOptions() *Options {
	return &Options{Temperature: DefaultTemperature, NumPredict: DefaultNumPredict}
}

// MarshalJSON flattens Options into the single object Ollama expects.
// The named fields win over identically named Extra keys.
func (o Options) MarshalJSON() ([]byte, error) {
	m := make(map[string]interface{}, len(o.Extra)+2)
	for k, v := range o.Extra {
		if isScalar(v) {
			m[k] = v
		}
	}
	m["temperature"] = o.Temperature
	m["num_predict"] = o.NumPredict
	return json.Marshal(m)
}

func isScalar(v interface{}) bool {
	switch v.(type) {
	case string, bool, json.Number,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	default:
		return false
	}
}
